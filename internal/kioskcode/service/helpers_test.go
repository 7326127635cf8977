package service

import (
	"time"

	sessiondomain "kiosk-control-plane/backend/internal/kiosksession/domain"
)

func newSessionFor(codeID string, at time.Time) *sessiondomain.Session {
	return &sessiondomain.Session{
		ID:           "sess-" + codeID,
		CodeID:       codeID,
		DeviceID:     "tablet",
		StartedAt:    at,
		LastActiveAt: at,
		ExpiresAt:    at.Add(24 * time.Hour),
	}
}
