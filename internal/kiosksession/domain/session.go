package domain

import "time"

// Termination reasons recorded on ended sessions.
const (
	ReasonExpired = "expired"
	ReasonOwner   = "terminated_by_owner"
	ReasonCode    = "code_terminated"

	// ReasonTokenFailed ends a session whose device token could not be signed.
	ReasonTokenFailed = "token_issue_failed"
)

// SystemActor is recorded as TerminatedBy when the service itself ends a session.
const SystemActor = "system"

// Session is one kiosk device connection created by consuming a code. Its lifetime is fixed
// at creation; heartbeats only move LastActiveAt.
type Session struct {
	ID                string
	CodeID            string
	RoleID            string
	DeviceID          string
	StartedAt         time.Time
	LastActiveAt      time.Time
	ExpiresAt         time.Time
	EndedAt           *time.Time // set once, never cleared
	TerminatedBy      string
	TerminationReason string
	IPAddress         string
	UserAgent         string
}

// Ended reports whether the session has been terminated.
func (s *Session) Ended() bool { return s.EndedAt != nil }

// Active reports whether the session is open and within its lifetime at now.
func (s *Session) Active(now time.Time) bool {
	return s.EndedAt == nil && s.ExpiresAt.After(now)
}
