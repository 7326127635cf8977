package repository

import (
	"context"
	"time"

	"kiosk-control-plane/backend/internal/kiosksession/domain"
)

// Repository defines persistence for kiosk sessions. GetByID returns (nil, nil) when missing.
type Repository interface {
	// CreateFromCode promotes a code into a session in one atomic step: the code moves from
	// PENDING/ACTIVE to USED (only if it has not expired at now) and s is inserted.
	// Returns false, with nothing written, when the code was not usable.
	CreateFromCode(ctx context.Context, s *domain.Session, now time.Time) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByRole(ctx context.Context, roleID string, now time.Time) ([]*domain.Session, error)
	CountActiveByCode(ctx context.Context, codeID string, now time.Time) (int, error)
	CountActiveByRole(ctx context.Context, roleID string, now time.Time) (int, error)
	// End terminates an open session. Returns false if it is missing or already ended.
	End(ctx context.Context, id string, at time.Time, actorID, reason string) (bool, error)
	// EndAllForCode terminates every open session of the code and returns the sessions it ended.
	EndAllForCode(ctx context.Context, codeID string, at time.Time, actorID, reason string) ([]*domain.Session, error)
	// EndExpired terminates every open session with expires_at <= now and returns them.
	EndExpired(ctx context.Context, now time.Time, actorID, reason string) ([]*domain.Session, error)
	// Touch sets last_active_at on an open session. Returns false if it is missing or ended.
	Touch(ctx context.Context, id string, at time.Time) (bool, error)
}
