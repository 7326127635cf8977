package repository

import (
	"context"
	"time"

	"kiosk-control-plane/backend/internal/kioskcode/domain"
)

// Repository defines persistence for kiosk codes. Getters return (nil, nil) when the code does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Code, error)
	GetBySecretHash(ctx context.Context, secretHash string) (*domain.Code, error)
	ListByRole(ctx context.Context, roleID string) ([]*domain.Code, error)
	// CountActive counts PENDING/ACTIVE codes of the role that have not expired at now.
	CountActive(ctx context.Context, roleID string, now time.Time) (int, error)
	// CreateWithinLimit inserts c only if the role holds fewer than limit active codes at now.
	// The count and insert are serialized per role. Returns false when the limit is reached.
	CreateWithinLimit(ctx context.Context, c *domain.Code, limit int, now time.Time) (bool, error)
	// Revoke moves a usable code to REVOKED. Returns false when the code is missing, terminal, or expired.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// ExpireStale moves every PENDING/ACTIVE code with expires_at <= now to EXPIRED and returns how many changed.
	ExpireStale(ctx context.Context, now time.Time) (int, error)
}
