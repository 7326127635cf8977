package repository

import (
	"context"

	"kiosk-control-plane/backend/internal/identity/domain"
)

// Directory resolves people for scope checks. The people and group_members tables are owned by
// the identity service; this side only reads them.
type Directory interface {
	// GetPerson returns the person with their group ids, or nil if not found.
	GetPerson(ctx context.Context, personID string) (*domain.Person, error)
}
