package rbac

import (
	"context"
	"errors"

	"kiosk-control-plane/backend/internal/server/middleware"
)

var (
	// ErrUnauthenticated means the request carried no owner identity.
	ErrUnauthenticated = errors.New("owner authentication required")
	// ErrForbidden means the resource belongs to another role.
	ErrForbidden = errors.New("resource belongs to another role")
)

// RequireOwner ensures the caller is an authenticated owner.
// Returns (roleID, userID, nil) on success; ErrUnauthenticated otherwise.
func RequireOwner(ctx context.Context) (roleID, userID string, err error) {
	roleID, okRole := middleware.GetRoleID(ctx)
	userID, okUser := middleware.GetUserID(ctx)
	if !okRole || roleID == "" || !okUser || userID == "" {
		return "", "", ErrUnauthenticated
	}
	return roleID, userID, nil
}

// RequireRole ensures the caller is an authenticated owner of resourceRoleID.
func RequireRole(ctx context.Context, resourceRoleID string) (userID string, err error) {
	roleID, userID, err := RequireOwner(ctx)
	if err != nil {
		return "", err
	}
	if roleID != resourceRoleID {
		return "", ErrForbidden
	}
	return userID, nil
}
