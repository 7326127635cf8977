package middleware

import (
	"context"

	"kiosk-control-plane/backend/internal/kiosksession/domain"
)

type contextKey struct{ name string }

var (
	userIDKey  = contextKey{"user_id"}
	roleIDKey  = contextKey{"role_id"}
	sessionKey = contextKey{"kiosk_session"}
)

// WithOwner returns a context carrying the authenticated owner's user and role.
func WithOwner(ctx context.Context, userID, roleID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	ctx = context.WithValue(ctx, roleIDKey, roleID)
	return ctx
}

// GetUserID returns the user_id from context and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(userIDKey).(string)
	return v, ok
}

// GetRoleID returns the role_id from context and true if set; otherwise "", false.
func GetRoleID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleIDKey).(string)
	return v, ok
}

// WithSession returns a context carrying the validated kiosk session.
func WithSession(ctx context.Context, s *domain.Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// GetSession returns the kiosk session set by DeviceAuth, or nil.
func GetSession(ctx context.Context) *domain.Session {
	s, _ := ctx.Value(sessionKey).(*domain.Session)
	return s
}
