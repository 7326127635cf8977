package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"kiosk-control-plane/backend/internal/kiosksession/domain"
	sessionservice "kiosk-control-plane/backend/internal/kiosksession/service"
	"kiosk-control-plane/backend/internal/platform/apierror"
	"kiosk-control-plane/backend/internal/security"
)

const bearerPrefix = "bearer "

// OwnerTokenValidator validates owner access tokens.
type OwnerTokenValidator interface {
	ValidateOwner(token string) (userID, roleID string, err error)
}

// DeviceTokenValidator validates kiosk device tokens.
type DeviceTokenValidator interface {
	ValidateDevice(token string) (*security.DeviceIdentity, error)
}

// SessionValidator checks that a kiosk session is still open.
type SessionValidator interface {
	ValidateSession(ctx context.Context, sessionID string) (*domain.Session, error)
}

// OwnerAuth requires a valid owner Bearer token and sets user_id and role_id in the request context.
func OwnerAuth(tokens OwnerTokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "missing or invalid authorization")
			return
		}
		userID, roleID, err := tokens.ValidateOwner(token)
		if err != nil {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "missing or invalid authorization")
			return
		}
		c.Request = c.Request.WithContext(WithOwner(c.Request.Context(), userID, roleID))
		c.Next()
	}
}

// DeviceAuth requires a valid device Bearer token whose session is still open. The session is
// checked on every request so a terminated kiosk loses access immediately, even though its token
// has not expired.
func DeviceAuth(tokens DeviceTokenValidator, sessions SessionValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearer(c.GetHeader("Authorization"))
		if token == "" {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "missing or invalid authorization")
			return
		}
		id, err := tokens.ValidateDevice(token)
		if err != nil {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "missing or invalid authorization")
			return
		}
		s, err := sessions.ValidateSession(c.Request.Context(), id.SessionID)
		switch {
		case errors.Is(err, sessionservice.ErrSessionNotFound):
			apierror.Abort(c, http.StatusUnauthorized, "session_not_found", err.Error())
			return
		case errors.Is(err, sessionservice.ErrSessionTerminated):
			apierror.Abort(c, http.StatusUnauthorized, "session_terminated", err.Error())
			return
		case errors.Is(err, sessionservice.ErrSessionExpired):
			apierror.Abort(c, http.StatusUnauthorized, "session_expired", err.Error())
			return
		case err != nil:
			_ = c.Error(err)
			apierror.Abort(c, http.StatusInternalServerError, apierror.CodeInternal, "failed to validate session")
			return
		}
		if s.DeviceID != id.DeviceID {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "token does not belong to this device")
			return
		}
		c.Request = c.Request.WithContext(WithSession(c.Request.Context(), s))
		c.Next()
	}
}

// extractBearer returns the Bearer token from an Authorization header value, or "" if missing or malformed.
func extractBearer(header string) string {
	v := strings.TrimSpace(header)
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
