// Package server builds the HTTP router and runs the HTTP server.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	completionhandler "kiosk-control-plane/backend/internal/completion/handler"
	healthhandler "kiosk-control-plane/backend/internal/health/handler"
	codehandler "kiosk-control-plane/backend/internal/kioskcode/handler"
	sessionhandler "kiosk-control-plane/backend/internal/kiosksession/handler"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/server/middleware"
	"kiosk-control-plane/backend/internal/security"
)

// Tokens signs and validates owner and device tokens (e.g. *security.TokenProvider).
type Tokens interface {
	middleware.OwnerTokenValidator
	middleware.DeviceTokenValidator
	IssueDevice(sessionID, codeID, roleID, deviceID string, expiresAt time.Time) (string, error)
}

var _ Tokens = (*security.TokenProvider)(nil)

// Deps holds the services behind the HTTP routes.
type Deps struct {
	Tokens      Tokens
	Codes       codehandler.Registry
	Sessions    SessionManager
	Completions completionhandler.Service
	Authorizer  completionhandler.PersonAuthorizer
	// HealthPinger is used by /healthz for readiness (e.g. *sql.DB). If nil, the database check is skipped.
	HealthPinger healthhandler.Pinger
	// HealthPolicyChecker is used by /healthz (e.g. the OPA evaluator). If nil, the policy check is skipped.
	HealthPolicyChecker healthhandler.PolicyChecker
	// Metrics serves /metrics (e.g. promhttp.HandlerFor). If nil, /metrics is not mounted.
	Metrics http.Handler
	Logger  *zap.Logger
}

// SessionManager is everything the routes need from the session manager.
type SessionManager interface {
	sessionhandler.Manager
	middleware.SessionValidator
	codehandler.SessionTerminator
}

// NewRouter mounts every route:
//   - public:  POST /v1/kiosk/codes/check, POST /v1/kiosk/sessions
//   - owner:   /v1/kiosk/codes..., GET /v1/kiosk/sessions, DELETE /v1/kiosk/sessions/:id
//   - device:  GET /v1/kiosk/session, POST /v1/kiosk/heartbeat, /v1/kiosk/completions..., GET /v1/kiosk/tasks/:id/status
//   - ops:     GET /healthz, GET /metrics
func NewRouter(deps Deps) *gin.Engine {
	log := logger.OrNop(deps.Logger)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log, "/healthz", "/metrics"))

	healthhandler.NewHandler(deps.HealthPinger, deps.HealthPolicyChecker).Register(r)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	codes := codehandler.NewHandler(deps.Codes, deps.Sessions)
	sessions := sessionhandler.NewHandler(deps.Sessions, deps.Tokens, log)
	completions := completionhandler.NewHandler(deps.Completions, deps.Authorizer)

	public := r.Group("/v1/kiosk")
	codes.RegisterPublicRoutes(public)
	sessions.RegisterPublicRoutes(public)

	owner := r.Group("/v1/kiosk", middleware.OwnerAuth(deps.Tokens))
	codes.RegisterOwnerRoutes(owner)
	sessions.RegisterOwnerRoutes(owner)

	device := r.Group("/v1/kiosk", middleware.DeviceAuth(deps.Tokens, deps.Sessions))
	sessions.RegisterDeviceRoutes(device)
	completions.RegisterDeviceRoutes(device)

	return r
}

// Serve runs h on addr until ctx is cancelled, then drains in-flight requests for up to
// shutdownTimeout.
func Serve(ctx context.Context, addr string, h http.Handler, shutdownTimeout time.Duration, log *zap.Logger) error {
	log = logger.OrNop(log)
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("HTTP server stopped")
	return nil
}
