package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	codehandler "kiosk-control-plane/backend/internal/kioskcode/handler"
	"kiosk-control-plane/backend/internal/kiosksession/domain"
	"kiosk-control-plane/backend/internal/kiosksession/service"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/platform/apierror"
	"kiosk-control-plane/backend/internal/platform/rbac"
	"kiosk-control-plane/backend/internal/platform/reqschema"
	"kiosk-control-plane/backend/internal/server/middleware"
)

// Manager is the session manager surface used by the HTTP handlers.
type Manager interface {
	CreateSession(ctx context.Context, secret string, dev service.DeviceInfo) (*domain.Session, error)
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	Terminate(ctx context.Context, sessionID, actorID, reason string) (*domain.Session, error)
	Touch(ctx context.Context, sessionID string) error
	ListActiveByRole(ctx context.Context, roleID string) ([]*domain.Session, error)
}

// DeviceTokenIssuer signs the token a kiosk presents on device routes.
type DeviceTokenIssuer interface {
	IssueDevice(sessionID, codeID, roleID, deviceID string, expiresAt time.Time) (string, error)
}

// Handler serves the kiosk session endpoints.
type Handler struct {
	manager Manager
	tokens  DeviceTokenIssuer
	logger  *zap.Logger
}

// NewHandler returns a Handler. log may be nil.
func NewHandler(manager Manager, tokens DeviceTokenIssuer, log *zap.Logger) *Handler {
	return &Handler{manager: manager, tokens: tokens, logger: logger.OrNop(log)}
}

// RegisterPublicRoutes mounts session creation, which authenticates with the kiosk code itself.
func (h *Handler) RegisterPublicRoutes(g *gin.RouterGroup) {
	g.POST("/sessions", h.create)
}

// RegisterOwnerRoutes mounts the routes that require an owner token.
func (h *Handler) RegisterOwnerRoutes(g *gin.RouterGroup) {
	g.GET("/sessions", h.list)
	g.DELETE("/sessions/:id", h.terminate)
}

// RegisterDeviceRoutes mounts the routes behind DeviceAuth.
func (h *Handler) RegisterDeviceRoutes(g *gin.RouterGroup) {
	g.GET("/session", h.current)
	g.POST("/heartbeat", h.heartbeat)
}

var createSchema = reqschema.MustCompile(`{
	"type": "object",
	"required": ["code", "device_id"],
	"properties": {
		"code": {"type": "string", "minLength": 1, "maxLength": 64},
		"device_id": {"type": "string", "minLength": 1, "maxLength": 128}
	}
}`)

type createRequest struct {
	Code     string `json:"code"`
	DeviceID string `json:"device_id"`
}

type sessionResponse struct {
	ID                string     `json:"id"`
	CodeID            string     `json:"code_id"`
	RoleID            string     `json:"role_id"`
	DeviceID          string     `json:"device_id"`
	StartedAt         time.Time  `json:"started_at"`
	LastActiveAt      time.Time  `json:"last_active_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	TerminatedBy      string     `json:"terminated_by,omitempty"`
	TerminationReason string     `json:"termination_reason,omitempty"`
}

func toResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:                s.ID,
		CodeID:            s.CodeID,
		RoleID:            s.RoleID,
		DeviceID:          s.DeviceID,
		StartedAt:         s.StartedAt,
		LastActiveAt:      s.LastActiveAt,
		ExpiresAt:         s.ExpiresAt,
		EndedAt:           s.EndedAt,
		TerminatedBy:      s.TerminatedBy,
		TerminationReason: s.TerminationReason,
	}
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if !reqschema.Bind(c, createSchema, &req) {
		return
	}
	s, err := h.manager.CreateSession(c.Request.Context(), req.Code, service.DeviceInfo{
		DeviceID:  req.DeviceID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	token, err := h.tokens.IssueDevice(s.ID, s.CodeID, s.RoleID, s.DeviceID, s.ExpiresAt)
	if err != nil {
		// The code is consumed either way; no device can ever present this session.
		h.logger.Error("sign device token", zap.String("session_id", s.ID), zap.Error(err))
		if _, endErr := h.manager.Terminate(c.Request.Context(), s.ID, domain.SystemActor, domain.ReasonTokenFailed); endErr != nil {
			h.logger.Error("end session without token", zap.String("session_id", s.ID), zap.Error(endErr))
		}
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"session": toResponse(s), "token": token})
}

func (h *Handler) list(c *gin.Context) {
	roleID, _, err := rbac.RequireOwner(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	sessions, err := h.manager.ListActiveByRole(c.Request.Context(), roleID)
	if err != nil {
		WriteError(c, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, toResponse(s))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *Handler) terminate(c *gin.Context) {
	s, err := h.manager.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	userID, err := rbac.RequireRole(c.Request.Context(), s.RoleID)
	if errors.Is(err, rbac.ErrForbidden) {
		WriteError(c, service.ErrSessionNotFound)
		return
	}
	if err != nil {
		WriteError(c, err)
		return
	}
	ended, err := h.manager.Terminate(c.Request.Context(), s.ID, userID, domain.ReasonOwner)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(ended))
}

func (h *Handler) current(c *gin.Context) {
	s := middleware.GetSession(c.Request.Context())
	if s == nil {
		apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "device session required")
		return
	}
	c.JSON(http.StatusOK, toResponse(s))
}

func (h *Handler) heartbeat(c *gin.Context) {
	s := middleware.GetSession(c.Request.Context())
	if s == nil {
		apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "device session required")
		return
	}
	if err := h.manager.Touch(c.Request.Context(), s.ID); err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"expires_at": s.ExpiresAt})
}

// WriteError maps session errors to HTTP responses and defers code errors to the code handler.
func WriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		apierror.Abort(c, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, service.ErrSessionTerminated):
		apierror.Abort(c, http.StatusGone, "session_terminated", err.Error())
	case errors.Is(err, service.ErrSessionExpired):
		apierror.Abort(c, http.StatusGone, "session_expired", err.Error())
	case errors.Is(err, service.ErrAlreadyEnded):
		apierror.Abort(c, http.StatusConflict, "session_already_ended", err.Error())
	case errors.Is(err, service.ErrDeviceRequired):
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, err.Error())
	default:
		codehandler.WriteError(c, err)
	}
}
