package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kiosk-control-plane/backend/internal/kioskcode/domain"
	"kiosk-control-plane/backend/internal/kioskcode/service"
	"kiosk-control-plane/backend/internal/platform/apierror"
	"kiosk-control-plane/backend/internal/platform/rbac"
	"kiosk-control-plane/backend/internal/platform/reqschema"
)

// Registry is the code registry surface used by the HTTP handlers.
type Registry interface {
	Issue(ctx context.Context, in service.IssueInput) (*domain.Code, string, error)
	Validate(ctx context.Context, secret string) (*domain.Code, error)
	Revoke(ctx context.Context, codeID, actorID string) (*domain.Code, error)
	Get(ctx context.Context, codeID string) (*domain.Code, error)
	ListByRole(ctx context.Context, roleID string) ([]*domain.Code, error)
}

// SessionTerminator ends the sessions a code spawned.
type SessionTerminator interface {
	TerminateAllForCode(ctx context.Context, codeID, actorID, reason string) (int, error)
}

// Handler serves the kiosk code endpoints.
type Handler struct {
	registry Registry
	sessions SessionTerminator
}

// NewHandler returns a Handler.
func NewHandler(registry Registry, sessions SessionTerminator) *Handler {
	return &Handler{registry: registry, sessions: sessions}
}

// RegisterOwnerRoutes mounts the routes that require an owner token.
func (h *Handler) RegisterOwnerRoutes(g *gin.RouterGroup) {
	g.POST("/codes", h.issue)
	g.GET("/codes", h.list)
	g.GET("/codes/:id", h.get)
	g.POST("/codes/:id/revoke", h.revoke)
	g.POST("/codes/:id/terminate-sessions", h.terminateSessions)
}

// RegisterPublicRoutes mounts the unauthenticated routes.
func (h *Handler) RegisterPublicRoutes(g *gin.RouterGroup) {
	g.POST("/codes/check", h.check)
}

var issueSchema = reqschema.MustCompile(`{
	"type": "object",
	"required": ["scope", "expires_in_minutes", "session_duration_days"],
	"properties": {
		"scope": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"enum": ["role", "group", "person"]},
				"target_id": {"type": "string"}
			}
		},
		"expires_in_minutes": {"type": "integer", "minimum": 1, "maximum": 1440},
		"session_duration_days": {"type": "integer", "minimum": 1, "maximum": 365}
	}
}`)

type scopeJSON struct {
	Type     string `json:"type"`
	TargetID string `json:"target_id,omitempty"`
}

type issueRequest struct {
	Scope               scopeJSON `json:"scope"`
	ExpiresInMinutes    int       `json:"expires_in_minutes"`
	SessionDurationDays int       `json:"session_duration_days"`
}

type codeResponse struct {
	ID                  string     `json:"id"`
	Code                string     `json:"code,omitempty"`
	Scope               scopeJSON  `json:"scope"`
	Status              string     `json:"status"`
	CreatedBy           string     `json:"created_by"`
	CreatedAt           time.Time  `json:"created_at"`
	ExpiresAt           time.Time  `json:"expires_at"`
	SessionDurationDays int        `json:"session_duration_days"`
	UsedAt              *time.Time `json:"used_at,omitempty"`
	RevokedAt           *time.Time `json:"revoked_at,omitempty"`
}

func toResponse(c *domain.Code) codeResponse {
	return codeResponse{
		ID:                  c.ID,
		Scope:               scopeJSON{Type: string(c.Scope.Type), TargetID: c.Scope.TargetID},
		Status:              string(c.Status),
		CreatedBy:           c.CreatedBy,
		CreatedAt:           c.CreatedAt,
		ExpiresAt:           c.ExpiresAt,
		SessionDurationDays: c.SessionDurationDays,
		UsedAt:              c.UsedAt,
		RevokedAt:           c.RevokedAt,
	}
}

func (h *Handler) issue(c *gin.Context) {
	roleID, userID, err := rbac.RequireOwner(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	var req issueRequest
	if !reqschema.Bind(c, issueSchema, &req) {
		return
	}
	code, secret, err := h.registry.Issue(c.Request.Context(), service.IssueInput{
		RoleID:              roleID,
		Scope:               domain.Scope{Type: domain.ScopeType(req.Scope.Type), TargetID: req.Scope.TargetID},
		ExpiresInMinutes:    req.ExpiresInMinutes,
		SessionDurationDays: req.SessionDurationDays,
		CreatedBy:           userID,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	resp := toResponse(code)
	resp.Code = secret
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) list(c *gin.Context) {
	roleID, _, err := rbac.RequireOwner(c.Request.Context())
	if err != nil {
		WriteError(c, err)
		return
	}
	codes, err := h.registry.ListByRole(c.Request.Context(), roleID)
	if err != nil {
		WriteError(c, err)
		return
	}
	out := make([]codeResponse, 0, len(codes))
	for _, code := range codes {
		out = append(out, toResponse(code))
	}
	c.JSON(http.StatusOK, gin.H{"codes": out})
}

// owned loads the path code and checks it belongs to the caller's role. Codes of other roles
// are reported as not found.
func (h *Handler) owned(c *gin.Context) (*domain.Code, string, bool) {
	code, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return nil, "", false
	}
	userID, err := rbac.RequireRole(c.Request.Context(), code.OwnerRoleID)
	if errors.Is(err, rbac.ErrForbidden) {
		WriteError(c, service.ErrCodeNotFound)
		return nil, "", false
	}
	if err != nil {
		WriteError(c, err)
		return nil, "", false
	}
	return code, userID, true
}

func (h *Handler) get(c *gin.Context) {
	code, _, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, toResponse(code))
}

func (h *Handler) revoke(c *gin.Context) {
	code, userID, ok := h.owned(c)
	if !ok {
		return
	}
	revoked, err := h.registry.Revoke(c.Request.Context(), code.ID, userID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, toResponse(revoked))
}

func (h *Handler) terminateSessions(c *gin.Context) {
	code, userID, ok := h.owned(c)
	if !ok {
		return
	}
	n, err := h.sessions.TerminateAllForCode(c.Request.Context(), code.ID, userID, "")
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"terminated": n})
}

var checkSchema = reqschema.MustCompile(`{
	"type": "object",
	"required": ["code"],
	"properties": {"code": {"type": "string", "minLength": 1, "maxLength": 64}}
}`)

type checkRequest struct {
	Code string `json:"code"`
}

// check tells a kiosk whether a typed code would be accepted, without consuming it.
func (h *Handler) check(c *gin.Context) {
	var req checkRequest
	if !reqschema.Bind(c, checkSchema, &req) {
		return
	}
	code, err := h.registry.Validate(c.Request.Context(), req.Code)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"valid":                 true,
		"scope":                 scopeJSON{Type: string(code.Scope.Type), TargetID: code.Scope.TargetID},
		"expires_at":            code.ExpiresAt,
		"session_duration_days": code.SessionDurationDays,
	})
}

// WriteError maps registry and authorization errors to HTTP responses. Unknown errors are 500.
func WriteError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrCodeNotFound):
		apierror.Abort(c, http.StatusNotFound, "code_not_found", err.Error())
	case errors.Is(err, service.ErrCodeExpired):
		apierror.Abort(c, http.StatusGone, "code_expired", err.Error())
	case errors.Is(err, service.ErrCodeRevoked):
		apierror.Abort(c, http.StatusGone, "code_revoked", err.Error())
	case errors.Is(err, service.ErrCodeAlreadyUsed):
		apierror.Abort(c, http.StatusConflict, "code_already_used", err.Error())
	case errors.Is(err, service.ErrAlreadyTerminal):
		apierror.Abort(c, http.StatusConflict, "code_already_terminal", err.Error())
	case errors.Is(err, service.ErrTierLimitExceeded):
		apierror.Abort(c, http.StatusForbidden, "tier_limit_exceeded", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, err.Error())
	case errors.Is(err, rbac.ErrUnauthenticated):
		apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, err.Error())
	case errors.Is(err, rbac.ErrForbidden):
		apierror.Abort(c, http.StatusForbidden, apierror.CodeForbidden, err.Error())
	default:
		_ = c.Error(err)
		apierror.Abort(c, http.StatusInternalServerError, apierror.CodeInternal, "internal error")
	}
}
