package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kiosk-control-plane/backend/internal/completion"
	"kiosk-control-plane/backend/internal/completion/service"
	sessiondomain "kiosk-control-plane/backend/internal/kiosksession/domain"
	"kiosk-control-plane/backend/internal/platform/apierror"
	"kiosk-control-plane/backend/internal/platform/reqschema"
	"kiosk-control-plane/backend/internal/policy"
	"kiosk-control-plane/backend/internal/server/middleware"
)

// Service is the completion service surface used by the HTTP handlers.
type Service interface {
	Record(ctx context.Context, in service.RecordInput) (*service.RecordResult, error)
	Get(ctx context.Context, completionID string) (*completion.Completion, error)
	Undo(ctx context.Context, completionID, roleID string) (*completion.Completion, error)
	Status(ctx context.Context, taskID, personID, roleID string, resetDate time.Time) (*service.Status, error)
}

// PersonAuthorizer checks that a kiosk session may act for a person.
type PersonAuthorizer interface {
	AuthorizePerson(ctx context.Context, s *sessiondomain.Session, personID string) error
}

// Handler serves the completion endpoints for kiosk devices.
type Handler struct {
	svc   Service
	authz PersonAuthorizer
}

// NewHandler returns a Handler.
func NewHandler(svc Service, authz PersonAuthorizer) *Handler {
	return &Handler{svc: svc, authz: authz}
}

// RegisterDeviceRoutes mounts the routes behind DeviceAuth.
func (h *Handler) RegisterDeviceRoutes(g *gin.RouterGroup) {
	g.POST("/completions", h.record)
	g.DELETE("/completions/:id", h.undo)
	g.GET("/tasks/:id/status", h.status)
}

var recordSchema = reqschema.MustCompile(`{
	"type": "object",
	"required": ["task_id", "person_id", "reset_date"],
	"properties": {
		"task_id": {"type": "string", "minLength": 1},
		"person_id": {"type": "string", "minLength": 1},
		"value": {"type": ["string", "null"], "maxLength": 32},
		"reset_date": {"type": "string", "format": "date-time"}
	}
}`)

type recordRequest struct {
	TaskID    string    `json:"task_id"`
	PersonID  string    `json:"person_id"`
	Value     *string   `json:"value"`
	ResetDate time.Time `json:"reset_date"`
}

type completionResponse struct {
	ID          string    `json:"id"`
	TaskID      string    `json:"task_id"`
	PersonID    string    `json:"person_id"`
	CompletedAt time.Time `json:"completed_at"`
	Value       *string   `json:"value,omitempty"`
}

func toResponse(c completion.Completion) completionResponse {
	return completionResponse{
		ID:          c.ID,
		TaskID:      c.TaskID,
		PersonID:    c.PersonID,
		CompletedAt: c.CompletedAt,
		Value:       c.Value,
	}
}

// session returns the device session and checks it covers personID.
func (h *Handler) session(c *gin.Context, personID string) (*sessiondomain.Session, bool) {
	s := middleware.GetSession(c.Request.Context())
	if s == nil {
		apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthenticated, "device session required")
		return nil, false
	}
	if err := h.authz.AuthorizePerson(c.Request.Context(), s, personID); err != nil {
		WriteError(c, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) record(c *gin.Context) {
	var req recordRequest
	if !reqschema.Bind(c, recordSchema, &req) {
		return
	}
	s, ok := h.session(c, req.PersonID)
	if !ok {
		return
	}
	res, err := h.svc.Record(c.Request.Context(), service.RecordInput{
		TaskID:    req.TaskID,
		PersonID:  req.PersonID,
		RoleID:    s.RoleID,
		Value:     req.Value,
		ResetDate: req.ResetDate,
	})
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"completion":             toResponse(res.Completion),
		"entry_number":           res.EntryNumber,
		"aggregate":              res.Aggregate,
		"can_undo":               res.CanUndo,
		"undo_remaining_seconds": res.UndoRemainingSeconds,
	})
}

func (h *Handler) undo(c *gin.Context) {
	comp, err := h.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}
	s, ok := h.session(c, comp.PersonID)
	if !ok {
		return
	}
	undone, err := h.svc.Undo(c.Request.Context(), comp.ID, s.RoleID)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"undone": toResponse(*undone)})
}

func (h *Handler) status(c *gin.Context) {
	personID := c.Query("person_id")
	if personID == "" {
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, "person_id is required")
		return
	}
	resetDate, err := time.Parse(time.RFC3339, c.Query("reset_date"))
	if err != nil {
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, "reset_date must be an RFC 3339 timestamp")
		return
	}
	s, ok := h.session(c, personID)
	if !ok {
		return
	}
	st, err := h.svc.Status(c.Request.Context(), c.Param("id"), personID, s.RoleID, resetDate)
	if err != nil {
		WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"task_id":                st.TaskID,
		"person_id":              st.PersonID,
		"type":                   st.Type,
		"aggregate":              st.Aggregate,
		"latest_completion_id":   st.LatestCompletionID,
		"can_undo":               st.CanUndo,
		"undo_remaining_seconds": st.UndoRemainingSeconds,
	})
}

// WriteError maps completion and scope errors to HTTP responses. Unknown errors are 500.
func WriteError(c *gin.Context, err error) {
	var pve *completion.ProgressValueError
	switch {
	case errors.As(err, &pve):
		apierror.AbortWithReason(c, http.StatusUnprocessableEntity, "invalid_progress_value", pve.Reason, err.Error())
	case errors.Is(err, completion.ErrEntryLimitExceeded):
		apierror.Abort(c, http.StatusConflict, "entry_limit_exceeded", err.Error())
	case errors.Is(err, service.ErrAlreadyCompleted):
		apierror.Abort(c, http.StatusConflict, "already_completed", err.Error())
	case errors.Is(err, service.ErrTaskNotFound):
		apierror.Abort(c, http.StatusNotFound, "task_not_found", err.Error())
	case errors.Is(err, service.ErrCompletionNotFound):
		apierror.Abort(c, http.StatusNotFound, "completion_not_found", err.Error())
	case errors.Is(err, service.ErrUndoNotSupported):
		apierror.Abort(c, http.StatusUnprocessableEntity, "undo_not_supported", err.Error())
	case errors.Is(err, service.ErrUndoWindowExpired):
		apierror.Abort(c, http.StatusConflict, "undo_window_expired", err.Error())
	case errors.Is(err, service.ErrInvalidInput):
		apierror.Abort(c, http.StatusBadRequest, apierror.CodeInvalidRequest, err.Error())
	case errors.Is(err, policy.ErrOutOfScope):
		apierror.Abort(c, http.StatusForbidden, "person_out_of_scope", err.Error())
	default:
		_ = c.Error(err)
		apierror.Abort(c, http.StatusInternalServerError, apierror.CodeInternal, "internal error")
	}
}
