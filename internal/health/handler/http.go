package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is used for readiness checks (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness checks (e.g. the OPA scope evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// checkTimeout bounds each dependency check so a hung database does not hang the probe.
const checkTimeout = 2 * time.Second

// Handler serves /healthz for Kubernetes, load balancers, and CI.
type Handler struct {
	pinger Pinger
	policy PolicyChecker
}

// NewHandler returns a Handler. A nil pinger or policy skips that check.
func NewHandler(pinger Pinger, policy PolicyChecker) *Handler {
	return &Handler{pinger: pinger, policy: policy}
}

// Register mounts GET /healthz.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/healthz", h.healthz)
}

func (h *Handler) healthz(c *gin.Context) {
	checks := gin.H{}
	healthy := true
	if h.pinger != nil {
		checks["database"] = h.run(c.Request.Context(), h.pinger.PingContext, &healthy)
	}
	if h.policy != nil {
		checks["policy"] = h.run(c.Request.Context(), h.policy.HealthCheck, &healthy)
	}
	status, code := "SERVING", http.StatusOK
	if !healthy {
		status, code = "NOT_SERVING", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "checks": checks})
}

func (h *Handler) run(ctx context.Context, check func(context.Context) error, healthy *bool) string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	if err := check(ctx); err != nil {
		*healthy = false
		return "error: " + err.Error()
	}
	return "ok"
}
