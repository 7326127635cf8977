package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/billing"
	"kiosk-control-plane/backend/internal/kioskcode/domain"
	"kiosk-control-plane/backend/internal/kioskcode/repository"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/security"
	"kiosk-control-plane/backend/internal/telemetry"
)

// Sentinel errors for the code registry; handlers map them to HTTP codes.
var (
	ErrCodeNotFound      = errors.New("kiosk code not found")
	ErrCodeExpired       = errors.New("kiosk code has expired")
	ErrCodeAlreadyUsed   = errors.New("kiosk code has already been used")
	ErrCodeRevoked       = errors.New("kiosk code has been revoked")
	ErrAlreadyTerminal   = errors.New("kiosk code can no longer be revoked")
	ErrTierLimitExceeded = errors.New("active kiosk code limit reached for this tier")
	ErrInvalidInput      = errors.New("invalid input")
)

const (
	MinExpiresInMinutes    = 1
	MaxExpiresInMinutes    = 24 * 60
	MinSessionDurationDays = 1
	MaxSessionDurationDays = 365
)

// IssueInput describes a code an owner wants to create.
type IssueInput struct {
	RoleID              string
	Scope               domain.Scope
	ExpiresInMinutes    int
	SessionDurationDays int
	CreatedBy           string
}

// Registry issues, validates, revokes and expires kiosk codes.
type Registry struct {
	repo    repository.Repository
	limits  billing.TierLimits
	metrics *telemetry.Metrics
	logger  *zap.Logger
	nowF    func() time.Time
}

// NewRegistry returns a Registry. metrics and log may be nil.
func NewRegistry(repo repository.Repository, limits billing.TierLimits, metrics *telemetry.Metrics, log *zap.Logger) *Registry {
	return &Registry{
		repo:    repo,
		limits:  limits,
		metrics: metrics,
		logger:  logger.OrNop(log),
		nowF:    func() time.Time { return time.Now().UTC() },
	}
}

// Issue creates an ACTIVE code and returns it with its plaintext secret. The secret is not stored
// and cannot be recovered later.
func (r *Registry) Issue(ctx context.Context, in IssueInput) (*domain.Code, string, error) {
	if err := validateIssue(&in); err != nil {
		return nil, "", err
	}
	limit, err := r.limits.KioskCodeLimit(ctx, in.RoleID)
	if err != nil {
		return nil, "", err
	}
	secret, err := security.GenerateCodeSecret()
	if err != nil {
		return nil, "", err
	}
	now := r.nowF()
	c := &domain.Code{
		ID:                  uuid.New().String(),
		OwnerRoleID:         in.RoleID,
		Scope:               in.Scope,
		SecretHash:          security.HashCodeSecret(secret),
		Status:              domain.StatusActive,
		CreatedBy:           in.CreatedBy,
		CreatedAt:           now,
		ExpiresAt:           now.Add(time.Duration(in.ExpiresInMinutes) * time.Minute),
		SessionDurationDays: in.SessionDurationDays,
	}
	created, err := r.repo.CreateWithinLimit(ctx, c, limit, now)
	if err != nil {
		return nil, "", fmt.Errorf("create kiosk code: %w", err)
	}
	if !created {
		return nil, "", ErrTierLimitExceeded
	}
	r.metrics.CodeIssued(ctx)
	r.logger.Info("kiosk code issued",
		zap.String("code_id", c.ID),
		zap.String("role_id", c.OwnerRoleID),
		zap.String("scope", string(c.Scope.Type)),
		zap.Time("expires_at", c.ExpiresAt))
	return c, secret, nil
}

func validateIssue(in *IssueInput) error {
	in.RoleID = strings.TrimSpace(in.RoleID)
	in.Scope.TargetID = strings.TrimSpace(in.Scope.TargetID)
	if in.RoleID == "" || in.CreatedBy == "" {
		return fmt.Errorf("%w: role and creator are required", ErrInvalidInput)
	}
	switch in.Scope.Type {
	case domain.ScopeRole:
		in.Scope.TargetID = ""
	case domain.ScopeGroup, domain.ScopePerson:
		if in.Scope.TargetID == "" {
			return fmt.Errorf("%w: %s scope requires a target id", ErrInvalidInput, in.Scope.Type)
		}
	default:
		return fmt.Errorf("%w: unknown scope %q", ErrInvalidInput, in.Scope.Type)
	}
	if in.ExpiresInMinutes < MinExpiresInMinutes || in.ExpiresInMinutes > MaxExpiresInMinutes {
		return fmt.Errorf("%w: expires_in_minutes must be between %d and %d", ErrInvalidInput, MinExpiresInMinutes, MaxExpiresInMinutes)
	}
	if in.SessionDurationDays < MinSessionDurationDays || in.SessionDurationDays > MaxSessionDurationDays {
		return fmt.Errorf("%w: session_duration_days must be between %d and %d", ErrInvalidInput, MinSessionDurationDays, MaxSessionDurationDays)
	}
	return nil
}

// Validate returns the code for secret if it can still spawn a session. It never changes state,
// so it is safe for read-only checks.
func (r *Registry) Validate(ctx context.Context, secret string) (*domain.Code, error) {
	if security.NormalizeCodeSecret(secret) == "" {
		return nil, ErrCodeNotFound
	}
	c, err := r.repo.GetBySecretHash(ctx, security.HashCodeSecret(secret))
	if err != nil {
		return nil, fmt.Errorf("get kiosk code: %w", err)
	}
	if c == nil {
		r.metrics.CodeRejected(ctx, "not_found")
		return nil, ErrCodeNotFound
	}
	if err := StateError(c, r.nowF()); err != nil {
		r.metrics.CodeRejected(ctx, rejectReason(err))
		return nil, err
	}
	return c, nil
}

// StateError explains why c cannot spawn a session at now, or returns nil if it can.
// A PENDING/ACTIVE code past its expiry reports ErrCodeExpired before the sweep has marked it.
func StateError(c *domain.Code, now time.Time) error {
	switch c.Status {
	case domain.StatusUsed:
		return ErrCodeAlreadyUsed
	case domain.StatusRevoked:
		return ErrCodeRevoked
	case domain.StatusExpired:
		return ErrCodeExpired
	}
	if !c.ExpiresAt.After(now) {
		return ErrCodeExpired
	}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrCodeAlreadyUsed):
		return "used"
	case errors.Is(err, ErrCodeRevoked):
		return "revoked"
	default:
		return "expired"
	}
}

// Revoke sets a usable code to REVOKED. A code that is used, expired (by status or by time) or
// already revoked yields ErrAlreadyTerminal.
func (r *Registry) Revoke(ctx context.Context, codeID, actorID string) (*domain.Code, error) {
	c, err := r.Get(ctx, codeID)
	if err != nil {
		return nil, err
	}
	now := r.nowF()
	if !c.Usable(now) {
		return nil, ErrAlreadyTerminal
	}
	ok, err := r.repo.Revoke(ctx, codeID, now)
	if err != nil {
		return nil, fmt.Errorf("revoke kiosk code: %w", err)
	}
	if !ok {
		// Consumed or revoked concurrently.
		return nil, ErrAlreadyTerminal
	}
	c.Status = domain.StatusRevoked
	c.RevokedAt = &now
	r.logger.Info("kiosk code revoked", zap.String("code_id", codeID), zap.String("actor_id", actorID))
	return c, nil
}

// Get returns the code by id or ErrCodeNotFound.
func (r *Registry) Get(ctx context.Context, codeID string) (*domain.Code, error) {
	if codeID == "" {
		return nil, ErrCodeNotFound
	}
	c, err := r.repo.GetByID(ctx, codeID)
	if err != nil {
		return nil, fmt.Errorf("get kiosk code: %w", err)
	}
	if c == nil {
		return nil, ErrCodeNotFound
	}
	return c, nil
}

// ListByRole returns every code the role has issued, newest first.
func (r *Registry) ListByRole(ctx context.Context, roleID string) ([]*domain.Code, error) {
	return r.repo.ListByRole(ctx, roleID)
}

// CountActive returns how many codes of the role count against its tier limit right now.
func (r *Registry) CountActive(ctx context.Context, roleID string) (int, error) {
	return r.repo.CountActive(ctx, roleID, r.nowF())
}

// ExpireStale marks PENDING/ACTIVE codes past their expiry as EXPIRED. Safe to run repeatedly and
// alongside live traffic.
func (r *Registry) ExpireStale(ctx context.Context) (int, error) {
	n, err := r.repo.ExpireStale(ctx, r.nowF())
	if err != nil {
		return 0, fmt.Errorf("expire kiosk codes: %w", err)
	}
	if n > 0 {
		r.logger.Info("expired stale kiosk codes", zap.Int("count", n))
	}
	return n, nil
}
