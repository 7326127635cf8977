package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	codedomain "kiosk-control-plane/backend/internal/kioskcode/domain"
	codeservice "kiosk-control-plane/backend/internal/kioskcode/service"
	"kiosk-control-plane/backend/internal/kiosksession/domain"
	"kiosk-control-plane/backend/internal/kiosksession/repository"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/notify"
	"kiosk-control-plane/backend/internal/telemetry"
)

// Sentinel errors for the session manager; handlers map them to HTTP codes.
var (
	ErrSessionNotFound   = errors.New("kiosk session not found")
	ErrSessionTerminated = errors.New("kiosk session has been terminated")
	ErrSessionExpired    = errors.New("kiosk session has expired")
	ErrAlreadyEnded      = errors.New("kiosk session has already ended")
	ErrDeviceRequired    = errors.New("device id is required")
)

// CodeRegistry is the part of the code registry the manager needs.
type CodeRegistry interface {
	Validate(ctx context.Context, secret string) (*codedomain.Code, error)
	Get(ctx context.Context, codeID string) (*codedomain.Code, error)
}

// DeviceInfo identifies the kiosk requesting a session.
type DeviceInfo struct {
	DeviceID  string
	IPAddress string
	UserAgent string
}

// Manager promotes codes into sessions and ends sessions.
type Manager struct {
	repo     repository.Repository
	codes    CodeRegistry
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	nowF     func() time.Time
}

// NewManager returns a Manager. notifier, metrics and log may be nil.
func NewManager(repo repository.Repository, codes CodeRegistry, notifier notify.Notifier, metrics *telemetry.Metrics, log *zap.Logger) *Manager {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Manager{
		repo:     repo,
		codes:    codes,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.OrNop(log),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateSession validates secret and atomically consumes the code while creating the session.
// If another request consumes the code first, the caller gets the code's current error
// (normally ErrCodeAlreadyUsed) and nothing is written.
func (m *Manager) CreateSession(ctx context.Context, secret string, dev DeviceInfo) (*domain.Session, error) {
	dev.DeviceID = strings.TrimSpace(dev.DeviceID)
	if dev.DeviceID == "" {
		return nil, ErrDeviceRequired
	}
	code, err := m.codes.Validate(ctx, secret)
	if err != nil {
		return nil, err
	}
	now := m.nowF()
	s := &domain.Session{
		ID:           uuid.New().String(),
		CodeID:       code.ID,
		RoleID:       code.OwnerRoleID,
		DeviceID:     dev.DeviceID,
		StartedAt:    now,
		LastActiveAt: now,
		ExpiresAt:    now.Add(code.SessionDuration()),
		IPAddress:    dev.IPAddress,
		UserAgent:    dev.UserAgent,
	}
	created, err := m.repo.CreateFromCode(ctx, s, now)
	if err != nil {
		return nil, fmt.Errorf("create kiosk session: %w", err)
	}
	if !created {
		return nil, m.lostPromotion(ctx, code.ID)
	}
	m.metrics.SessionCreated(ctx)
	m.logger.Info("kiosk session created",
		zap.String("session_id", s.ID),
		zap.String("code_id", s.CodeID),
		zap.String("device_id", s.DeviceID),
		zap.Time("expires_at", s.ExpiresAt))
	m.notify(ctx, notify.Event{Type: notify.EventSessionUpdated, EntityID: s.ID, RoleID: s.RoleID, OccurredAt: now})
	return s, nil
}

// lostPromotion reports why the code swap matched no row.
func (m *Manager) lostPromotion(ctx context.Context, codeID string) error {
	code, err := m.codes.Get(ctx, codeID)
	if err != nil {
		return err
	}
	if err := codeservice.StateError(code, m.nowF()); err != nil {
		return err
	}
	return codeservice.ErrCodeAlreadyUsed
}

// Get returns the session or ErrSessionNotFound, regardless of its state.
func (m *Manager) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get kiosk session: %w", err)
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Terminate ends one session. Ending an ended session yields ErrAlreadyEnded.
func (m *Manager) Terminate(ctx context.Context, sessionID, actorID, reason string) (*domain.Session, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Ended() {
		return nil, ErrAlreadyEnded
	}
	if reason == "" {
		reason = domain.ReasonOwner
	}
	now := m.nowF()
	ok, err := m.repo.End(ctx, sessionID, now, actorID, reason)
	if err != nil {
		return nil, fmt.Errorf("terminate kiosk session: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyEnded
	}
	s.EndedAt = &now
	s.TerminatedBy = actorID
	s.TerminationReason = reason
	m.ended(ctx, reason, s)
	return s, nil
}

// TerminateAllForCode ends every open session spawned by the code and returns how many it ended.
// A second call ends nothing and returns 0.
func (m *Manager) TerminateAllForCode(ctx context.Context, codeID, actorID, reason string) (int, error) {
	if reason == "" {
		reason = domain.ReasonCode
	}
	ended, err := m.repo.EndAllForCode(ctx, codeID, m.nowF(), actorID, reason)
	if err != nil {
		return 0, fmt.Errorf("terminate kiosk sessions for code: %w", err)
	}
	m.ended(ctx, reason, ended...)
	return len(ended), nil
}

// ValidateSession returns the session if it is open and within its lifetime. A session found past
// its lifetime is ended here with reason "expired", so it is never reported valid and the next
// call sees ErrSessionTerminated.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Ended() {
		return nil, ErrSessionTerminated
	}
	now := m.nowF()
	if !s.ExpiresAt.After(now) {
		ok, err := m.repo.End(ctx, sessionID, now, domain.SystemActor, domain.ReasonExpired)
		if err != nil {
			return nil, fmt.Errorf("end expired kiosk session: %w", err)
		}
		if ok {
			s.EndedAt = &now
			s.TerminatedBy = domain.SystemActor
			s.TerminationReason = domain.ReasonExpired
			m.ended(ctx, domain.ReasonExpired, s)
		}
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Touch records device activity. It never extends the session lifetime.
func (m *Manager) Touch(ctx context.Context, sessionID string) error {
	ok, err := m.repo.Touch(ctx, sessionID, m.nowF())
	if err != nil {
		return fmt.Errorf("touch kiosk session: %w", err)
	}
	if ok {
		return nil
	}
	if _, err := m.Get(ctx, sessionID); err != nil {
		return err
	}
	return ErrSessionTerminated
}

// CountActiveByCode counts open, unexpired sessions spawned by the code.
func (m *Manager) CountActiveByCode(ctx context.Context, codeID string) (int, error) {
	return m.repo.CountActiveByCode(ctx, codeID, m.nowF())
}

// CountActiveByRole counts open, unexpired sessions of the role.
func (m *Manager) CountActiveByRole(ctx context.Context, roleID string) (int, error) {
	return m.repo.CountActiveByRole(ctx, roleID, m.nowF())
}

// ListActiveByRole returns the role's open, unexpired sessions.
func (m *Manager) ListActiveByRole(ctx context.Context, roleID string) ([]*domain.Session, error) {
	return m.repo.ListActiveByRole(ctx, roleID, m.nowF())
}

// SweepExpired ends every open session past its lifetime. Each row is ended at most once, so the
// sweep can run from several workers and alongside ValidateSession.
func (m *Manager) SweepExpired(ctx context.Context) (int, error) {
	ended, err := m.repo.EndExpired(ctx, m.nowF(), domain.SystemActor, domain.ReasonExpired)
	if err != nil {
		return 0, fmt.Errorf("sweep kiosk sessions: %w", err)
	}
	m.ended(ctx, domain.ReasonExpired, ended...)
	if len(ended) > 0 {
		m.logger.Info("swept expired kiosk sessions", zap.Int("count", len(ended)))
	}
	return len(ended), nil
}

func (m *Manager) ended(ctx context.Context, reason string, sessions ...*domain.Session) {
	m.metrics.SessionsTerminated(ctx, reason, len(sessions))
	for _, s := range sessions {
		m.logger.Info("kiosk session ended",
			zap.String("session_id", s.ID),
			zap.String("code_id", s.CodeID),
			zap.String("terminated_by", s.TerminatedBy),
			zap.String("reason", reason))
		ev := notify.Event{Type: notify.EventSessionTerminated, EntityID: s.ID, RoleID: s.RoleID}
		if s.EndedAt != nil {
			ev.OccurredAt = *s.EndedAt
		}
		m.notify(ctx, ev)
	}
}

// notify never fails the caller; the state change is already committed.
func (m *Manager) notify(ctx context.Context, ev notify.Event) {
	if err := m.notifier.Notify(ctx, ev); err != nil {
		m.logger.Warn("kiosk session: notify failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err))
	}
}
