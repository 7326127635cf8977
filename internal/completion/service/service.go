package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kiosk-control-plane/backend/internal/completion"
	"kiosk-control-plane/backend/internal/completion/repository"
	"kiosk-control-plane/backend/internal/completion/undo"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/notify"
	"kiosk-control-plane/backend/internal/telemetry"
)

// Sentinel errors for the completion service; handlers map them to HTTP codes.
// completion.ErrEntryLimitExceeded and completion.ErrInvalidProgressValue pass through unchanged.
var (
	ErrTaskNotFound       = errors.New("task not found")
	ErrCompletionNotFound = errors.New("completion not found")
	ErrAlreadyCompleted   = errors.New("task is already complete for this period")
	ErrUndoNotSupported   = errors.New("only simple task completions can be undone")
	ErrUndoWindowExpired  = errors.New("undo window has passed")
	ErrInvalidInput       = errors.New("invalid input")
)

// RecordInput is one completion submission. RoleID, when set, must own the task.
type RecordInput struct {
	TaskID    string
	PersonID  string
	RoleID    string
	Value     *string
	ResetDate time.Time
}

// RecordResult is the stored completion and the aggregate re-derived from the period log.
type RecordResult struct {
	Completion           completion.Completion
	EntryNumber          int
	Aggregate            completion.Aggregate
	CanUndo              bool
	UndoRemainingSeconds int
}

// Status is a task's state for one person in the current period.
type Status struct {
	TaskID               string
	PersonID             string
	Type                 completion.TaskType
	Aggregate            completion.Aggregate
	LatestCompletionID   string
	CanUndo              bool
	UndoRemainingSeconds int
}

// Service records, undoes and reports task completions.
type Service struct {
	tasks    repository.TaskSource
	repo     repository.Repository
	window   *undo.Window
	notifier notify.Notifier
	metrics  *telemetry.Metrics
	logger   *zap.Logger
	nowF     func() time.Time
}

// NewService returns a Service. A non-positive undoWindow uses undo.DefaultWindow.
// notifier, metrics and log may be nil.
func NewService(tasks repository.TaskSource, repo repository.Repository, undoWindow time.Duration, notifier notify.Notifier, metrics *telemetry.Metrics, log *zap.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Service{
		tasks:    tasks,
		repo:     repo,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger.OrNop(log),
		nowF:     func() time.Time { return time.Now().UTC() },
	}
	s.window = undo.NewWindow(undoWindow).WithClock(func() time.Time { return s.nowF() })
	return s
}

// Record appends a completion after checking the task type rules against the current period.
// A SIMPLE task already complete in the period is rejected with ErrAlreadyCompleted.
func (s *Service) Record(ctx context.Context, in RecordInput) (*RecordResult, error) {
	in.TaskID = strings.TrimSpace(in.TaskID)
	in.PersonID = strings.TrimSpace(in.PersonID)
	if in.TaskID == "" || in.PersonID == "" {
		return nil, fmt.Errorf("%w: task and person are required", ErrInvalidInput)
	}
	now := s.nowF()
	if in.ResetDate.After(now) {
		return nil, fmt.Errorf("%w: reset date is in the future", ErrInvalidInput)
	}
	task, err := s.task(ctx, in.TaskID, in.RoleID)
	if err != nil {
		return nil, err
	}

	c := completion.Completion{
		ID:          uuid.New().String(),
		TaskID:      task.ID,
		PersonID:    in.PersonID,
		CompletedAt: now,
	}
	if task.Type == completion.TaskTypeProgress {
		raw := ""
		if in.Value != nil {
			raw = *in.Value
		}
		n, err := completion.ValidateProgressValue(raw)
		if err != nil {
			return nil, err
		}
		v := strconv.Itoa(n)
		c.Value = &v
	}

	var entry int
	period, err := s.repo.Append(ctx, c, in.ResetDate, func(existing []completion.Completion) error {
		if task.Type == completion.TaskTypeSimple && completion.Summarize(*task, existing).IsComplete {
			return ErrAlreadyCompleted
		}
		var err error
		entry, err = completion.NextEntryNumber(task.Type, len(existing))
		return err
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) || errors.Is(err, completion.ErrEntryLimitExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("record completion: %w", err)
	}

	res := &RecordResult{
		Completion:  c,
		EntryNumber: entry,
		Aggregate:   completion.Summarize(*task, period),
	}
	if task.Type == completion.TaskTypeSimple {
		res.CanUndo = s.window.CanUndo(c, task.Type)
		res.UndoRemainingSeconds = s.window.RemainingSeconds(c)
	}
	s.metrics.CompletionRecorded(ctx, string(task.Type))
	s.logger.Debug("completion recorded",
		zap.String("completion_id", c.ID),
		zap.String("task_id", task.ID),
		zap.String("person_id", c.PersonID),
		zap.Int("entry", entry))
	s.notify(ctx, notify.Event{
		Type: notify.EventCompletionRecorded, EntityID: task.ID, PersonID: c.PersonID, RoleID: task.RoleID, OccurredAt: now,
	})
	return res, nil
}

// Get returns a completion or ErrCompletionNotFound.
func (s *Service) Get(ctx context.Context, completionID string) (*completion.Completion, error) {
	if completionID == "" {
		return nil, ErrCompletionNotFound
	}
	c, err := s.repo.GetByID(ctx, completionID)
	if err != nil {
		return nil, fmt.Errorf("get completion: %w", err)
	}
	if c == nil {
		return nil, ErrCompletionNotFound
	}
	return c, nil
}

// Undo deletes a SIMPLE completion that is still inside the undo window. roleID, when set, must own the task.
func (s *Service) Undo(ctx context.Context, completionID, roleID string) (*completion.Completion, error) {
	c, err := s.Get(ctx, completionID)
	if err != nil {
		return nil, err
	}
	task, err := s.task(ctx, c.TaskID, roleID)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			return nil, ErrCompletionNotFound
		}
		return nil, err
	}
	if task.Type != completion.TaskTypeSimple {
		return nil, ErrUndoNotSupported
	}
	if !s.window.CanUndo(*c, task.Type) {
		return nil, ErrUndoWindowExpired
	}
	ok, err := s.repo.Delete(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("undo completion: %w", err)
	}
	if !ok {
		return nil, ErrCompletionNotFound
	}
	s.metrics.CompletionUndone(ctx)
	s.logger.Debug("completion undone", zap.String("completion_id", c.ID), zap.String("task_id", task.ID))
	s.notify(ctx, notify.Event{
		Type: notify.EventCompletionRecorded, EntityID: task.ID, PersonID: c.PersonID, RoleID: task.RoleID, OccurredAt: s.nowF(),
	})
	return c, nil
}

// Status derives the task's aggregate for the period from the log, plus undo eligibility of the
// latest SIMPLE completion.
func (s *Service) Status(ctx context.Context, taskID, personID, roleID string, resetDate time.Time) (*Status, error) {
	task, err := s.task(ctx, taskID, roleID)
	if err != nil {
		return nil, err
	}
	period, err := s.repo.ListInPeriod(ctx, task.ID, personID, resetDate)
	if err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	st := &Status{
		TaskID:    task.ID,
		PersonID:  personID,
		Type:      task.Type,
		Aggregate: completion.Summarize(*task, period),
	}
	if n := len(period); n > 0 {
		latest := period[n-1]
		st.LatestCompletionID = latest.ID
		if task.Type == completion.TaskTypeSimple {
			st.CanUndo = s.window.CanUndo(latest, task.Type)
			st.UndoRemainingSeconds = s.window.RemainingSeconds(latest)
		}
	}
	return st, nil
}

func (s *Service) task(ctx context.Context, taskID, roleID string) (*completion.Task, error) {
	task, err := s.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if task == nil || (roleID != "" && task.RoleID != roleID) {
		return nil, ErrTaskNotFound
	}
	return task, nil
}

func (s *Service) notify(ctx context.Context, ev notify.Event) {
	if err := s.notifier.Notify(ctx, ev); err != nil {
		s.logger.Warn("completion: notify failed",
			zap.String("event_type", string(ev.Type)),
			zap.String("entity_id", ev.EntityID),
			zap.Error(err))
	}
}
