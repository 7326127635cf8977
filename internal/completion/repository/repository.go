package repository

import (
	"context"
	"time"

	"kiosk-control-plane/backend/internal/completion"
)

// TaskSource reads tasks owned by the routine service. Returns (nil, nil) when the task does not exist.
type TaskSource interface {
	GetTask(ctx context.Context, id string) (*completion.Task, error)
}

// Repository is the append-only completion log. Getters return (nil, nil) when missing.
type Repository interface {
	GetByID(ctx context.Context, id string) (*completion.Completion, error)
	// ListInPeriod returns the person's completions of the task at or after resetDate, oldest first.
	ListInPeriod(ctx context.Context, taskID, personID string, resetDate time.Time) ([]completion.Completion, error)
	// Append inserts c after admit accepts the current period log. Appends for the same task and person
	// are serialized, so admit sees every earlier entry. Returns the period log including c.
	Append(ctx context.Context, c completion.Completion, resetDate time.Time, admit func(period []completion.Completion) error) ([]completion.Completion, error)
	// Delete removes the completion. Returns false if it did not exist.
	Delete(ctx context.Context, id string) (bool, error)
}
