// Package notify tells downstream listeners that kiosk state changed. Delivery is best effort:
// the core never fails or rolls back an operation because a notification could not be sent.
package notify

import (
	"context"
	"errors"
	"time"
)

// EventType names the kind of change.
type EventType string

const (
	EventCompletionRecorded EventType = "completion_recorded"
	EventSessionTerminated  EventType = "session_terminated"
	EventSessionUpdated     EventType = "session_updated"
)

// Event is an invalidation signal. EntityID is the task id for completions and the session id for sessions.
type Event struct {
	Type       EventType `json:"event_type"`
	EntityID   string    `json:"entity_id"`
	PersonID   string    `json:"person_id,omitempty"`
	RoleID     string    `json:"role_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier delivers events. Implementations may block on I/O; wrap with Async for request paths.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
