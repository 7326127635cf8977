// Package undo decides whether a recorded completion can still be reversed.
package undo

import (
	"time"

	"kiosk-control-plane/backend/internal/completion"
)

// DefaultWindow is how long a SIMPLE completion stays reversible.
const DefaultWindow = 5 * time.Minute

// CanUndo reports whether a completion of taskType recorded at completedAt may be undone at now.
// Only SIMPLE completions are reversible. The boundary itself is still inside the window.
func CanUndo(now, completedAt time.Time, taskType completion.TaskType, window time.Duration) bool {
	if taskType != completion.TaskTypeSimple {
		return false
	}
	return now.Sub(completedAt) <= window
}

// RemainingSeconds returns the whole seconds left in the window, for a countdown.
// It is 0 at the boundary and after, never negative. A completedAt in the future counts as just recorded.
func RemainingSeconds(now, completedAt time.Time, window time.Duration) int {
	elapsed := now.Sub(completedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	remaining := int(window/time.Second) - int(elapsed/time.Second)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Window applies CanUndo and RemainingSeconds with a fixed duration and clock.
type Window struct {
	duration time.Duration
	nowF     func() time.Time
}

// NewWindow returns a Window of the given duration. A non-positive duration uses DefaultWindow.
func NewWindow(d time.Duration) *Window {
	if d <= 0 {
		d = DefaultWindow
	}
	return &Window{duration: d, nowF: time.Now}
}

// WithClock returns a copy of w that reads the time from now.
func (w *Window) WithClock(now func() time.Time) *Window {
	cp := *w
	cp.nowF = now
	return &cp
}

// Duration returns the configured window.
func (w *Window) Duration() time.Duration { return w.duration }

// CanUndo reports whether c of taskType is still reversible.
func (w *Window) CanUndo(c completion.Completion, taskType completion.TaskType) bool {
	return CanUndo(w.nowF(), c.CompletedAt, taskType, w.duration)
}

// RemainingSeconds returns the seconds left to undo c.
func (w *Window) RemainingSeconds(c completion.Completion) int {
	return RemainingSeconds(w.nowF(), c.CompletedAt, w.duration)
}
