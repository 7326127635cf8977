// Package completion validates task completions and derives per-period aggregates from the completion log.
// Everything here is pure; storage and notification live in the repository and service subpackages.
package completion

import "time"

// TaskType selects the aggregation policy for a task.
type TaskType string

const (
	TaskTypeSimple          TaskType = "SIMPLE"
	TaskTypeMultipleCheckin TaskType = "MULTIPLE_CHECKIN"
	TaskTypeProgress        TaskType = "PROGRESS"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeSimple, TaskTypeMultipleCheckin, TaskTypeProgress:
		return true
	}
	return false
}

// Task is the part of a task this package needs. TargetValue is only meaningful for PROGRESS.
type Task struct {
	ID          string
	RoleID      string
	Type        TaskType
	TargetValue *int
}

// Completion is one recorded event of a person performing a task. Completions are never mutated;
// undo deletes the row.
type Completion struct {
	ID          string
	TaskID      string
	PersonID    string
	CompletedAt time.Time
	Value       *string // numeric string for PROGRESS; nil otherwise
}

// Aggregate is the derived state of a task for one person in one reset period.
// Progress and TotalValue are set only for PROGRESS tasks.
type Aggregate struct {
	IsComplete      bool     `json:"is_complete"`
	CompletionCount int      `json:"completion_count"`
	Progress        *int     `json:"progress,omitempty"`
	TotalValue      *float64 `json:"total_value,omitempty"`
}
