package completion

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// MaxCheckinEntries is the per-period cap for MULTIPLE_CHECKIN tasks.
	MaxCheckinEntries = 9
	// MaxProgressEntries is the per-period cap for PROGRESS tasks.
	MaxProgressEntries = 99

	MinProgressValue = 1
	MaxProgressValue = 999
)

var (
	ErrEntryLimitExceeded   = errors.New("entry limit exceeded for this period")
	ErrInvalidProgressValue = errors.New("invalid progress value")
)

// Reasons carried by ProgressValueError.
const (
	ReasonNotANumber   = "not_a_number"
	ReasonNotAnInteger = "not_an_integer"
	ReasonOutOfRange   = "out_of_range"
)

// ProgressValueError describes why a PROGRESS value was rejected. It matches ErrInvalidProgressValue with errors.Is.
type ProgressValueError struct {
	Value  string
	Reason string
}

func (e *ProgressValueError) Error() string {
	switch e.Reason {
	case ReasonNotANumber:
		return fmt.Sprintf("invalid progress value %q: not a number", e.Value)
	case ReasonNotAnInteger:
		return fmt.Sprintf("invalid progress value %q: must be a whole number", e.Value)
	default:
		return fmt.Sprintf("invalid progress value %q: must be between %d and %d", e.Value, MinProgressValue, MaxProgressValue)
	}
}

func (e *ProgressValueError) Unwrap() error { return ErrInvalidProgressValue }

// decimalValue is a plain decimal literal: optional sign, digits, optional fraction.
// Hex, exponent, underscore and Inf/NaN forms are not numbers here.
var decimalValue = regexp.MustCompile(`^[+-]?(?:[0-9]+(?:\.[0-9]*)?|\.[0-9]+)$`)

// ValidateProgressValue parses a submitted PROGRESS value. It must be an integer in [1, 999].
func ValidateProgressValue(value string) (int, error) {
	s := strings.TrimSpace(value)
	if !decimalValue.MatchString(s) {
		return 0, &ProgressValueError{Value: value, Reason: ReasonNotANumber}
	}
	f, err := strconv.ParseFloat(s, 64)
	if errors.Is(err, strconv.ErrRange) {
		return 0, &ProgressValueError{Value: value, Reason: ReasonOutOfRange}
	}
	if err != nil {
		return 0, &ProgressValueError{Value: value, Reason: ReasonNotANumber}
	}
	if f != math.Trunc(f) {
		return 0, &ProgressValueError{Value: value, Reason: ReasonNotAnInteger}
	}
	if f < MinProgressValue || f > MaxProgressValue {
		return 0, &ProgressValueError{Value: value, Reason: ReasonOutOfRange}
	}
	return int(f), nil
}

// NextEntryNumber returns the 1-based entry number a new completion would take given the number
// already recorded in the period. SIMPLE has no cap here; duplicate handling is the caller's decision.
func NextEntryNumber(taskType TaskType, periodCount int) (int, error) {
	next := periodCount + 1
	switch taskType {
	case TaskTypeMultipleCheckin:
		if next > MaxCheckinEntries {
			return 0, ErrEntryLimitExceeded
		}
	case TaskTypeProgress:
		if next > MaxProgressEntries {
			return 0, ErrEntryLimitExceeded
		}
	}
	return next, nil
}

// InPeriod returns the completions with CompletedAt at or after resetDate, in input order.
func InPeriod(completions []Completion, resetDate time.Time) []Completion {
	out := make([]Completion, 0, len(completions))
	for _, c := range completions {
		if !c.CompletedAt.Before(resetDate) {
			out = append(out, c)
		}
	}
	return out
}

// Summarize derives the task state from the completions of one period.
// periodCompletions must already be filtered with InPeriod.
func Summarize(task Task, periodCompletions []Completion) Aggregate {
	agg := Aggregate{CompletionCount: len(periodCompletions)}
	switch task.Type {
	case TaskTypeSimple:
		agg.IsComplete = agg.CompletionCount > 0
	case TaskTypeMultipleCheckin:
		agg.IsComplete = false
	case TaskTypeProgress:
		total := 0.0
		for _, c := range periodCompletions {
			total += storedValue(c.Value)
		}
		progress := progressPercent(total, task.TargetValue)
		agg.TotalValue = &total
		agg.Progress = &progress
		agg.IsComplete = progress >= 100
	}
	return agg
}

// storedValue reads a persisted value; anything unparseable counts as 0.
func storedValue(v *string) float64 {
	if v == nil {
		return 0
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(*v), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

func progressPercent(total float64, target *int) int {
	if target == nil || *target <= 0 {
		return 0
	}
	p := math.Round(total / float64(*target) * 100)
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return int(p)
}
