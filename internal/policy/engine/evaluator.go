package engine

import "context"

// ScopeInput describes a kiosk code's scope and the person a completion is recorded for.
type ScopeInput struct {
	CodeRoleID     string
	ScopeType      string
	ScopeTargetID  string
	PersonID       string
	PersonRoleID   string
	PersonGroupIDs []string
}

// Evaluator decides whether a code scope covers a person.
type Evaluator interface {
	// AllowPerson reports whether the scope in the input covers the person. Errors mean no decision
	// could be made; callers must treat them as a denial.
	AllowPerson(ctx context.Context, in ScopeInput) (bool, error)
}
