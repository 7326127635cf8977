package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/open-policy-agent/opa/v1/rego"
)

const scopeQuery = "data.kiosk.scope.allow"

// DefaultScopePolicy allows a person when the code belongs to their role and the scope matches:
// any person of the role, a member of the target group, or exactly the target person.
const DefaultScopePolicy = `package kiosk.scope

default allow := false

same_role if {
	input.person.role_id != ""
	input.person.role_id == input.code.role_id
}

allow if {
	same_role
	input.code.scope_type == "role"
}

allow if {
	same_role
	input.code.scope_type == "group"
	some g in input.person.group_ids
	g == input.code.scope_target_id
}

allow if {
	same_role
	input.code.scope_type == "person"
	input.person.id == input.code.scope_target_id
}
`

// OPAEvaluator evaluates scope policies using OPA Rego. The query is compiled once.
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles policy, or DefaultScopePolicy when policy is empty. The policy must
// define data.kiosk.scope.allow.
func NewOPAEvaluator(ctx context.Context, policy string) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultScopePolicy
	}
	q, err := rego.New(
		rego.Query(scopeQuery),
		rego.Module("scope.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile scope policy: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// AllowPerson evaluates the prepared policy. Anything other than a boolean true is a denial.
func (e *OPAEvaluator) AllowPerson(ctx context.Context, in ScopeInput) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return false, fmt.Errorf("eval scope policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := rs[0].Expressions[0].Value.(bool)
	return ok && allowed, nil
}

// HealthCheck evaluates a person the default rules always allow. Does not touch the database.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	ok, err := e.AllowPerson(ctx, ScopeInput{
		CodeRoleID:   "health",
		ScopeType:    "role",
		PersonID:     "health",
		PersonRoleID: "health",
	})
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("scope policy denied the health check input")
	}
	return nil
}

func buildInput(in ScopeInput) map[string]interface{} {
	groups := make([]interface{}, 0, len(in.PersonGroupIDs))
	for _, g := range in.PersonGroupIDs {
		groups = append(groups, g)
	}
	return map[string]interface{}{
		"code": map[string]interface{}{
			"role_id":         in.CodeRoleID,
			"scope_type":      in.ScopeType,
			"scope_target_id": in.ScopeTargetID,
		},
		"person": map[string]interface{}{
			"id":        in.PersonID,
			"role_id":   in.PersonRoleID,
			"group_ids": groups,
		},
	}
}
