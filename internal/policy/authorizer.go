// Package policy decides whether a kiosk session may act for a person, combining the code scope,
// the identity directory and the Rego scope evaluator.
package policy

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	identityrepo "kiosk-control-plane/backend/internal/identity/repository"
	codedomain "kiosk-control-plane/backend/internal/kioskcode/domain"
	sessiondomain "kiosk-control-plane/backend/internal/kiosksession/domain"
	"kiosk-control-plane/backend/internal/logger"
	"kiosk-control-plane/backend/internal/policy/engine"
)

// ErrOutOfScope is returned when the session's code does not cover the person.
var ErrOutOfScope = errors.New("person is outside this kiosk's scope")

// CodeGetter loads the code a session was created from.
type CodeGetter interface {
	Get(ctx context.Context, codeID string) (*codedomain.Code, error)
}

// Authorizer checks person access for kiosk sessions.
type Authorizer struct {
	codes     CodeGetter
	directory identityrepo.Directory
	evaluator engine.Evaluator
	logger    *zap.Logger
}

// NewAuthorizer returns an Authorizer. log may be nil.
func NewAuthorizer(codes CodeGetter, directory identityrepo.Directory, evaluator engine.Evaluator, log *zap.Logger) *Authorizer {
	return &Authorizer{codes: codes, directory: directory, evaluator: evaluator, logger: logger.OrNop(log)}
}

// AuthorizePerson returns nil if the session's code scope covers personID. Unknown people and
// evaluation failures are denials.
func (a *Authorizer) AuthorizePerson(ctx context.Context, s *sessiondomain.Session, personID string) error {
	code, err := a.codes.Get(ctx, s.CodeID)
	if err != nil {
		return fmt.Errorf("load session code: %w", err)
	}
	person, err := a.directory.GetPerson(ctx, personID)
	if err != nil {
		return fmt.Errorf("load person: %w", err)
	}
	if person == nil {
		return ErrOutOfScope
	}
	in := engine.ScopeInput{
		CodeRoleID:     code.OwnerRoleID,
		ScopeType:      string(code.Scope.Type),
		ScopeTargetID:  code.Scope.TargetID,
		PersonID:       person.ID,
		PersonRoleID:   person.RoleID,
		PersonGroupIDs: person.GroupIDs,
	}
	ok, err := a.evaluator.AllowPerson(ctx, in)
	if err != nil {
		a.logger.Error("scope evaluation failed",
			zap.String("session_id", s.ID),
			zap.String("person_id", personID),
			zap.Error(err))
		return ErrOutOfScope
	}
	if !ok {
		return ErrOutOfScope
	}
	return nil
}
