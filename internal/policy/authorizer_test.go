package policy

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap/zaptest"

	identitydomain "kiosk-control-plane/backend/internal/identity/domain"
	codedomain "kiosk-control-plane/backend/internal/kioskcode/domain"
	sessiondomain "kiosk-control-plane/backend/internal/kiosksession/domain"
	"kiosk-control-plane/backend/internal/memstore"
	"kiosk-control-plane/backend/internal/policy/engine"
)

type codeMap map[string]*codedomain.Code

func (m codeMap) Get(_ context.Context, id string) (*codedomain.Code, error) {
	c, ok := m[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return c, nil
}

type failingEvaluator struct{}

func (failingEvaluator) AllowPerson(context.Context, engine.ScopeInput) (bool, error) {
	return true, errors.New("rego crashed")
}

func newAuthorizer(t *testing.T, eval engine.Evaluator) *Authorizer {
	t.Helper()
	st := memstore.New()
	st.PutPerson(identitydomain.Person{ID: "kid-1", RoleID: "role-1", GroupIDs: []string{"morning"}})
	st.PutPerson(identitydomain.Person{ID: "kid-2", RoleID: "role-1"})
	st.PutPerson(identitydomain.Person{ID: "stranger", RoleID: "role-9"})
	codes := codeMap{
		"role-code":   {ID: "role-code", OwnerRoleID: "role-1", Scope: codedomain.Scope{Type: codedomain.ScopeRole}},
		"group-code":  {ID: "group-code", OwnerRoleID: "role-1", Scope: codedomain.Scope{Type: codedomain.ScopeGroup, TargetID: "morning"}},
		"person-code": {ID: "person-code", OwnerRoleID: "role-1", Scope: codedomain.Scope{Type: codedomain.ScopePerson, TargetID: "kid-2"}},
	}
	if eval == nil {
		e, err := engine.NewOPAEvaluator(context.Background(), "")
		if err != nil {
			t.Fatalf("NewOPAEvaluator: %v", err)
		}
		eval = e
	}
	return NewAuthorizer(codes, st.People(), eval, zaptest.NewLogger(t))
}

func TestAuthorizePerson(t *testing.T) {
	a := newAuthorizer(t, nil)
	testCases := []struct {
		code   string
		person string
		allow  bool
	}{
		{"role-code", "kid-1", true},
		{"role-code", "kid-2", true},
		{"role-code", "stranger", false},
		{"role-code", "nobody", false},
		{"group-code", "kid-1", true},
		{"group-code", "kid-2", false},
		{"person-code", "kid-2", true},
		{"person-code", "kid-1", false},
	}
	for _, tc := range testCases {
		t.Run(tc.code+"/"+tc.person, func(t *testing.T) {
			err := a.AuthorizePerson(context.Background(), &sessiondomain.Session{ID: "s1", CodeID: tc.code}, tc.person)
			if tc.allow && err != nil {
				t.Errorf("AuthorizePerson: %v", err)
			}
			if !tc.allow && !errors.Is(err, ErrOutOfScope) {
				t.Errorf("err = %v, want ErrOutOfScope", err)
			}
		})
	}
}

func TestAuthorizePerson_EvaluatorErrorDenies(t *testing.T) {
	a := newAuthorizer(t, failingEvaluator{})
	err := a.AuthorizePerson(context.Background(), &sessiondomain.Session{ID: "s1", CodeID: "role-code"}, "kid-1")
	if !errors.Is(err, ErrOutOfScope) {
		t.Errorf("err = %v, want ErrOutOfScope", err)
	}
}

func TestAuthorizePerson_CodeLookupError(t *testing.T) {
	a := newAuthorizer(t, nil)
	err := a.AuthorizePerson(context.Background(), &sessiondomain.Session{ID: "s1", CodeID: "gone"}, "kid-1")
	if err == nil || errors.Is(err, ErrOutOfScope) {
		t.Errorf("err = %v, want a lookup error", err)
	}
}
