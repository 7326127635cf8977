package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"kiosk-control-plane/backend/internal/billing"
	"kiosk-control-plane/backend/internal/kioskcode/domain"
	"kiosk-control-plane/backend/internal/memstore"
	"kiosk-control-plane/backend/internal/security"
)

type failingLimits struct{ err error }

func (f failingLimits) KioskCodeLimit(context.Context, string) (int, error) { return 0, f.err }

type clock struct{ t time.Time }

func (c *clock) now() time.Time           { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRegistry(t *testing.T, limit int) (*Registry, *clock, *memstore.Store) {
	t.Helper()
	st := memstore.New()
	clk := &clock{t: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)}
	r := NewRegistry(st.Codes(), billing.Static(limit), nil, zaptest.NewLogger(t))
	r.nowF = clk.now
	return r, clk, st
}

func issueInput() IssueInput {
	return IssueInput{
		RoleID:              "role-1",
		Scope:               domain.Scope{Type: domain.ScopeRole},
		ExpiresInMinutes:    10,
		SessionDurationDays: 30,
		CreatedBy:           "owner-1",
	}
}

func TestIssue_CreatesActiveCode(t *testing.T) {
	r, clk, _ := newTestRegistry(t, 2)
	ctx := context.Background()

	c, secret, err := r.Issue(ctx, issueInput())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if c.Status != domain.StatusActive {
		t.Errorf("Status = %s, want ACTIVE", c.Status)
	}
	if len(secret) != security.CodeSecretLength {
		t.Errorf("secret length = %d, want %d", len(secret), security.CodeSecretLength)
	}
	if c.SecretHash != security.HashCodeSecret(secret) {
		t.Error("stored hash does not match returned secret")
	}
	if !c.ExpiresAt.Equal(clk.t.Add(10 * time.Minute)) {
		t.Errorf("ExpiresAt = %v, want now+10m", c.ExpiresAt)
	}
	got, err := r.Validate(ctx, secret)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got.ID != c.ID {
		t.Errorf("Validate returned %q, want %q", got.ID, c.ID)
	}
}

func TestIssue_TierLimit(t *testing.T) {
	r, clk, _ := newTestRegistry(t, 2)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, _, err := r.Issue(ctx, issueInput()); err != nil {
			t.Fatalf("Issue %d: %v", i, err)
		}
	}
	if _, _, err := r.Issue(ctx, issueInput()); !errors.Is(err, ErrTierLimitExceeded) {
		t.Fatalf("third Issue err = %v, want ErrTierLimitExceeded", err)
	}

	other := issueInput()
	other.RoleID = "role-2"
	if _, _, err := r.Issue(ctx, other); err != nil {
		t.Errorf("other role Issue: %v", err)
	}

	clk.advance(11 * time.Minute)
	if _, _, err := r.Issue(ctx, issueInput()); err != nil {
		t.Errorf("Issue after codes expired: %v", err)
	}
}

func TestIssue_RevokedCodeFreesSlot(t *testing.T) {
	r, _, _ := newTestRegistry(t, 1)
	ctx := context.Background()
	c, _, err := r.Issue(ctx, issueInput())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := r.Revoke(ctx, c.ID, "owner-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if _, _, err := r.Issue(ctx, issueInput()); err != nil {
		t.Errorf("Issue after revoke: %v", err)
	}
}

func TestIssue_InvalidInput(t *testing.T) {
	r, _, _ := newTestRegistry(t, 5)
	testCases := []struct {
		name   string
		mutate func(*IssueInput)
	}{
		{"missing role", func(in *IssueInput) { in.RoleID = " " }},
		{"missing creator", func(in *IssueInput) { in.CreatedBy = "" }},
		{"unknown scope", func(in *IssueInput) { in.Scope.Type = "team" }},
		{"group without target", func(in *IssueInput) { in.Scope = domain.Scope{Type: domain.ScopeGroup} }},
		{"person without target", func(in *IssueInput) { in.Scope = domain.Scope{Type: domain.ScopePerson} }},
		{"zero expiry", func(in *IssueInput) { in.ExpiresInMinutes = 0 }},
		{"expiry over a day", func(in *IssueInput) { in.ExpiresInMinutes = 1441 }},
		{"zero session days", func(in *IssueInput) { in.SessionDurationDays = 0 }},
		{"session over a year", func(in *IssueInput) { in.SessionDurationDays = 366 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			in := issueInput()
			tc.mutate(&in)
			if _, _, err := r.Issue(context.Background(), in); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("err = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestIssue_RoleScopeDropsTarget(t *testing.T) {
	r, _, _ := newTestRegistry(t, 5)
	in := issueInput()
	in.Scope.TargetID = "ignored"
	c, _, err := r.Issue(context.Background(), in)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if c.Scope.TargetID != "" {
		t.Errorf("TargetID = %q, want empty", c.Scope.TargetID)
	}
}

func TestIssue_LimitsError(t *testing.T) {
	st := memstore.New()
	r := NewRegistry(st.Codes(), failingLimits{err: errors.New("billing down")}, nil, nil)
	if _, _, err := r.Issue(context.Background(), issueInput()); err == nil {
		t.Fatal("Issue should fail when limits are unavailable")
	}
}

func TestValidate_DistinguishesStates(t *testing.T) {
	r, clk, st := newTestRegistry(t, 10)
	ctx := context.Background()

	issue := func() (*domain.Code, string) {
		c, secret, err := r.Issue(ctx, issueInput())
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		return c, secret
	}

	_, fresh := issue()
	revoked, revokedSecret := issue()
	if _, err := r.Revoke(ctx, revoked.ID, "owner-1"); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	used, usedSecret := issue()
	markUsed(t, st, used.ID, clk.t)

	if _, err := r.Validate(ctx, "ZZZZ9999"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("unknown secret err = %v, want ErrCodeNotFound", err)
	}
	if _, err := r.Validate(ctx, "  "); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("blank secret err = %v, want ErrCodeNotFound", err)
	}
	if _, err := r.Validate(ctx, revokedSecret); !errors.Is(err, ErrCodeRevoked) {
		t.Errorf("revoked err = %v, want ErrCodeRevoked", err)
	}
	if _, err := r.Validate(ctx, usedSecret); !errors.Is(err, ErrCodeAlreadyUsed) {
		t.Errorf("used err = %v, want ErrCodeAlreadyUsed", err)
	}
	if _, err := r.Validate(ctx, fresh); err != nil {
		t.Errorf("fresh secret: %v", err)
	}

	clk.advance(10 * time.Minute)
	if _, err := r.Validate(ctx, fresh); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("at expiry err = %v, want ErrCodeExpired", err)
	}
	if n, err := r.ExpireStale(ctx); err != nil || n != 1 {
		t.Errorf("ExpireStale = %d, %v; want 1", n, err)
	}
	if _, err := r.Validate(ctx, fresh); !errors.Is(err, ErrCodeExpired) {
		t.Errorf("after sweep err = %v, want ErrCodeExpired", err)
	}
}

func TestValidate_AcceptsFormattedSecret(t *testing.T) {
	r, _, _ := newTestRegistry(t, 1)
	_, secret, err := r.Issue(context.Background(), issueInput())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	typed := secret[:4] + "-" + secret[4:]
	if _, err := r.Validate(context.Background(), typed); err != nil {
		t.Errorf("Validate(%q): %v", typed, err)
	}
}

func TestValidate_DoesNotMutate(t *testing.T) {
	r, _, st := newTestRegistry(t, 1)
	ctx := context.Background()
	c, secret, err := r.Issue(ctx, issueInput())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := r.Validate(ctx, secret); err != nil {
			t.Fatalf("Validate %d: %v", i, err)
		}
	}
	got, _ := st.Codes().GetByID(ctx, c.ID)
	if got.Status != domain.StatusActive || got.UsedAt != nil {
		t.Errorf("code changed by Validate: status=%s usedAt=%v", got.Status, got.UsedAt)
	}
}

func TestRevoke(t *testing.T) {
	r, clk, st := newTestRegistry(t, 10)
	ctx := context.Background()

	c, _, _ := r.Issue(ctx, issueInput())
	got, err := r.Revoke(ctx, c.ID, "owner-1")
	if err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if got.Status != domain.StatusRevoked || got.RevokedAt == nil {
		t.Errorf("Revoke returned status=%s revokedAt=%v", got.Status, got.RevokedAt)
	}
	if _, err := r.Revoke(ctx, c.ID, "owner-1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second Revoke err = %v, want ErrAlreadyTerminal", err)
	}

	used, _, _ := r.Issue(ctx, issueInput())
	markUsed(t, st, used.ID, clk.t)
	if _, err := r.Revoke(ctx, used.ID, "owner-1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("Revoke used err = %v, want ErrAlreadyTerminal", err)
	}

	stale, _, _ := r.Issue(ctx, issueInput())
	clk.advance(time.Hour)
	if _, err := r.Revoke(ctx, stale.ID, "owner-1"); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("Revoke time-expired err = %v, want ErrAlreadyTerminal", err)
	}

	if _, err := r.Revoke(ctx, "missing", "owner-1"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Revoke missing err = %v, want ErrCodeNotFound", err)
	}
}

func TestListByRoleAndCountActive(t *testing.T) {
	r, clk, _ := newTestRegistry(t, 10)
	ctx := context.Background()
	first, _, _ := r.Issue(ctx, issueInput())
	clk.advance(time.Minute)
	second, _, _ := r.Issue(ctx, issueInput())

	list, err := r.ListByRole(ctx, "role-1")
	if err != nil {
		t.Fatalf("ListByRole: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("ListByRole order wrong: %+v", list)
	}
	if n, _ := r.CountActive(ctx, "role-1"); n != 2 {
		t.Errorf("CountActive = %d, want 2", n)
	}
	if _, err := r.Get(ctx, ""); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("Get empty err = %v, want ErrCodeNotFound", err)
	}
}

// markUsed consumes a code the way session creation does.
func markUsed(t *testing.T, st *memstore.Store, codeID string, at time.Time) {
	t.Helper()
	sessions := st.Sessions()
	ok, err := sessions.CreateFromCode(context.Background(), newSessionFor(codeID, at), at)
	if err != nil || !ok {
		t.Fatalf("consume code %s: ok=%v err=%v", codeID, ok, err)
	}
}
