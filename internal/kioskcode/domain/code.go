package domain

import "time"

// Status is the lifecycle state of a kiosk code.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusUsed    Status = "USED"
	StatusExpired Status = "EXPIRED"
	StatusRevoked Status = "REVOKED"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusUsed || s == StatusExpired || s == StatusRevoked
}

// ScopeType is what a code grants access to inside its role.
type ScopeType string

const (
	ScopeRole   ScopeType = "role"
	ScopeGroup  ScopeType = "group"
	ScopePerson ScopeType = "person"
)

// Scope names the people a kiosk may record completions for. TargetID is empty for ScopeRole.
type Scope struct {
	Type     ScopeType
	TargetID string
}

// Code is a short-lived credential that admits one kiosk device. Only the hash of the secret is stored.
type Code struct {
	ID                  string
	OwnerRoleID         string
	Scope               Scope
	SecretHash          string
	Status              Status
	CreatedBy           string
	CreatedAt           time.Time
	ExpiresAt           time.Time
	SessionDurationDays int
	UsedAt              *time.Time // set exactly once, together with the session insert
	RevokedAt           *time.Time
}

// Usable reports whether the code may still spawn a session at now.
func (c *Code) Usable(now time.Time) bool {
	return (c.Status == StatusPending || c.Status == StatusActive) && c.ExpiresAt.After(now)
}

// SessionDuration is the lifetime granted to a session created from this code.
func (c *Code) SessionDuration() time.Duration {
	return time.Duration(c.SessionDurationDays) * 24 * time.Hour
}
