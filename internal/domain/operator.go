package domain

import "time"

// Operator is a privileged user of the administrative surface.
// Operators are deactivated, never deleted.
type Operator struct {
	ID             string     `json:"id"`
	Username       string     `json:"username"`
	PasswordHash   string     `json:"-"`
	TOTPSecret     string     `json:"-"`
	Role           Role       `json:"role"`
	FailedAttempts int        `json:"failed_attempts"`
	LockedUntil    *time.Time `json:"locked_until,omitempty"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
	Active         bool       `json:"active"`
	CreatedAt      time.Time  `json:"created_at"`
}

// LockedAt reports whether the operator is locked out at the given instant.
func (o *Operator) LockedAt(now time.Time) bool {
	return o.LockedUntil != nil && o.LockedUntil.After(now)
}

// Session is an issued login session. Sessions are kept for audit after
// they are deactivated.
type Session struct {
	ID         string    `json:"id"`
	OperatorID string    `json:"operator_id"`
	TokenHash  string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Active     bool      `json:"active"`
}

// Identity is the authenticated caller resolved from a session token.
// Permissions are fixed at authentication time; a role change takes effect
// on the next login.
type Identity struct {
	OperatorID  string       `json:"user_id"`
	Username    string       `json:"username"`
	Role        Role         `json:"role"`
	Permissions []Capability `json:"permissions"`
	SessionID   string       `json:"session_id"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

// Has reports whether the identity carries the capability.
func (i *Identity) Has(c Capability) bool {
	if i == nil {
		return false
	}
	for _, p := range i.Permissions {
		if p == c {
			return true
		}
	}
	return false
}

// AuthResult is returned by a successful login.
type AuthResult struct {
	Identity
	Token string `json:"token"`
}
