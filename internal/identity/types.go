package identity

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse system-wide capability of a principal. It is not a
// tenant-scoped role; organization and team roles live in the tenant package.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// ParseRole normalizes and validates a role value.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(strings.ToLower(raw))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
}

// User represents an authenticated principal.
type User struct {
	ID            string    `json:"id"`
	Email         string    `json:"email"`
	Name          string    `json:"name"`
	Role          Role      `json:"role"`
	EmailVerified bool      `json:"email_verified"`
	PasswordHash  string    `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
}

// Session is one device's authenticated attachment to a principal. A
// principal may hold any number of concurrent sessions.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Token     string    `json:"-"`
	UserAgent string    `json:"user_agent,omitempty"`
	IP        string    `json:"ip,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExpiredAt reports whether the session is no longer valid at the given
// instant. Expiry is an inclusive upper bound on validity.
func (s Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// EffectiveIdentity is the resolved identity for one request. Effective is
// what all downstream authorization operates on; Real is retained for audit
// and is the only identity consulted when impersonation itself is started
// or stopped.
type EffectiveIdentity struct {
	Real          User
	Effective     User
	Impersonating bool
}

// Identify builds the trivial identity where a principal acts as itself.
func Identify(u User) EffectiveIdentity {
	return EffectiveIdentity{Real: u, Effective: u}
}
