package invite

import (
	"time"

	"pagegrid.org/internal/tenant"
)

// Status of an invite. Pending is the only non-terminal state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusExpired  Status = "expired"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusAccepted || s == StatusExpired
}

// TTL is the validity window of an invite from creation.
const TTL = 7 * 24 * time.Hour

// Invite is a single-use, time-bounded capability that grants membership in
// exactly one scope (organization or team) upon acceptance.
type Invite struct {
	ID             string      `json:"id"`
	Email          string      `json:"email"`
	Token          string      `json:"-"`
	OrganizationID string      `json:"organization_id,omitempty"`
	TeamID         string      `json:"team_id,omitempty"`
	Role           tenant.Role `json:"role"`
	InviterID      string      `json:"inviter_id"`
	Status         Status      `json:"status"`
	ExpiresAt      time.Time   `json:"expires_at"`
	AcceptedAt     *time.Time  `json:"accepted_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Scope returns the tenant scope the invite targets.
func (i Invite) Scope() tenant.Scope {
	if i.TeamID != "" {
		return tenant.TeamScope(i.TeamID)
	}
	return tenant.OrgScope(i.OrganizationID)
}

// ExpiredAt reports whether the invite's validity window has closed at the
// given instant. Expiry is an inclusive upper bound: an invite fetched at
// exactly its expiry timestamp is expired.
func (i Invite) ExpiredAt(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}
