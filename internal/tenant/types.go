package tenant

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Role is a tenant-scoped membership role. The set is closed and carries an
// explicit partial order: member < admin < owner.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

var roleRank = map[Role]int{
	RoleMember: 1,
	RoleAdmin:  2,
	RoleOwner:  3,
}

// ParseRole normalizes and validates a membership role value.
func ParseRole(raw string) (Role, error) {
	r := Role(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("%w: unknown role %q", ErrInvalidInput, raw)
	}
	return r, nil
}

// AtLeast reports whether the role ranks at or above the other.
func (r Role) AtLeast(other Role) bool {
	return roleRank[r] >= roleRank[other]
}

// In reports whether the role is in the required set.
func (r Role) In(required ...Role) bool {
	for _, req := range required {
		if r == req {
			return true
		}
	}
	return false
}

// ManagementRoles is the required-role set for management actions: inviting,
// creating teams, mutating organization settings.
var ManagementRoles = []Role{RoleOwner, RoleAdmin}

// Status of a membership row.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// ScopeKind distinguishes the two tenant scope types.
type ScopeKind string

const (
	ScopeOrganization ScopeKind = "organization"
	ScopeTeam         ScopeKind = "team"
)

// Scope identifies the unit membership and role checks apply to.
type Scope struct {
	Kind ScopeKind
	ID   string
}

// OrgScope builds an organization scope.
func OrgScope(id string) Scope { return Scope{Kind: ScopeOrganization, ID: id} }

// TeamScope builds a team scope.
func TeamScope(id string) Scope { return Scope{Kind: ScopeTeam, ID: id} }

// Organization is a top-level tenant. OwnerID is set at creation and never
// changes; it is the single source of truth for deletion rights, while an
// owner-role membership row is also materialized so ordinary role checks
// need no special case.
type Organization struct {
	ID          string    `json:"id"`
	Slug        string    `json:"slug"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     string    `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Team always belongs to exactly one organization.
type Team struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	CreatedAt      time.Time `json:"created_at"`
}

// Membership is a role-bearing relationship between a principal and a scope.
// The (scope, principal) pair is the natural key: at most one row exists per
// principal per organization and per team.
type Membership struct {
	Scope       Scope     `json:"-"`
	PrincipalID string    `json:"principal_id"`
	Role        Role      `json:"role"`
	Status      Status    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// ValidateSlug checks an organization slug.
func ValidateSlug(slug string) error {
	if len(slug) < 2 || len(slug) > 64 || !slugPattern.MatchString(slug) {
		return fmt.Errorf("%w: invalid slug %q", ErrInvalidInput, slug)
	}
	return nil
}
