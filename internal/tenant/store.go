package tenant

import "context"

// Registry is the authoritative membership mapping read by the authorizer
// and written by organization management and invite acceptance.
type Registry interface {
	// Membership returns the single row for (scope, principal), or
	// ErrNotFound when the principal has no membership in the scope.
	Membership(ctx context.Context, scope Scope, principalID string) (Membership, error)

	// AddMember materializes a membership row. Inserting over an existing
	// (scope, principal) pair is a no-op; the composite-key uniqueness
	// constraint is the concurrency control.
	AddMember(ctx context.Context, m Membership) error

	ListMembers(ctx context.Context, scope Scope) ([]Membership, error)
	RemoveMember(ctx context.Context, scope Scope, principalID string) error
}

// Store persists organizations and teams.
type Store interface {
	Registry

	CreateOrganization(ctx context.Context, org *Organization) error
	FindOrganization(ctx context.Context, id string) (Organization, error)
	FindOrganizationBySlug(ctx context.Context, slug string) (Organization, error)
	UpdateOrganization(ctx context.Context, id string, upd OrganizationUpdate) (Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	CreateTeam(ctx context.Context, team *Team) error
	FindTeam(ctx context.Context, id string) (Team, error)
	ListTeams(ctx context.Context, orgID string) ([]Team, error)
}

// OrganizationUpdate carries optional field updates. OwnerID is immutable
// and deliberately absent.
type OrganizationUpdate struct {
	Name        *string
	Description *string
}
