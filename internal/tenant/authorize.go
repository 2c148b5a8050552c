package tenant

import (
	"context"
	"errors"
	"fmt"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/obs"
)

// Authorizer makes pure, stateless allow/deny decisions against the
// membership registry. Every decision re-reads the registry; nothing is
// cached across calls, so a membership change is visible immediately.
type Authorizer struct {
	registry Registry
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(registry Registry) (*Authorizer, error) {
	if registry == nil {
		return nil, errors.New("tenant: registry is required")
	}
	return &Authorizer{registry: registry}, nil
}

// RequireSystemAdmin allows only principals whose effective system-wide role
// is admin. It does not consult tenant membership.
func (a *Authorizer) RequireSystemAdmin(eff identity.EffectiveIdentity) error {
	if eff.Effective.Role != identity.RoleAdmin {
		obs.CountAuthzDecision("deny")
		return fmt.Errorf("%w: system admin required", ErrForbidden)
	}
	obs.CountAuthzDecision("allow")
	return nil
}

// RequireMembership allows the effective principal only when it holds an
// active membership in the scope with a role in the required set. A
// system-wide admin does not automatically pass: tenant-scoped checks are
// evaluated strictly against the registry.
func (a *Authorizer) RequireMembership(ctx context.Context, eff identity.EffectiveIdentity, scope Scope, required ...Role) error {
	m, err := a.registry.Membership(ctx, scope, eff.Effective.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.CountAuthzDecision("deny")
			return fmt.Errorf("%w: not a member of %s %s", ErrForbidden, scope.Kind, scope.ID)
		}
		return err
	}
	if m.Status != StatusActive || !m.Role.In(required...) {
		obs.CountAuthzDecision("deny")
		return fmt.Errorf("%w: role %s not in required set for %s %s", ErrForbidden, m.Role, scope.Kind, scope.ID)
	}
	obs.CountAuthzDecision("allow")
	return nil
}

// CanDeleteOrganization restricts deletion to the immutable owner recorded
// on the organization itself. An admin-role member may manage but never
// delete.
func (a *Authorizer) CanDeleteOrganization(org Organization, eff identity.EffectiveIdentity) error {
	if eff.Effective.ID != org.OwnerID {
		obs.CountAuthzDecision("deny")
		return fmt.Errorf("%w: only the organization owner may delete it", ErrForbidden)
	}
	obs.CountAuthzDecision("allow")
	return nil
}
