package tenant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/ids"
)

// Service provides organization and team management on top of the store.
type Service struct {
	store Store
	authz *Authorizer
	now   func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs a Service.
func NewService(store Store, authz *Authorizer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("tenant: store is required")
	}
	if authz == nil {
		return nil, errors.New("tenant: authorizer is required")
	}
	s := &Service{store: store, authz: authz, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Authorizer exposes the decision component for other subsystems.
func (s *Service) Authorizer() *Authorizer { return s.authz }

// CreateOrganization creates an organization owned by the effective
// principal. The owner field is immutable; an owner-role membership row is
// materialized alongside it.
func (s *Service) CreateOrganization(ctx context.Context, eff identity.EffectiveIdentity, slug, name, description string) (Organization, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if err := ValidateSlug(slug); err != nil {
		return Organization{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
	}
	org := Organization{
		ID:          ids.New(),
		Slug:        slug,
		Name:        name,
		Description: strings.TrimSpace(description),
		OwnerID:     eff.Effective.ID,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.store.CreateOrganization(ctx, &org); err != nil {
		return Organization{}, err
	}
	err := s.store.AddMember(ctx, Membership{
		Scope:       OrgScope(org.ID),
		PrincipalID: eff.Effective.ID,
		Role:        RoleOwner,
		Status:      StatusActive,
		CreatedAt:   org.CreatedAt,
	})
	if err != nil {
		return Organization{}, err
	}
	return org, nil
}

// GetOrganization loads an organization by id.
func (s *Service) GetOrganization(ctx context.Context, id string) (Organization, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Organization{}, fmt.Errorf("%w: organization id is required", ErrInvalidInput)
	}
	return s.store.FindOrganization(ctx, id)
}

// GetOrganizationBySlug loads an organization by its unique slug.
func (s *Service) GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error) {
	slug = strings.TrimSpace(strings.ToLower(slug))
	if slug == "" {
		return Organization{}, fmt.Errorf("%w: organization slug is required", ErrInvalidInput)
	}
	return s.store.FindOrganizationBySlug(ctx, slug)
}

// UpdateOrganization applies settings changes; management roles required.
func (s *Service) UpdateOrganization(ctx context.Context, eff identity.EffectiveIdentity, id string, upd OrganizationUpdate) (Organization, error) {
	org, err := s.GetOrganization(ctx, id)
	if err != nil {
		return Organization{}, err
	}
	if err := s.authz.RequireMembership(ctx, eff, OrgScope(org.ID), ManagementRoles...); err != nil {
		return Organization{}, err
	}
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		if trimmed == "" {
			return Organization{}, fmt.Errorf("%w: organization name is required", ErrInvalidInput)
		}
		upd.Name = &trimmed
	}
	return s.store.UpdateOrganization(ctx, org.ID, upd)
}

// DeleteOrganization is restricted to the immutable owner, not to
// membership rows.
func (s *Service) DeleteOrganization(ctx context.Context, eff identity.EffectiveIdentity, id string) error {
	org, err := s.GetOrganization(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authz.CanDeleteOrganization(org, eff); err != nil {
		return err
	}
	return s.store.DeleteOrganization(ctx, org.ID)
}

// CreateTeam creates a team inside an organization; management roles in the
// owning organization are required.
func (s *Service) CreateTeam(ctx context.Context, eff identity.EffectiveIdentity, orgID, name string) (Team, error) {
	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return Team{}, err
	}
	if err := s.authz.RequireMembership(ctx, eff, OrgScope(org.ID), ManagementRoles...); err != nil {
		return Team{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Team{}, fmt.Errorf("%w: team name is required", ErrInvalidInput)
	}
	team := Team{
		ID:             ids.New(),
		OrganizationID: org.ID,
		Name:           name,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateTeam(ctx, &team); err != nil {
		return Team{}, err
	}
	err = s.store.AddMember(ctx, Membership{
		Scope:       TeamScope(team.ID),
		PrincipalID: eff.Effective.ID,
		Role:        RoleOwner,
		Status:      StatusActive,
		CreatedAt:   team.CreatedAt,
	})
	if err != nil {
		return Team{}, err
	}
	return team, nil
}

// ListTeams returns the teams of an organization; any active membership in
// the organization suffices to view them.
func (s *Service) ListTeams(ctx context.Context, eff identity.EffectiveIdentity, orgID string) ([]Team, error) {
	org, err := s.GetOrganization(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if err := s.authz.RequireMembership(ctx, eff, OrgScope(org.ID), RoleOwner, RoleAdmin, RoleMember); err != nil {
		return nil, err
	}
	return s.store.ListTeams(ctx, org.ID)
}

// GetTeam loads a team by id.
func (s *Service) GetTeam(ctx context.Context, id string) (Team, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Team{}, fmt.Errorf("%w: team id is required", ErrInvalidInput)
	}
	return s.store.FindTeam(ctx, id)
}

// RemoveMember revokes a principal's membership in a scope; management
// roles are required. Owner-role rows are protected: the scope's creator
// cannot be removed through this path.
func (s *Service) RemoveMember(ctx context.Context, eff identity.EffectiveIdentity, scope Scope, principalID string) error {
	if err := s.authz.RequireMembership(ctx, eff, scope, ManagementRoles...); err != nil {
		return err
	}
	principalID = strings.TrimSpace(principalID)
	m, err := s.store.Membership(ctx, scope, principalID)
	if err != nil {
		return err
	}
	if m.Role == RoleOwner {
		return fmt.Errorf("%w: owner membership cannot be removed", ErrConflict)
	}
	return s.store.RemoveMember(ctx, scope, principalID)
}

// ListMembers returns the membership rows of a scope; any active membership
// in the scope suffices to view them.
func (s *Service) ListMembers(ctx context.Context, eff identity.EffectiveIdentity, scope Scope) ([]Membership, error) {
	if err := s.authz.RequireMembership(ctx, eff, scope, RoleOwner, RoleAdmin, RoleMember); err != nil {
		return nil, err
	}
	return s.store.ListMembers(ctx, scope)
}
