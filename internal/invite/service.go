package invite

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/ids"
	"pagegrid.org/internal/obs"
	"pagegrid.org/internal/tenant"
)

// Mailer delivers invite links. Delivery is best-effort: failures are
// logged, never surfaced, so a flaky mail relay cannot block provisioning.
type Mailer interface {
	SendInvite(ctx context.Context, email, link string) error
}

// LogMailer writes invite links to the shared logger. Default when no real
// mail relay is configured.
type LogMailer struct{}

func (LogMailer) SendInvite(ctx context.Context, email, link string) error {
	obs.LogRequest(map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339Nano),
		"type":  "mail",
		"event": "invite.link",
		"email": email,
		"link":  link,
	})
	return nil
}

// Service is the invite lifecycle manager: creation, lazy expiry and
// acceptance with membership materialization.
type Service struct {
	invites Store
	users   identity.UserStore
	tenants tenant.Store
	authz   *tenant.Authorizer
	mailer  Mailer
	baseURL string
	now     func() time.Time
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

// WithMailer overrides the invite mail delivery.
func WithMailer(m Mailer) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

// NewService constructs the lifecycle manager. baseURL is the external URL
// invite links are built against.
func NewService(invites Store, users identity.UserStore, tenants tenant.Store, authz *tenant.Authorizer, baseURL string, opts ...Option) (*Service, error) {
	if invites == nil || users == nil || tenants == nil || authz == nil {
		return nil, errors.New("invite: invites, users, tenants and authorizer are required")
	}
	s := &Service{
		invites: invites,
		users:   users,
		tenants: tenants,
		authz:   authz,
		mailer:  LogMailer{},
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateParams describes a new invite. Exactly one of OrganizationID and
// TeamID must be set.
type CreateParams struct {
	Email          string
	OrganizationID string
	TeamID         string
	Role           tenant.Role
}

// Create validates scope and authorization and issues a pending invite. The
// caller's effective identity must hold an owner or admin membership in the
// target scope.
func (s *Service) Create(ctx context.Context, eff identity.EffectiveIdentity, p CreateParams) (Invite, error) {
	p.Email = strings.TrimSpace(strings.ToLower(p.Email))
	if p.Email == "" || !strings.Contains(p.Email, "@") {
		return Invite{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	p.OrganizationID = strings.TrimSpace(p.OrganizationID)
	p.TeamID = strings.TrimSpace(p.TeamID)
	if (p.OrganizationID == "") == (p.TeamID == "") {
		return Invite{}, fmt.Errorf("%w: exactly one of organization_id and team_id must be set", ErrInvalidInput)
	}
	if !p.Role.In(tenant.RoleMember, tenant.RoleAdmin) {
		return Invite{}, fmt.Errorf("%w: invite role must be member or admin", ErrInvalidInput)
	}

	var scope tenant.Scope
	if p.TeamID != "" {
		team, err := s.tenants.FindTeam(ctx, p.TeamID)
		if err != nil {
			return Invite{}, err
		}
		scope = tenant.TeamScope(team.ID)
	} else {
		org, err := s.tenants.FindOrganization(ctx, p.OrganizationID)
		if err != nil {
			return Invite{}, err
		}
		scope = tenant.OrgScope(org.ID)
	}
	if err := s.authz.RequireMembership(ctx, eff, scope, tenant.ManagementRoles...); err != nil {
		return Invite{}, err
	}

	tok, err := ids.NewToken()
	if err != nil {
		return Invite{}, err
	}
	now := s.now().UTC()
	inv := Invite{
		ID:             ids.New(),
		Email:          p.Email,
		Token:          tok,
		OrganizationID: p.OrganizationID,
		TeamID:         p.TeamID,
		Role:           p.Role,
		InviterID:      eff.Effective.ID,
		Status:         StatusPending,
		ExpiresAt:      now.Add(TTL),
		CreatedAt:      now,
	}
	if err := s.invites.Create(ctx, &inv); err != nil {
		return Invite{}, err
	}
	obs.CountInviteTransition(string(StatusPending))

	if err := s.mailer.SendInvite(ctx, inv.Email, s.Link(inv)); err != nil {
		obs.LogError("invite mail delivery failed", err, map[string]any{"invite_id": inv.ID})
	}
	return inv, nil
}

// Link builds the acceptance URL; the token is the sole capability.
func (s *Service) Link(inv Invite) string {
	return s.baseURL + "/invite/" + inv.Token
}

// FetchByToken loads an invite for preview or as the first step of
// acceptance. A pending invite past its expiry is transitioned to expired
// here, as a side effect, before the result is reported: expiry is
// discovered opportunistically, there is no background sweeper. Expired
// invites are returned alongside ErrExpired so callers can render the
// distinct "link expired" outcome.
func (s *Service) FetchByToken(ctx context.Context, rawToken string) (Invite, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return Invite{}, ErrNotFound
	}
	inv, err := s.invites.FindByToken(ctx, rawToken)
	if err != nil {
		return Invite{}, err
	}
	inv, err = s.expireLazily(ctx, inv)
	if err != nil {
		return Invite{}, err
	}
	if inv.Status == StatusExpired {
		return inv, ErrExpired
	}
	return inv, nil
}

// expireLazily applies the pending→expired transition when the validity
// window has closed. The conditional store update makes concurrent
// transitions idempotent.
func (s *Service) expireLazily(ctx context.Context, inv Invite) (Invite, error) {
	if inv.Status != StatusPending || !inv.ExpiredAt(s.now()) {
		return inv, nil
	}
	if err := s.invites.MarkExpired(ctx, inv.ID); err != nil {
		return Invite{}, err
	}
	obs.CountInviteTransition(string(StatusExpired))
	inv.Status = StatusExpired
	return inv, nil
}

// AcceptParams carries the optional new-principal fields. Both are ignored
// when a principal with the invite's email already exists.
type AcceptParams struct {
	Name     string
	Password string
}

// AcceptResult reports the acceptance outcome.
type AcceptResult struct {
	Invite          Invite
	User            identity.User
	CreatedUser     bool
	AlreadyAccepted bool
}

// Accept re-validates the invite and materializes membership. The state is
// re-read here, never trusted from a prior fetch. Acceptance is idempotent:
// a second accept of an already-accepted token reports success without a
// second membership row. Membership creation and the status transition
// commit as a single unit inside the store.
func (s *Service) Accept(ctx context.Context, rawToken string, p AcceptParams) (AcceptResult, error) {
	inv, err := s.invites.FindByToken(ctx, strings.TrimSpace(rawToken))
	if err != nil {
		return AcceptResult{}, err
	}
	inv, err = s.expireLazily(ctx, inv)
	if err != nil {
		return AcceptResult{}, err
	}
	switch inv.Status {
	case StatusExpired:
		return AcceptResult{}, ErrExpired
	case StatusAccepted:
		return s.alreadyAccepted(ctx, inv)
	}

	user, created, err := s.resolveInvitee(ctx, inv, p)
	if err != nil {
		return AcceptResult{}, err
	}

	now := s.now().UTC()
	membership := tenant.Membership{
		Scope:       inv.Scope(),
		PrincipalID: user.ID,
		Role:        inv.Role,
		Status:      tenant.StatusActive,
		CreatedAt:   now,
	}
	var newUser *identity.User
	if created {
		newUser = &user
	}
	applied, err := s.invites.Accept(ctx, inv.ID, now, newUser, membership)
	if err != nil {
		return AcceptResult{}, err
	}
	if !applied {
		// Lost the race to a concurrent accept or expiry; re-read and
		// answer from the terminal state.
		current, err := s.invites.FindByToken(ctx, inv.Token)
		if err != nil {
			return AcceptResult{}, err
		}
		if current.Status == StatusAccepted {
			return s.alreadyAccepted(ctx, current)
		}
		return AcceptResult{}, ErrExpired
	}
	obs.CountInviteTransition(string(StatusAccepted))

	inv.Status = StatusAccepted
	inv.AcceptedAt = &now
	return AcceptResult{Invite: inv, User: user, CreatedUser: created}, nil
}

// alreadyAccepted answers a repeat acceptance with the existing principal.
func (s *Service) alreadyAccepted(ctx context.Context, inv Invite) (AcceptResult, error) {
	user, err := s.users.FindByEmail(ctx, inv.Email)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return AcceptResult{Invite: inv, AlreadyAccepted: true}, nil
		}
		return AcceptResult{}, err
	}
	return AcceptResult{Invite: inv, User: user, AlreadyAccepted: true}, nil
}

// resolveInvitee reuses an existing principal with the invite's email, or
// prepares a fresh one. New principals are created with the user role and a
// pre-verified email: the invite itself is the verification channel.
func (s *Service) resolveInvitee(ctx context.Context, inv Invite, p AcceptParams) (identity.User, bool, error) {
	existing, err := s.users.FindByEmail(ctx, inv.Email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return identity.User{}, false, err
	}

	name := strings.TrimSpace(p.Name)
	if name == "" {
		return identity.User{}, false, fmt.Errorf("%w: name is required for a new account", ErrInvalidInput)
	}
	hash, err := identity.HashPassword(p.Password)
	if err != nil {
		return identity.User{}, false, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return identity.User{
		ID:            ids.New(),
		Email:         inv.Email,
		Name:          name,
		Role:          identity.RoleUser,
		EmailVerified: true,
		PasswordHash:  hash,
		CreatedAt:     s.now().UTC(),
	}, true, nil
}
