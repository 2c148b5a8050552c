package invite_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/invite"
	"pagegrid.org/internal/store/memory"
	"pagegrid.org/internal/tenant"
)

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendInvite(ctx context.Context, email, link string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links = append(m.links, link)
	return nil
}

type fixture struct {
	svc    *invite.Service
	mem    *memory.Store
	mailer *captureMailer
	now    time.Time
	org    tenant.Organization
	team   tenant.Team
	owner  identity.EffectiveIdentity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		mem:    memory.New(),
		mailer: &captureMailer{},
		now:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	ctx := context.Background()

	ownerUser := identity.User{ID: "owner1", Email: "owner@example.com", Name: "Owner", Role: identity.RoleUser}
	if err := f.mem.Users().Create(ctx, &ownerUser); err != nil {
		t.Fatalf("seed owner: %v", err)
	}
	f.owner = identity.Identify(ownerUser)

	f.org = tenant.Organization{ID: "org1", Slug: "acme", Name: "Acme", OwnerID: "owner1", CreatedAt: f.now}
	if err := f.mem.Tenants().CreateOrganization(ctx, &f.org); err != nil {
		t.Fatalf("seed org: %v", err)
	}
	f.team = tenant.Team{ID: "team1", OrganizationID: "org1", Name: "Platform", CreatedAt: f.now}
	if err := f.mem.Tenants().CreateTeam(ctx, &f.team); err != nil {
		t.Fatalf("seed team: %v", err)
	}
	for _, scope := range []tenant.Scope{tenant.OrgScope("org1"), tenant.TeamScope("team1")} {
		err := f.mem.Tenants().AddMember(ctx, tenant.Membership{
			Scope: scope, PrincipalID: "owner1", Role: tenant.RoleOwner,
			Status: tenant.StatusActive, CreatedAt: f.now,
		})
		if err != nil {
			t.Fatalf("seed membership: %v", err)
		}
	}

	authz, err := tenant.NewAuthorizer(f.mem.Tenants())
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	f.svc, err = invite.NewService(f.mem.Invites(), f.mem.Users(), f.mem.Tenants(), authz,
		"https://pagegrid.example",
		invite.WithClock(func() time.Time { return f.now }),
		invite.WithMailer(f.mailer))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return f
}

func (f *fixture) createOrgInvite(t *testing.T, email string) invite.Invite {
	t.Helper()
	inv, err := f.svc.Create(context.Background(), f.owner, invite.CreateParams{
		Email:          email,
		OrganizationID: "org1",
		Role:           tenant.RoleMember,
	})
	if err != nil {
		t.Fatalf("create invite: %v", err)
	}
	return inv
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		params invite.CreateParams
		want   error
	}{
		{"missing email", invite.CreateParams{OrganizationID: "org1", Role: tenant.RoleMember}, invite.ErrInvalidInput},
		{"bad email", invite.CreateParams{Email: "not-an-email", OrganizationID: "org1", Role: tenant.RoleMember}, invite.ErrInvalidInput},
		{"no scope", invite.CreateParams{Email: "a@example.com", Role: tenant.RoleMember}, invite.ErrInvalidInput},
		{"both scopes", invite.CreateParams{Email: "a@example.com", OrganizationID: "org1", TeamID: "team1", Role: tenant.RoleMember}, invite.ErrInvalidInput},
		{"owner role", invite.CreateParams{Email: "a@example.com", OrganizationID: "org1", Role: tenant.RoleOwner}, invite.ErrInvalidInput},
		{"unknown org", invite.CreateParams{Email: "a@example.com", OrganizationID: "gone", Role: tenant.RoleMember}, tenant.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Create(ctx, f.owner, tc.params); !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCreateRequiresManagementRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	member := identity.Identify(identity.User{ID: "member1", Role: identity.RoleUser})
	err := f.mem.Tenants().AddMember(ctx, tenant.Membership{
		Scope: tenant.OrgScope("org1"), PrincipalID: "member1",
		Role: tenant.RoleMember, Status: tenant.StatusActive, CreatedAt: f.now,
	})
	if err != nil {
		t.Fatalf("seed membership: %v", err)
	}

	_, err = f.svc.Create(ctx, member, invite.CreateParams{
		Email: "x@example.com", OrganizationID: "org1", Role: tenant.RoleMember,
	})
	if !errors.Is(err, tenant.ErrForbidden) {
		t.Fatalf("member created invite: %v", err)
	}
}

func TestCreateDeliversLink(t *testing.T) {
	f := newFixture(t)

	inv := f.createOrgInvite(t, "Invitee@Example.COM")
	if inv.Email != "invitee@example.com" {
		t.Fatalf("email not normalized: %q", inv.Email)
	}
	if inv.Status != invite.StatusPending {
		t.Fatalf("status %q, want pending", inv.Status)
	}
	if !inv.ExpiresAt.Equal(f.now.Add(invite.TTL)) {
		t.Fatalf("expiry %v, want %v", inv.ExpiresAt, f.now.Add(invite.TTL))
	}
	if len(f.mailer.links) != 1 || !strings.Contains(f.mailer.links[0], inv.Token) {
		t.Fatalf("invite link not delivered: %v", f.mailer.links)
	}
}

func TestFetchByTokenLazyExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.createOrgInvite(t, "invitee@example.com")

	if _, err := f.svc.FetchByToken(ctx, inv.Token); err != nil {
		t.Fatalf("fetch pending: %v", err)
	}

	// The expiry bound is inclusive: at exactly ExpiresAt the invite is gone.
	f.now = inv.ExpiresAt
	got, err := f.svc.FetchByToken(ctx, inv.Token)
	if !errors.Is(err, invite.ErrExpired) {
		t.Fatalf("fetch at expiry instant: got %v, want ErrExpired", err)
	}
	if got.Status != invite.StatusExpired {
		t.Fatalf("returned status %q, want expired", got.Status)
	}

	// The transition is persisted, not recomputed per read.
	stored, err := f.mem.Invites().FindByToken(ctx, inv.Token)
	if err != nil {
		t.Fatalf("read stored invite: %v", err)
	}
	if stored.Status != invite.StatusExpired {
		t.Fatalf("stored status %q, want expired", stored.Status)
	}
}

func TestAcceptCreatesAccountAndMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.createOrgInvite(t, "newbie@example.com")

	res, err := f.svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Newbie", Password: "long-enough"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !res.CreatedUser || res.AlreadyAccepted {
		t.Fatalf("unexpected result flags: %+v", res)
	}
	if res.User.Role != identity.RoleUser || !res.User.EmailVerified {
		t.Fatalf("new principal %+v", res.User)
	}

	m, err := f.mem.Tenants().Membership(ctx, tenant.OrgScope("org1"), res.User.ID)
	if err != nil {
		t.Fatalf("membership missing: %v", err)
	}
	if m.Role != tenant.RoleMember || m.Status != tenant.StatusActive {
		t.Fatalf("membership %+v", m)
	}
}

func TestAcceptReusesExistingAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	existing := identity.User{ID: "ex1", Email: "known@example.com", Name: "Known", Role: identity.RoleUser}
	if err := f.mem.Users().Create(ctx, &existing); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	inv := f.createOrgInvite(t, "known@example.com")

	// Name and password are ignored for an existing principal.
	res, err := f.svc.Accept(ctx, inv.Token, invite.AcceptParams{})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.CreatedUser || res.User.ID != "ex1" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestAcceptNewAccountRequiresName(t *testing.T) {
	f := newFixture(t)
	inv := f.createOrgInvite(t, "newbie@example.com")

	_, err := f.svc.Accept(context.Background(), inv.Token, invite.AcceptParams{Password: "long-enough"})
	if !errors.Is(err, invite.ErrInvalidInput) {
		t.Fatalf("accept without name: %v", err)
	}
}

func TestAcceptIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.createOrgInvite(t, "newbie@example.com")

	first, err := f.svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Newbie", Password: "long-enough"})
	if err != nil {
		t.Fatalf("first accept: %v", err)
	}
	second, err := f.svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Other", Password: "different-pw"})
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if !second.AlreadyAccepted || second.CreatedUser {
		t.Fatalf("second accept flags: %+v", second)
	}
	if second.User.ID != first.User.ID {
		t.Fatalf("second accept resolved a different principal")
	}

	members, err := f.mem.Tenants().ListMembers(ctx, tenant.OrgScope("org1"))
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 { // owner + invitee, no duplicate
		t.Fatalf("got %d membership rows, want 2", len(members))
	}
}

func TestAcceptExpiredInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.createOrgInvite(t, "late@example.com")

	f.now = inv.ExpiresAt.Add(time.Hour)
	if _, err := f.svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Late", Password: "long-enough"}); !errors.Is(err, invite.ErrExpired) {
		t.Fatalf("accept expired: got %v, want ErrExpired", err)
	}

	// Expired is terminal: winding the clock back does not revive it.
	f.now = inv.CreatedAt
	if _, err := f.svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Late", Password: "long-enough"}); !errors.Is(err, invite.ErrExpired) {
		t.Fatalf("accept revived expired invite: %v", err)
	}
	if _, err := f.mem.Users().FindByEmail(ctx, "late@example.com"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("expired accept left a principal behind: %v", err)
	}
}

func TestAcceptUnknownToken(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Accept(context.Background(), "bogus", invite.AcceptParams{}); !errors.Is(err, invite.ErrNotFound) {
		t.Fatalf("unknown token: got %v, want ErrNotFound", err)
	}
}

// contestedStore simulates losing the acceptance race: before reporting
// applied=false it runs steal, standing in for the concurrent writer that
// moved the invite out of pending first.
type contestedStore struct {
	invite.Store
	steal func(ctx context.Context) error
}

func (s *contestedStore) Accept(ctx context.Context, inviteID string, acceptedAt time.Time, newUser *identity.User, m tenant.Membership) (bool, error) {
	if err := s.steal(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func (f *fixture) contestedService(t *testing.T, steal func(ctx context.Context) error) *invite.Service {
	t.Helper()
	authz, err := tenant.NewAuthorizer(f.mem.Tenants())
	if err != nil {
		t.Fatalf("new authorizer: %v", err)
	}
	svc, err := invite.NewService(&contestedStore{Store: f.mem.Invites(), steal: steal},
		f.mem.Users(), f.mem.Tenants(), authz,
		"https://pagegrid.example",
		invite.WithClock(func() time.Time { return f.now }))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAcceptLostRaceReportsAlreadyAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.createOrgInvite(t, "racer@example.com")

	winner := identity.User{
		ID: "winner", Email: "racer@example.com", Name: "Winner",
		Role: identity.RoleUser, EmailVerified: true, CreatedAt: f.now,
	}
	svc := f.contestedService(t, func(ctx context.Context) error {
		applied, err := f.mem.Invites().Accept(ctx, inv.ID, f.now, &winner, tenant.Membership{
			Scope: tenant.OrgScope("org1"), PrincipalID: "winner",
			Role: tenant.RoleMember, Status: tenant.StatusActive, CreatedAt: f.now,
		})
		if err == nil && !applied {
			t.Fatal("winner accept not applied")
		}
		return err
	})

	res, err := svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Loser", Password: "long-enough"})
	if err != nil {
		t.Fatalf("losing accept: %v", err)
	}
	if !res.AlreadyAccepted || res.CreatedUser {
		t.Fatalf("losing accept flags: %+v", res)
	}
	if res.User.ID != "winner" {
		t.Fatalf("resolved %q, want the winner's principal", res.User.ID)
	}
	members, err := f.mem.Tenants().ListMembers(ctx, tenant.OrgScope("org1"))
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(members) != 2 { // owner + winner, nothing from the loser
		t.Fatalf("got %d membership rows, want 2", len(members))
	}
}

func TestAcceptLostRaceToExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inv := f.createOrgInvite(t, "racer@example.com")

	svc := f.contestedService(t, func(ctx context.Context) error {
		return f.mem.Invites().MarkExpired(ctx, inv.ID)
	})

	_, err := svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Loser", Password: "long-enough"})
	if !errors.Is(err, invite.ErrExpired) {
		t.Fatalf("losing accept: got %v, want ErrExpired", err)
	}
}

func TestTeamInvite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.Create(ctx, f.owner, invite.CreateParams{
		Email:  "teammate@example.com",
		TeamID: "team1",
		Role:   tenant.RoleAdmin,
	})
	if err != nil {
		t.Fatalf("create team invite: %v", err)
	}
	res, err := f.svc.Accept(ctx, inv.Token, invite.AcceptParams{Name: "Teammate", Password: "long-enough"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	m, err := f.mem.Tenants().Membership(ctx, tenant.TeamScope("team1"), res.User.ID)
	if err != nil {
		t.Fatalf("team membership missing: %v", err)
	}
	if m.Role != tenant.RoleAdmin {
		t.Fatalf("team role %q, want admin", m.Role)
	}
	// No organization membership is implied by a team invite.
	if _, err := f.mem.Tenants().Membership(ctx, tenant.OrgScope("org1"), res.User.ID); !errors.Is(err, tenant.ErrNotFound) {
		t.Fatalf("team invite leaked an org membership: %v", err)
	}
}
