// Package memory holds mutex-protected in-memory implementations of every
// store interface. It backs the service and HTTP tests and is suitable for
// single-process development runs; it is not durable.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/invite"
	"pagegrid.org/internal/tenant"
	"pagegrid.org/internal/token"
)

// Store implements the identity, tenant, invite and token store interfaces
// over plain maps guarded by one mutex.
type Store struct {
	mu sync.Mutex

	users    map[string]identity.User    // by id
	sessions map[string]identity.Session // by token
	orgs     map[string]tenant.Organization
	teams    map[string]tenant.Team
	members  map[memberKey]tenant.Membership
	invites  map[string]invite.Invite // by id
	tokens   map[string]token.Token   // by id
}

type memberKey struct {
	kind      tenant.ScopeKind
	scopeID   string
	principal string
}

// New constructs an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[string]identity.User),
		sessions: make(map[string]identity.Session),
		orgs:     make(map[string]tenant.Organization),
		teams:    make(map[string]tenant.Team),
		members:  make(map[memberKey]tenant.Membership),
		invites:  make(map[string]invite.Invite),
		tokens:   make(map[string]token.Token),
	}
}

func (s *Store) Users() identity.UserStore       { return (*userStore)(s) }
func (s *Store) Sessions() identity.SessionStore { return (*sessionStore)(s) }
func (s *Store) Tenants() tenant.Store           { return (*tenantStore)(s) }
func (s *Store) Invites() invite.Store           { return (*inviteStore)(s) }
func (s *Store) Tokens() token.Store             { return (*tokenStore)(s) }

// --- identity ---

type userStore Store

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return identity.ErrConflict
		}
	}
	s.users[u.ID] = *u
	return nil
}

func (s *userStore) Find(ctx context.Context, id string) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.User{}, identity.ErrNotFound
	}
	return u, nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return u, nil
		}
	}
	return identity.User{}, identity.ErrNotFound
}

func (s *userStore) UpdateRole(ctx context.Context, id string, role identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	u.Role = role
	s.users[id] = u
	return nil
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	u.PasswordHash = passwordHash
	s.users[id] = u
	return nil
}

func (s *userStore) MarkEmailVerified(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return identity.ErrNotFound
	}
	u.EmailVerified = true
	s.users[id] = u
	return nil
}

type sessionStore Store

func (s *sessionStore) Create(ctx context.Context, sess *identity.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = *sess
	return nil
}

func (s *sessionStore) FindByToken(ctx context.Context, tok string) (identity.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[tok]
	if !ok {
		return identity.Session{}, identity.ErrNotFound
	}
	return sess, nil
}

func (s *sessionStore) DeleteByToken(ctx context.Context, tok string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[tok]; !ok {
		return identity.ErrNotFound
	}
	delete(s.sessions, tok)
	return nil
}

func (s *sessionStore) DeleteByUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, tok)
		}
	}
	return nil
}

// --- tenant ---

type tenantStore Store

func (s *tenantStore) CreateOrganization(ctx context.Context, org *tenant.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.orgs {
		if existing.Slug == org.Slug {
			return tenant.ErrConflict
		}
	}
	s.orgs[org.ID] = *org
	return nil
}

func (s *tenantStore) FindOrganization(ctx context.Context, id string) (tenant.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return tenant.Organization{}, tenant.ErrNotFound
	}
	return org, nil
}

func (s *tenantStore) FindOrganizationBySlug(ctx context.Context, slug string) (tenant.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, org := range s.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return tenant.Organization{}, tenant.ErrNotFound
}

func (s *tenantStore) UpdateOrganization(ctx context.Context, id string, upd tenant.OrganizationUpdate) (tenant.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return tenant.Organization{}, tenant.ErrNotFound
	}
	if upd.Name != nil {
		org.Name = *upd.Name
	}
	if upd.Description != nil {
		org.Description = *upd.Description
	}
	s.orgs[id] = org
	return org, nil
}

func (s *tenantStore) DeleteOrganization(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[id]; !ok {
		return tenant.ErrNotFound
	}
	delete(s.orgs, id)
	teamIDs := make(map[string]bool)
	for tid, team := range s.teams {
		if team.OrganizationID == id {
			teamIDs[tid] = true
			delete(s.teams, tid)
		}
	}
	for key := range s.members {
		if key.kind == tenant.ScopeOrganization && key.scopeID == id {
			delete(s.members, key)
		}
		if key.kind == tenant.ScopeTeam && teamIDs[key.scopeID] {
			delete(s.members, key)
		}
	}
	return nil
}

func (s *tenantStore) CreateTeam(ctx context.Context, team *tenant.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[team.OrganizationID]; !ok {
		return tenant.ErrNotFound
	}
	s.teams[team.ID] = *team
	return nil
}

func (s *tenantStore) FindTeam(ctx context.Context, id string) (tenant.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	team, ok := s.teams[id]
	if !ok {
		return tenant.Team{}, tenant.ErrNotFound
	}
	return team, nil
}

func (s *tenantStore) ListTeams(ctx context.Context, orgID string) ([]tenant.Team, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var teams []tenant.Team
	for _, team := range s.teams {
		if team.OrganizationID == orgID {
			teams = append(teams, team)
		}
	}
	sort.Slice(teams, func(i, j int) bool { return teams[i].ID < teams[j].ID })
	return teams, nil
}

func (s *tenantStore) Membership(ctx context.Context, scope tenant.Scope, principalID string) (tenant.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[memberKey{scope.Kind, scope.ID, principalID}]
	if !ok {
		return tenant.Membership{}, tenant.ErrNotFound
	}
	return m, nil
}

func (s *tenantStore) AddMember(ctx context.Context, m tenant.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{m.Scope.Kind, m.Scope.ID, m.PrincipalID}
	if _, ok := s.members[key]; ok {
		return nil
	}
	s.members[key] = m
	return nil
}

func (s *tenantStore) ListMembers(ctx context.Context, scope tenant.Scope) ([]tenant.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var members []tenant.Membership
	for key, m := range s.members {
		if key.kind == scope.Kind && key.scopeID == scope.ID {
			members = append(members, m)
		}
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].PrincipalID < members[j].PrincipalID
	})
	return members, nil
}

func (s *tenantStore) RemoveMember(ctx context.Context, scope tenant.Scope, principalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := memberKey{scope.Kind, scope.ID, principalID}
	if _, ok := s.members[key]; !ok {
		return tenant.ErrNotFound
	}
	delete(s.members, key)
	return nil
}

// --- invite ---

type inviteStore Store

func (s *inviteStore) Create(ctx context.Context, inv *invite.Invite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[inv.ID] = *inv
	return nil
}

func (s *inviteStore) FindByToken(ctx context.Context, tok string) (invite.Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invites {
		if inv.Token == tok {
			return inv, nil
		}
	}
	return invite.Invite{}, invite.ErrNotFound
}

func (s *inviteStore) MarkExpired(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return invite.ErrNotFound
	}
	if inv.Status != invite.StatusPending {
		return nil
	}
	inv.Status = invite.StatusExpired
	s.invites[id] = inv
	return nil
}

// Accept mirrors the transactional store: the conditional status transition
// decides the winner, and nothing is written unless it applies.
func (s *inviteStore) Accept(ctx context.Context, inviteID string, acceptedAt time.Time, newUser *identity.User, m tenant.Membership) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[inviteID]
	if !ok {
		return false, invite.ErrNotFound
	}
	if inv.Status != invite.StatusPending {
		return false, nil
	}
	if newUser != nil {
		for _, existing := range s.users {
			if strings.EqualFold(existing.Email, newUser.Email) {
				return false, identity.ErrConflict
			}
		}
		s.users[newUser.ID] = *newUser
	}
	key := memberKey{m.Scope.Kind, m.Scope.ID, m.PrincipalID}
	if _, exists := s.members[key]; !exists {
		s.members[key] = m
	}
	inv.Status = invite.StatusAccepted
	inv.AcceptedAt = &acceptedAt
	s.invites[inviteID] = inv
	return true, nil
}

// --- token ---

type tokenStore Store

func (s *tokenStore) Create(ctx context.Context, t *token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.tokens {
		if existing.UserID == t.UserID && existing.Purpose == t.Purpose {
			delete(s.tokens, id)
		}
	}
	s.tokens[t.ID] = *t
	return nil
}

func (s *tokenStore) FindByValue(ctx context.Context, purpose token.Purpose, value string) (token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tokens {
		if t.Purpose == purpose && t.Value == value {
			return t, nil
		}
	}
	return token.Token{}, token.ErrNotFound
}

func (s *tokenStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	return nil
}
