package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pagegrid.org/internal/ids"
	"pagegrid.org/internal/token"
)

const defaultSessionTTL = 30 * 24 * time.Hour

// Service implements session-to-identity resolution, the impersonation
// overlay, and credential lifecycle operations. It holds no authoritative
// state: every call re-reads the stores, so a role change is visible on the
// very next resolution.
type Service struct {
	users      UserStore
	sessions   SessionStore
	tokens     token.Store
	now        func() time.Time
	sessionTTL time.Duration
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

// WithSessionTTL configures session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// NewService constructs a Service.
func NewService(users UserStore, sessions SessionStore, tokens token.Store, opts ...Option) (*Service, error) {
	if users == nil || sessions == nil || tokens == nil {
		return nil, errors.New("identity: user, session and token stores are required")
	}
	s := &Service{
		users:      users,
		sessions:   sessions,
		tokens:     tokens,
		now:        time.Now,
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Resolve turns a raw session token into a validated principal. The role is
// always re-fetched from the user store; session-attached data is treated as
// untrusted cache. Pure read: no renewal, no sliding expiry.
func (s *Service) Resolve(ctx context.Context, rawToken string) (User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return User{}, ErrUnauthenticated
	}
	sess, err := s.sessions.FindByToken(ctx, rawToken)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrUnauthenticated
		}
		return User{}, err
	}
	if sess.ExpiredAt(s.now()) {
		return User{}, ErrUnauthenticated
	}
	user, err := s.users.Find(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return User{}, ErrUnauthenticated
		}
		return User{}, err
	}
	return user, nil
}

// Overlay applies an impersonation target on top of the real principal. The
// grant is honored only when the real principal's canonical role is admin; a
// demoted admin or a vanished target degrades silently to the real principal.
// Overlay never fails a request for a bad grant, only for store errors.
func (s *Service) Overlay(ctx context.Context, real User, targetID string) (EffectiveIdentity, error) {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" || real.Role != RoleAdmin || targetID == real.ID {
		return Identify(real), nil
	}
	target, err := s.users.Find(ctx, targetID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Identify(real), nil
		}
		return EffectiveIdentity{}, err
	}
	return EffectiveIdentity{Real: real, Effective: target, Impersonating: true}, nil
}

// StartImpersonation validates that the real principal may begin acting as
// the target. The real role is re-fetched from the canonical store here; a
// role held in memory from an earlier resolution is never trusted for this
// decision.
func (s *Service) StartImpersonation(ctx context.Context, realID, targetID string) (User, error) {
	realID = strings.TrimSpace(realID)
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return User{}, fmt.Errorf("%w: target id is required", ErrInvalidInput)
	}
	real, err := s.users.Find(ctx, realID)
	if err != nil {
		return User{}, err
	}
	if real.Role != RoleAdmin {
		return User{}, ErrForbidden
	}
	if targetID == real.ID {
		return User{}, fmt.Errorf("%w: cannot impersonate yourself", ErrConflict)
	}
	target, err := s.users.Find(ctx, targetID)
	if err != nil {
		return User{}, err
	}
	return target, nil
}

// SetRole changes a principal's system-wide role. Authorization is the
// caller's responsibility; the change is visible on the target's very next
// resolution.
func (s *Service) SetRole(ctx context.Context, userID string, role Role) (User, error) {
	if err := s.users.UpdateRole(ctx, userID, role); err != nil {
		return User{}, err
	}
	return s.users.Find(ctx, userID)
}

// SessionMeta carries request metadata recorded on the session row.
type SessionMeta struct {
	UserAgent string
	IP        string
}

// SignIn verifies credentials and issues a fresh session. Lookup and
// verification failures are indistinguishable to the caller.
func (s *Service) SignIn(ctx context.Context, email, password string, meta SessionMeta) (Session, User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return Session{}, User{}, ErrUnauthenticated
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Session{}, User{}, ErrUnauthenticated
		}
		return Session{}, User{}, err
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return Session{}, User{}, ErrUnauthenticated
	}
	sess, err := s.issueSession(ctx, user.ID, meta)
	if err != nil {
		return Session{}, User{}, err
	}
	return sess, user, nil
}

// IssueSession creates a session without credential verification. Used by
// invite acceptance, where the invite token is the credential.
func (s *Service) IssueSession(ctx context.Context, userID string, meta SessionMeta) (Session, error) {
	return s.issueSession(ctx, userID, meta)
}

func (s *Service) issueSession(ctx context.Context, userID string, meta SessionMeta) (Session, error) {
	tok, err := ids.NewToken()
	if err != nil {
		return Session{}, err
	}
	now := s.now().UTC()
	sess := Session{
		ID:        ids.New(),
		UserID:    userID,
		Token:     tok,
		UserAgent: meta.UserAgent,
		IP:        meta.IP,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.Create(ctx, &sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// SignOut destroys the session identified by the token. Unknown tokens are
// not an error; sign-out is idempotent.
func (s *Service) SignOut(ctx context.Context, rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}
	err := s.sessions.DeleteByToken(ctx, rawToken)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// RequestPasswordReset issues a reset token for the address. The returned
// token is empty when no principal matches; callers must answer
// success-shaped either way so account existence is never disclosed.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (token.Token, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return token.Token{}, nil
	}
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return token.Token{}, nil
		}
		return token.Token{}, err
	}
	return token.Issue(ctx, s.tokens, token.PurposePasswordReset, user.ID, s.now().UTC())
}

// ConfirmPasswordReset consumes a reset token, replaces the credential and
// destroys every session the principal holds.
func (s *Service) ConfirmPasswordReset(ctx context.Context, value, newPassword string) error {
	t, err := token.Consume(ctx, s.tokens, token.PurposePasswordReset, value, s.now().UTC())
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.users.UpdatePassword(ctx, t.UserID, hash); err != nil {
		return err
	}
	return s.sessions.DeleteByUser(ctx, t.UserID)
}

// RequestEmailVerification issues a verification token for the principal.
func (s *Service) RequestEmailVerification(ctx context.Context, userID string) (token.Token, error) {
	user, err := s.users.Find(ctx, userID)
	if err != nil {
		return token.Token{}, err
	}
	return token.Issue(ctx, s.tokens, token.PurposeEmailVerification, user.ID, s.now().UTC())
}

// VerifyEmail consumes an email-verification token and marks the principal
// verified.
func (s *Service) VerifyEmail(ctx context.Context, value string) error {
	t, err := token.Consume(ctx, s.tokens, token.PurposeEmailVerification, value, s.now().UTC())
	if err != nil {
		return err
	}
	return s.users.MarkEmailVerified(ctx, t.UserID)
}
