package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/store/memory"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestService(t *testing.T) (*identity.Service, *memory.Store, *clock) {
	t.Helper()
	mem := memory.New()
	ck := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc, err := identity.NewService(mem.Users(), mem.Sessions(), mem.Tokens(),
		identity.WithClock(ck.Now))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, mem, ck
}

func seedUser(t *testing.T, mem *memory.Store, id, email string, role identity.Role, password string) identity.User {
	t.Helper()
	hash, err := identity.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	u := identity.User{
		ID:           id,
		Email:        email,
		Name:         "Test " + id,
		Role:         role,
		PasswordHash: hash,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := mem.Users().Create(context.Background(), &u); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return u
}

func TestNewServiceRequiresAllStores(t *testing.T) {
	mem := memory.New()

	if _, err := identity.NewService(nil, mem.Sessions(), mem.Tokens()); err == nil {
		t.Fatal("constructed without user store")
	}
	if _, err := identity.NewService(mem.Users(), nil, mem.Tokens()); err == nil {
		t.Fatal("constructed without session store")
	}
	if _, err := identity.NewService(mem.Users(), mem.Sessions(), nil); err == nil {
		t.Fatal("constructed without token store")
	}
}

func TestResolveRefetchesRole(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, mem, "u1", "alice@example.com", identity.RoleUser, "correct-horse")

	sess, err := svc.IssueSession(ctx, u.ID, identity.SessionMeta{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	if err := mem.Users().UpdateRole(ctx, u.ID, identity.RoleAdmin); err != nil {
		t.Fatalf("update role: %v", err)
	}

	got, err := svc.Resolve(ctx, sess.Token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got.Role != identity.RoleAdmin {
		t.Fatalf("resolve returned stale role %q, want admin", got.Role)
	}
}

func TestResolveRejectsExpiredSession(t *testing.T) {
	svc, mem, ck := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, mem, "u1", "alice@example.com", identity.RoleUser, "correct-horse")

	sess, err := svc.IssueSession(ctx, u.ID, identity.SessionMeta{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	// Exactly at the expiry instant the session is already invalid.
	ck.now = sess.ExpiresAt
	if _, err := svc.Resolve(ctx, sess.Token); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("resolve at expiry instant: got %v, want ErrUnauthenticated", err)
	}

	ck.now = sess.ExpiresAt.Add(-time.Second)
	if _, err := svc.Resolve(ctx, sess.Token); err != nil {
		t.Fatalf("resolve just before expiry: %v", err)
	}
}

func TestResolveRejectsMissingSession(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	for _, tok := range []string{"", "   ", "no-such-token"} {
		if _, err := svc.Resolve(ctx, tok); !errors.Is(err, identity.ErrUnauthenticated) {
			t.Fatalf("resolve(%q): got %v, want ErrUnauthenticated", tok, err)
		}
	}
}

func TestSignInFailuresAreIndistinguishable(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, mem, "u1", "alice@example.com", identity.RoleUser, "correct-horse")

	cases := []struct {
		name            string
		email, password string
	}{
		{"unknown email", "nobody@example.com", "correct-horse"},
		{"wrong password", "alice@example.com", "wrong"},
		{"empty password", "alice@example.com", ""},
	}
	for _, tc := range cases {
		if _, _, err := svc.SignIn(ctx, tc.email, tc.password, identity.SessionMeta{}); !errors.Is(err, identity.ErrUnauthenticated) {
			t.Fatalf("%s: got %v, want ErrUnauthenticated", tc.name, err)
		}
	}
}

func TestSignInIssuesUsableSession(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	seedUser(t, mem, "u1", "Alice@Example.com", identity.RoleUser, "correct-horse")

	sess, user, err := svc.SignIn(ctx, "alice@example.com", "correct-horse", identity.SessionMeta{UserAgent: "test"})
	if err != nil {
		t.Fatalf("sign in: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("signed in as %q", user.ID)
	}
	got, err := svc.Resolve(ctx, sess.Token)
	if err != nil {
		t.Fatalf("resolve fresh session: %v", err)
	}
	if got.ID != "u1" {
		t.Fatalf("resolved %q, want u1", got.ID)
	}
}

func TestOverlay(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	admin := seedUser(t, mem, "adm", "admin@example.com", identity.RoleAdmin, "correct-horse")
	target := seedUser(t, mem, "tgt", "target@example.com", identity.RoleUser, "correct-horse")

	t.Run("admin impersonates target", func(t *testing.T) {
		eff, err := svc.Overlay(ctx, admin, target.ID)
		if err != nil {
			t.Fatalf("overlay: %v", err)
		}
		if !eff.Impersonating || eff.Effective.ID != target.ID || eff.Real.ID != admin.ID {
			t.Fatalf("unexpected overlay result: %+v", eff)
		}
	})

	t.Run("demoted real degrades to self", func(t *testing.T) {
		demoted := admin
		demoted.Role = identity.RoleUser
		eff, err := svc.Overlay(ctx, demoted, target.ID)
		if err != nil {
			t.Fatalf("overlay: %v", err)
		}
		if eff.Impersonating || eff.Effective.ID != demoted.ID {
			t.Fatalf("demoted admin still impersonating: %+v", eff)
		}
	})

	t.Run("self target is a no-op", func(t *testing.T) {
		eff, err := svc.Overlay(ctx, admin, admin.ID)
		if err != nil {
			t.Fatalf("overlay: %v", err)
		}
		if eff.Impersonating {
			t.Fatalf("self overlay marked impersonating")
		}
	})

	t.Run("vanished target degrades to self", func(t *testing.T) {
		eff, err := svc.Overlay(ctx, admin, "gone")
		if err != nil {
			t.Fatalf("overlay: %v", err)
		}
		if eff.Impersonating || eff.Effective.ID != admin.ID {
			t.Fatalf("vanished target still impersonating: %+v", eff)
		}
	})
}

func TestStartImpersonation(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	admin := seedUser(t, mem, "adm", "admin@example.com", identity.RoleAdmin, "correct-horse")
	plain := seedUser(t, mem, "usr", "user@example.com", identity.RoleUser, "correct-horse")

	if _, err := svc.StartImpersonation(ctx, plain.ID, admin.ID); !errors.Is(err, identity.ErrForbidden) {
		t.Fatalf("non-admin start: got %v, want ErrForbidden", err)
	}
	if _, err := svc.StartImpersonation(ctx, admin.ID, admin.ID); !errors.Is(err, identity.ErrConflict) {
		t.Fatalf("self start: got %v, want ErrConflict", err)
	}
	if _, err := svc.StartImpersonation(ctx, admin.ID, "gone"); !errors.Is(err, identity.ErrNotFound) {
		t.Fatalf("missing target: got %v, want ErrNotFound", err)
	}

	target, err := svc.StartImpersonation(ctx, admin.ID, plain.ID)
	if err != nil {
		t.Fatalf("start impersonation: %v", err)
	}
	if target.ID != plain.ID {
		t.Fatalf("got target %q, want %q", target.ID, plain.ID)
	}
}

func TestStartImpersonationUsesStoredRole(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	admin := seedUser(t, mem, "adm", "admin@example.com", identity.RoleAdmin, "correct-horse")
	plain := seedUser(t, mem, "usr", "user@example.com", identity.RoleUser, "correct-horse")

	// Demote in the store; the service must re-read and refuse.
	if err := mem.Users().UpdateRole(ctx, admin.ID, identity.RoleUser); err != nil {
		t.Fatalf("demote: %v", err)
	}
	if _, err := svc.StartImpersonation(ctx, admin.ID, plain.ID); !errors.Is(err, identity.ErrForbidden) {
		t.Fatalf("demoted admin start: got %v, want ErrForbidden", err)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, mem, "u1", "alice@example.com", identity.RoleUser, "correct-horse")

	sess, err := svc.IssueSession(ctx, u.ID, identity.SessionMeta{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	if err := svc.SignOut(ctx, sess.Token); err != nil {
		t.Fatalf("first sign out: %v", err)
	}
	if err := svc.SignOut(ctx, sess.Token); err != nil {
		t.Fatalf("second sign out: %v", err)
	}
	if err := svc.SignOut(ctx, ""); err != nil {
		t.Fatalf("empty token sign out: %v", err)
	}
}

func TestPasswordResetFlow(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, mem, "u1", "alice@example.com", identity.RoleUser, "old-password")

	sess, err := svc.IssueSession(ctx, u.ID, identity.SessionMeta{})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}

	tok, err := svc.RequestPasswordReset(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if tok.Value == "" {
		t.Fatal("expected a reset token for a known address")
	}

	if err := svc.ConfirmPasswordReset(ctx, tok.Value, "new-password"); err != nil {
		t.Fatalf("confirm reset: %v", err)
	}

	// All sessions are revoked on credential change.
	if _, err := svc.Resolve(ctx, sess.Token); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("old session survived reset: %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "alice@example.com", "old-password", identity.SessionMeta{}); !errors.Is(err, identity.ErrUnauthenticated) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, _, err := svc.SignIn(ctx, "alice@example.com", "new-password", identity.SessionMeta{}); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	svc, _, _ := newTestService(t)

	tok, err := svc.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("request reset for unknown email: %v", err)
	}
	if tok.Value != "" {
		t.Fatal("unknown address produced a token")
	}
}

func TestVerifyEmail(t *testing.T) {
	svc, mem, _ := newTestService(t)
	ctx := context.Background()
	u := seedUser(t, mem, "u1", "alice@example.com", identity.RoleUser, "correct-horse")

	tok, err := svc.RequestEmailVerification(ctx, u.ID)
	if err != nil {
		t.Fatalf("request verification: %v", err)
	}
	if err := svc.VerifyEmail(ctx, tok.Value); err != nil {
		t.Fatalf("verify email: %v", err)
	}
	got, err := mem.Users().Find(ctx, u.ID)
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if !got.EmailVerified {
		t.Fatal("email not marked verified")
	}

	// The token is single-use.
	if err := svc.VerifyEmail(ctx, tok.Value); err == nil {
		t.Fatal("second consume of a verification token succeeded")
	}
}
