package identity

import "context"

// UserStore persists principals and their hashed credentials.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	UpdateRole(ctx context.Context, id string, role Role) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	MarkEmailVerified(ctx context.Context, id string) error
}

// SessionStore persists bearer sessions. Lookups are by opaque token;
// expiry is checked by the resolver, not swept by the store.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	FindByToken(ctx context.Context, token string) (Session, error)
	DeleteByToken(ctx context.Context, token string) error
	DeleteByUser(ctx context.Context, userID string) error
}
