// Package token manages one-time verification tokens shared by the
// password-reset and email-verification flows.
package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pagegrid.org/internal/ids"
)

// Purpose tags what a token may be consumed for.
type Purpose string

const (
	PurposePasswordReset     Purpose = "password-reset"
	PurposeEmailVerification Purpose = "email-verification"
)

var (
	ErrNotFound = errors.New("token: not found")
	ErrExpired  = errors.New("token: expired")
)

// TTL per purpose. Reset links are deliberately short-lived.
var purposeTTL = map[Purpose]time.Duration{
	PurposePasswordReset:     time.Hour,
	PurposeEmailVerification: 24 * time.Hour,
}

// Token is a single-use capability bound to an optional principal.
type Token struct {
	ID        string
	Purpose   Purpose
	Value     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// ExpiredAt reports whether the token is no longer valid at the given
// instant. Expiry is an inclusive upper bound on validity.
func (t Token) ExpiredAt(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Store persists tokens. Create must atomically invalidate any prior live
// token for the same (user, purpose) pair, so at most one reset link is
// honored per principal. Consume must delete the row it returns.
type Store interface {
	Create(ctx context.Context, t *Token) error
	FindByValue(ctx context.Context, purpose Purpose, value string) (Token, error)
	Delete(ctx context.Context, id string) error
}

// Issue creates a fresh token for the purpose, replacing prior live tokens
// for the same user.
func Issue(ctx context.Context, store Store, purpose Purpose, userID string, now time.Time) (Token, error) {
	ttl, ok := purposeTTL[purpose]
	if !ok {
		return Token{}, fmt.Errorf("token: unknown purpose %q", purpose)
	}
	value, err := ids.NewToken()
	if err != nil {
		return Token{}, err
	}
	t := Token{
		ID:        ids.New(),
		Purpose:   purpose,
		Value:     value,
		UserID:    userID,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := store.Create(ctx, &t); err != nil {
		return Token{}, err
	}
	return t, nil
}

// Consume validates and burns a token. Expired tokens are deleted and
// reported as ErrExpired, distinct from ErrNotFound.
func Consume(ctx context.Context, store Store, purpose Purpose, value string, now time.Time) (Token, error) {
	t, err := store.FindByValue(ctx, purpose, value)
	if err != nil {
		return Token{}, err
	}
	if t.ExpiredAt(now) {
		_ = store.Delete(ctx, t.ID)
		return Token{}, ErrExpired
	}
	if err := store.Delete(ctx, t.ID); err != nil {
		return Token{}, err
	}
	return t, nil
}
