package pg

import (
	"context"
	"database/sql"
	"errors"

	"pagegrid.org/internal/token"
)

type tokenStore struct{ db *sql.DB }

var _ token.Store = (*tokenStore)(nil)

// Create inserts the token and removes prior live tokens for the same
// (user, purpose) pair in the same transaction, so at most one reset link
// is honored per principal.
func (s *tokenStore) Create(ctx context.Context, t *token.Token) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if t.UserID != "" {
		_, err = tx.ExecContext(ctx,
			`delete from verification_tokens where user_id=$1 and purpose=$2`,
			t.UserID, t.Purpose)
		if err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		insert into verification_tokens(id, purpose, value, user_id, expires_at, created_at)
		values($1,$2,$3,$4,$5,$6)
	`, t.ID, t.Purpose, t.Value, nullIfEmpty(t.UserID), t.ExpiresAt, t.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *tokenStore) FindByValue(ctx context.Context, purpose token.Purpose, value string) (token.Token, error) {
	var (
		t      token.Token
		userID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, purpose, value, user_id, expires_at, created_at
		from verification_tokens where purpose=$1 and value=$2
	`, purpose, value).Scan(&t.ID, &t.Purpose, &t.Value, &userID, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Token{}, token.ErrNotFound
	}
	if err != nil {
		return token.Token{}, err
	}
	t.UserID = userID.String
	return t, nil
}

func (s *tokenStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from verification_tokens where id=$1`, id)
	return err
}
