package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/ids"
)

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

var _ identity.UserStore = (*userStore)(nil)

func (s *userStore) Create(ctx context.Context, u *identity.User) error {
	if u.ID == "" {
		u.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into users(id, email, name, role, email_verified, password_hash, created_at)
		values($1,$2,$3,$4,$5,$6,$7)
	`, u.ID, u.Email, u.Name, u.Role, u.EmailVerified, u.PasswordHash, u.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: email already registered", identity.ErrConflict)
	}
	return err
}

const userColumns = `id, email, name, role, email_verified, password_hash, created_at`

func scanUser(row *sql.Row) (identity.User, error) {
	var u identity.User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &u.EmailVerified, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.User{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.User{}, err
	}
	return u, nil
}

func (s *userStore) Find(ctx context.Context, id string) (identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (identity.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1`, email))
}

func (s *userStore) UpdateRole(ctx context.Context, id string, role identity.Role) error {
	res, err := s.db.ExecContext(ctx, `update users set role=$2 where id=$1`, id, role)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res, identity.ErrNotFound)
}

func (s *userStore) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx, `update users set password_hash=$2 where id=$1`, id, passwordHash)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res, identity.ErrNotFound)
}

func (s *userStore) MarkEmailVerified(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `update users set email_verified=true where id=$1`, id)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res, identity.ErrNotFound)
}

// Session store ------------------------------------------------------------

type sessionStore struct{ db *sql.DB }

var _ identity.SessionStore = (*sessionStore)(nil)

func (s *sessionStore) Create(ctx context.Context, sess *identity.Session) error {
	if sess.ID == "" {
		sess.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions(id, user_id, token, user_agent, ip, created_at, expires_at)
		values($1,$2,$3,$4,$5,$6,$7)
	`, sess.ID, sess.UserID, sess.Token, sess.UserAgent, sess.IP, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s *sessionStore) FindByToken(ctx context.Context, tok string) (identity.Session, error) {
	var sess identity.Session
	err := s.db.QueryRowContext(ctx, `
		select id, user_id, token, user_agent, ip, created_at, expires_at
		from sessions where token=$1
	`, tok).Scan(&sess.ID, &sess.UserID, &sess.Token, &sess.UserAgent, &sess.IP, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return identity.Session{}, identity.ErrNotFound
	}
	if err != nil {
		return identity.Session{}, err
	}
	return sess, nil
}

func (s *sessionStore) DeleteByToken(ctx context.Context, tok string) error {
	res, err := s.db.ExecContext(ctx, `delete from sessions where token=$1`, tok)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res, identity.ErrNotFound)
}

func (s *sessionStore) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where user_id=$1`, userID)
	return err
}

func noRowsAsNotFound(res sql.Result, sentinel error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sentinel
	}
	return nil
}
