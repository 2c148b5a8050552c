package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/ids"
	"pagegrid.org/internal/invite"
	"pagegrid.org/internal/tenant"
)

type inviteStore struct{ db *sql.DB }

var _ invite.Store = (*inviteStore)(nil)

func (s *inviteStore) Create(ctx context.Context, inv *invite.Invite) error {
	if inv.ID == "" {
		inv.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into invites(id, email, token, organization_id, team_id, role, inviter_id, status, expires_at, created_at)
		values($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, inv.ID, inv.Email, inv.Token,
		nullIfEmpty(inv.OrganizationID), nullIfEmpty(inv.TeamID),
		inv.Role, inv.InviterID, inv.Status, inv.ExpiresAt, inv.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: token collision", invite.ErrInvalidInput)
	}
	return err
}

func (s *inviteStore) FindByToken(ctx context.Context, tok string) (invite.Invite, error) {
	var (
		inv        invite.Invite
		orgID      sql.NullString
		teamID     sql.NullString
		acceptedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		select id, email, token, organization_id, team_id, role, inviter_id, status, expires_at, accepted_at, created_at
		from invites where token=$1
	`, tok).Scan(&inv.ID, &inv.Email, &inv.Token, &orgID, &teamID, &inv.Role,
		&inv.InviterID, &inv.Status, &inv.ExpiresAt, &acceptedAt, &inv.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return invite.Invite{}, invite.ErrNotFound
	}
	if err != nil {
		return invite.Invite{}, err
	}
	inv.OrganizationID = orgID.String
	inv.TeamID = teamID.String
	if acceptedAt.Valid {
		t := acceptedAt.Time
		inv.AcceptedAt = &t
	}
	return inv, nil
}

// MarkExpired is the lazy pending→expired transition. The status guard makes
// it idempotent under concurrent access: writing expired over an
// already-expired row affects nothing.
func (s *inviteStore) MarkExpired(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`update invites set status=$2 where id=$1 and status=$3`,
		id, invite.StatusExpired, invite.StatusPending)
	return err
}

// Accept commits the acceptance as one transaction. The conditional status
// update runs first and takes the row lock, so concurrent accepts of the
// same token serialize on it: exactly one observes applied=true, the others
// roll back without side effects.
func (s *inviteStore) Accept(ctx context.Context, inviteID string, acceptedAt time.Time, newUser *identity.User, m tenant.Membership) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update invites set status=$2, accepted_at=$3 where id=$1 and status=$4
	`, inviteID, invite.StatusAccepted, acceptedAt, invite.StatusPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	if newUser != nil {
		_, err = tx.ExecContext(ctx, `
			insert into users(id, email, name, role, email_verified, password_hash, created_at)
			values($1,$2,$3,$4,$5,$6,$7)
		`, newUser.ID, newUser.Email, newUser.Name, newUser.Role,
			newUser.EmailVerified, newUser.PasswordHash, newUser.CreatedAt)
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: email already registered", identity.ErrConflict)
		}
		if err != nil {
			return false, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		insert into memberships(scope_kind, scope_id, principal_id, role, status, created_at)
		values($1,$2,$3,$4,$5,$6)
		on conflict (scope_kind, scope_id, principal_id) do nothing
	`, m.Scope.Kind, m.Scope.ID, m.PrincipalID, m.Role, m.Status, m.CreatedAt)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
