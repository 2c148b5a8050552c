package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"pagegrid.org/internal/ids"
	"pagegrid.org/internal/tenant"
)

type tenantStore struct{ db *sql.DB }

var _ tenant.Store = (*tenantStore)(nil)

// Organizations ------------------------------------------------------------

func (s *tenantStore) CreateOrganization(ctx context.Context, org *tenant.Organization) error {
	if org.ID == "" {
		org.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into organizations(id, slug, name, description, owner_id, created_at)
		values($1,$2,$3,$4,$5,$6)
	`, org.ID, org.Slug, org.Name, org.Description, org.OwnerID, org.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: slug already taken", tenant.ErrConflict)
	}
	return err
}

const orgColumns = `id, slug, name, description, owner_id, created_at`

func scanOrganization(row *sql.Row) (tenant.Organization, error) {
	var org tenant.Organization
	err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.Description, &org.OwnerID, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Organization{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Organization{}, err
	}
	return org, nil
}

func (s *tenantStore) FindOrganization(ctx context.Context, id string) (tenant.Organization, error) {
	return scanOrganization(s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where id=$1`, id))
}

func (s *tenantStore) FindOrganizationBySlug(ctx context.Context, slug string) (tenant.Organization, error) {
	return scanOrganization(s.db.QueryRowContext(ctx,
		`select `+orgColumns+` from organizations where slug=$1`, slug))
}

func (s *tenantStore) UpdateOrganization(ctx context.Context, id string, upd tenant.OrganizationUpdate) (tenant.Organization, error) {
	return scanOrganization(s.db.QueryRowContext(ctx, `
		update organizations
		set name = coalesce($2, name), description = coalesce($3, description)
		where id=$1
		returning `+orgColumns,
		id, upd.Name, upd.Description))
}

// DeleteOrganization removes the organization, its teams and every
// membership row scoped to either. Memberships carry no FK, so the cleanup
// is explicit and committed as one unit with the row deletion.
func (s *tenantStore) DeleteOrganization(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		delete from memberships
		where (scope_kind=$1 and scope_id=$2)
		   or (scope_kind=$3 and scope_id in (select id from teams where organization_id=$2))
	`, tenant.ScopeOrganization, id, tenant.ScopeTeam)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `delete from teams where organization_id=$1`, id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `delete from organizations where id=$1`, id)
	if err != nil {
		return err
	}
	if err := noRowsAsNotFound(res, tenant.ErrNotFound); err != nil {
		return err
	}
	return tx.Commit()
}

// Teams --------------------------------------------------------------------

func (s *tenantStore) CreateTeam(ctx context.Context, team *tenant.Team) error {
	if team.ID == "" {
		team.ID = ids.New()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into teams(id, organization_id, name, created_at)
		values($1,$2,$3,$4)
	`, team.ID, team.OrganizationID, team.Name, team.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return fmt.Errorf("%w: organization %s", tenant.ErrNotFound, team.OrganizationID)
	}
	return err
}

func (s *tenantStore) FindTeam(ctx context.Context, id string) (tenant.Team, error) {
	var team tenant.Team
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, name, created_at from teams where id=$1
	`, id).Scan(&team.ID, &team.OrganizationID, &team.Name, &team.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Team{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Team{}, err
	}
	return team, nil
}

func (s *tenantStore) ListTeams(ctx context.Context, orgID string) ([]tenant.Team, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, name, created_at from teams
		where organization_id=$1 order by created_at
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var teams []tenant.Team
	for rows.Next() {
		var team tenant.Team
		if err := rows.Scan(&team.ID, &team.OrganizationID, &team.Name, &team.CreatedAt); err != nil {
			return nil, err
		}
		teams = append(teams, team)
	}
	return teams, rows.Err()
}

// Memberships --------------------------------------------------------------

func (s *tenantStore) Membership(ctx context.Context, scope tenant.Scope, principalID string) (tenant.Membership, error) {
	var m tenant.Membership
	err := s.db.QueryRowContext(ctx, `
		select scope_kind, scope_id, principal_id, role, status, created_at
		from memberships where scope_kind=$1 and scope_id=$2 and principal_id=$3
	`, scope.Kind, scope.ID, principalID).
		Scan(&m.Scope.Kind, &m.Scope.ID, &m.PrincipalID, &m.Role, &m.Status, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return tenant.Membership{}, tenant.ErrNotFound
	}
	if err != nil {
		return tenant.Membership{}, err
	}
	return m, nil
}

func (s *tenantStore) AddMember(ctx context.Context, m tenant.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		insert into memberships(scope_kind, scope_id, principal_id, role, status, created_at)
		values($1,$2,$3,$4,$5,$6)
		on conflict (scope_kind, scope_id, principal_id) do nothing
	`, m.Scope.Kind, m.Scope.ID, m.PrincipalID, m.Role, m.Status, m.CreatedAt)
	return err
}

func (s *tenantStore) ListMembers(ctx context.Context, scope tenant.Scope) ([]tenant.Membership, error) {
	rows, err := s.db.QueryContext(ctx, `
		select scope_kind, scope_id, principal_id, role, status, created_at
		from memberships where scope_kind=$1 and scope_id=$2 order by created_at
	`, scope.Kind, scope.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []tenant.Membership
	for rows.Next() {
		var m tenant.Membership
		if err := rows.Scan(&m.Scope.Kind, &m.Scope.ID, &m.PrincipalID, &m.Role, &m.Status, &m.CreatedAt); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *tenantStore) RemoveMember(ctx context.Context, scope tenant.Scope, principalID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from memberships where scope_kind=$1 and scope_id=$2 and principal_id=$3
	`, scope.Kind, scope.ID, principalID)
	if err != nil {
		return err
	}
	return noRowsAsNotFound(res, tenant.ErrNotFound)
}
