// Package pg implements every persistence contract of the identity core on
// PostgreSQL. All writes are single-row or small-transaction mutations keyed
// by primary/composite key; natural-key uniqueness constraints are the
// concurrency control, no global locks.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/invite"
	"pagegrid.org/internal/tenant"
	"pagegrid.org/internal/token"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store bundles the per-subsystem stores over one connection pool.
type Store struct {
	db *sql.DB
}

// Open connects to PostgreSQL with pool defaults tuned for the API workload.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing database handle (used by tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Users returns the principal store.
func (s *Store) Users() identity.UserStore { return &userStore{db: s.db} }

// Sessions returns the session store.
func (s *Store) Sessions() identity.SessionStore { return &sessionStore{db: s.db} }

// Tenants returns the organization/team/membership store.
func (s *Store) Tenants() tenant.Store { return &tenantStore{db: s.db} }

// Invites returns the invite store.
func (s *Store) Invites() invite.Store { return &inviteStore{db: s.db} }

// Tokens returns the verification token store.
func (s *Store) Tokens() token.Store { return &tokenStore{db: s.db} }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func isUniqueViolation(err error) bool {
	pgErr, ok := maybePgError(err)
	return ok && pgErr.Code == pgErrUniqueViolation
}
