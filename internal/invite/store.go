package invite

import (
	"context"
	"time"

	"pagegrid.org/internal/identity"
	"pagegrid.org/internal/tenant"
)

// Store persists invites and executes the acceptance transaction.
type Store interface {
	Create(ctx context.Context, inv *Invite) error
	FindByToken(ctx context.Context, token string) (Invite, error)

	// MarkExpired performs the conditional pending→expired transition.
	// Writing over a row that already left pending is a no-op, so two
	// concurrent lazy expirations observe a consistent outcome.
	MarkExpired(ctx context.Context, id string) error

	// Accept executes the acceptance as one committed unit: the conditional
	// pending→accepted transition, the optional creation of a new principal,
	// and the membership materialization (idempotent against an existing
	// row). It reports applied=false without side effects when the invite
	// had already left pending, which the caller resolves by re-reading.
	Accept(ctx context.Context, inviteID string, acceptedAt time.Time, newUser *identity.User, m tenant.Membership) (applied bool, err error)
}
