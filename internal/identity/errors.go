package identity

import "errors"

var (
	// ErrUnauthenticated covers missing, invalid and expired session tokens.
	ErrUnauthenticated = errors.New("identity: unauthenticated")
	ErrForbidden       = errors.New("identity: forbidden")
	ErrNotFound        = errors.New("identity: not found")
	ErrConflict        = errors.New("identity: conflict")
	ErrInvalidInput    = errors.New("identity: invalid input")
)
