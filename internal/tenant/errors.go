package tenant

import "errors"

var (
	ErrForbidden    = errors.New("tenant: forbidden")
	ErrNotFound     = errors.New("tenant: not found")
	ErrConflict     = errors.New("tenant: conflict")
	ErrInvalidInput = errors.New("tenant: invalid input")
)
