package invite

import "errors"

var (
	ErrNotFound     = errors.New("invite: not found")
	ErrExpired      = errors.New("invite: expired")
	ErrInvalidInput = errors.New("invite: invalid input")
)
