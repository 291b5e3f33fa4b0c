package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrPermissionDeny  = errors.New("permission denied")
	ErrConflict        = errors.New("conflict")
	ErrLoginRestricted = errors.New("login access restricted")
	ErrUnauthenticated = errors.New("unauthenticated")
)
