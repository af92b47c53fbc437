package errors

import "errors"

var (
	// ErrNotFound is a generic sentinel for missing resources.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized is a generic sentinel for auth failures.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidArgument is a generic sentinel for invalid input.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrForbidden marks an action the current participant may not take.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict marks a request that clashes with the current remote state.
	ErrConflict = errors.New("conflict")
)
