package profile

import "errors"

var (
	// ErrNotFound is returned by stores when no profile exists for a user id. It is the
	// normal first-login path, not a failure.
	ErrNotFound = errors.New("profile not found")
	// ErrStoreUnavailable wraps transport or storage failures.
	ErrStoreUnavailable = errors.New("profile store unavailable")
	// ErrInvalidRole is returned for role strings outside student, employee, tpo.
	ErrInvalidRole = errors.New("invalid role")
)
