// Package registry maps each email address to the role it was first registered
// under. An email holds at most one role; sign-in may move the role of an existing
// entry but never creates a second entry.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/portalAuth/profile"
)

var (
	// ErrUnavailable means the registry could not be consulted. Callers must not treat
	// it as "email is free".
	ErrUnavailable = errors.New("email registry unavailable")
	// ErrRegistered is returned by Register when the email already has an entry.
	ErrRegistered = errors.New("email already registered")
)

// RegisteredError names the role an email is already registered under.
type RegisteredError struct {
	Email string
	Role  profile.Role
}

func (e *RegisteredError) Error() string {
	return fmt.Sprintf("email %s already registered as %s", e.Email, e.Role)
}

func (e *RegisteredError) Unwrap() error {
	return ErrRegistered
}

// Result is the outcome of a lookup.
type Result struct {
	Exists bool
	Role   profile.Role
}

// Registry is the email to role index.
type Registry interface {
	Lookup(ctx context.Context, email string) (Result, error)
	// Register records email under role. An existing entry yields a *RegisteredError.
	Register(ctx context.Context, email string, role profile.Role) error
	// Reassign moves an existing entry to role. Absent entries are left absent and
	// reported with ok=false.
	Reassign(ctx context.Context, email string, role profile.Role) (ok bool, err error)
	Remove(ctx context.Context, email string) error
}
