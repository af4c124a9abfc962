package portalAuth

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/portalAuth/profile"
)

var (
	// ErrInvalidCredentials is returned by SignIn for an unknown email or a wrong
	// password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateAccount is returned by SignUp when the email is already registered.
	// The concrete error is a *DuplicateAccountError naming the existing role.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrEmailCheckUnavailable means the email registry could not be consulted.
	// Registration fails closed on it.
	ErrEmailCheckUnavailable = errors.New("email availability could not be confirmed")
	// ErrProfileResolutionFailed is the cause recorded when a session's profile could
	// not be loaded or seeded. It is logged and surfaces as StateDegraded, never as a
	// returned error.
	ErrProfileResolutionFailed = errors.New("profile resolution failed")
	// ErrProfileUpdateFailed wraps a failed profile write. The previous profile stays
	// in place.
	ErrProfileUpdateFailed = errors.New("profile update failed")
	// ErrNoActiveUser is returned by profile operations when no profile is resolved.
	ErrNoActiveUser = errors.New("no active user")
	// ErrInvalidRole is returned for a role outside student, employee and tpo.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidRequest is returned for requests missing an email or password.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrPasswordPolicy is returned by SignUp for a password outside the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrSignInRateLimited is returned while sign-in attempts are throttled.
	ErrSignInRateLimited = errors.New("sign-in rate limited")
	// ErrGatewayUnavailable wraps credential backend failures.
	ErrGatewayUnavailable = errors.New("credential gateway unavailable")
	// ErrEngineNotReady is returned before Start or after Close.
	ErrEngineNotReady = errors.New("engine not ready")
)

// DuplicateAccountError reports the role an email is already registered under. Role
// is empty when only the credential gateway knew the email.
type DuplicateAccountError struct {
	Email string
	Role  profile.Role
}

func (e *DuplicateAccountError) Error() string {
	if e.Role == "" {
		return fmt.Sprintf("an account for %s already exists", e.Email)
	}
	return fmt.Sprintf("an account for %s already exists as %s", e.Email, e.Role)
}

func (e *DuplicateAccountError) Unwrap() error {
	return ErrDuplicateAccount
}
