package gateway

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password. The
	// two cases are not distinguished.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicateAccount is returned by SignUp when the email already has an identity.
	ErrDuplicateAccount = errors.New("identity already exists")
	// ErrRateLimited is returned when sign-in attempts for the email or client IP are
	// exhausted for the current window.
	ErrRateLimited = errors.New("too many sign-in attempts")
	// ErrSessionNotFound is returned when an operation needs a session and none is
	// active.
	ErrSessionNotFound = errors.New("session not found")
	// ErrUnavailable wraps Redis and other backend failures.
	ErrUnavailable = errors.New("gateway unavailable")
	// ErrRefreshInvalid is returned for malformed, expired, revoked or reused refresh
	// tokens. A reused token revokes its session.
	ErrRefreshInvalid = errors.New("refresh token invalid")
)
