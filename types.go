package portalAuth

import (
	"context"

	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/profile"
)

type (
	// Session is an authenticated session as reported by the credential gateway.
	Session = gateway.Session
	// Identity is the authenticated principal of a Session.
	Identity = gateway.Identity
	// SessionEvent is one credential-state transition.
	SessionEvent = gateway.Event
)

// Gateway is the credential and identity boundary the engine depends on.
// *gateway.Client and *Sandbox implement it.
//
// Subscribe must deliver every transition exactly once and in order, starting with
// one gateway.EventInitialSession after the ambient session is known.
type Gateway interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Identity, error)
	SignOut(ctx context.Context) error
	CurrentSession(ctx context.Context) (*Session, error)
	Subscribe(fn func(SessionEvent)) (unsubscribe func())
}

// State is the resolution status of an Engine.
type State uint8

const (
	// StateUnresolved is the state before Start.
	StateUnresolved State = iota
	// StateLoading means a profile is being resolved for the current session.
	StateLoading
	// StateAnonymous means there is no session.
	StateAnonymous
	// StateResolved means the current session has a profile.
	StateResolved
	// StateDegraded means a session exists but its profile could not be loaded.
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUnresolved:
		return "unresolved"
	case StateLoading:
		return "loading"
	case StateAnonymous:
		return "anonymous"
	case StateResolved:
		return "resolved"
	case StateDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// Settled reports whether s is a terminal state for the current session.
func (s State) Settled() bool {
	return s == StateAnonymous || s == StateResolved || s == StateDegraded
}

// Snapshot is a consistent view of the engine. All fields are copies taken
// together under one lock; mutating them does not affect the engine.
type Snapshot struct {
	State    State
	Loading  bool
	Epoch    uint64
	Identity *Identity
	Session  *Session
	Profile  *profile.Profile
}

// SignInRequest authenticates an email. Role, when set, selects the role the user
// works under for this session and is persisted onto the profile.
type SignInRequest struct {
	Email    string
	Password string
	Role     *profile.Role
}

// SignUpRequest registers a new account. Base carries common profile fields and
// Details the role-specific ones; they are merged with Details winning. An empty
// Role falls back to Base.Role.
type SignUpRequest struct {
	Email    string
	Password string
	Role     profile.Role
	Base     profile.Patch
	Details  profile.Patch
}

// EmailRoleResult is the registry view of an email.
type EmailRoleResult struct {
	Exists bool
	Role   profile.Role
}
