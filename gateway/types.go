package gateway

import (
	"context"
	"maps"
	"time"
)

// MetadataRole is the identity metadata key carrying the role hint chosen at sign-up.
const MetadataRole = "role"

// Identity is an authenticated principal.
type Identity struct {
	ID        string
	Email     string
	Metadata  map[string]string
	CreatedAt time.Time
}

// RoleHint returns the role recorded in metadata at sign-up, if any.
func (i *Identity) RoleHint() string {
	if i == nil {
		return ""
	}
	return i.Metadata[MetadataRole]
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.Metadata = maps.Clone(i.Metadata)
	return &out
}

// Session is an active sign-in. Subject is the identity id.
type Session struct {
	ID           string
	Subject      string
	Identity     *Identity
	AccessToken  string
	RefreshToken string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.Identity = s.Identity.clone()
	return &out
}

// EventKind names a session transition.
type EventKind uint8

const (
	// EventInitialSession is delivered once per subscriber after hydration. Its session
	// may be nil.
	EventInitialSession EventKind = iota + 1
	EventSignedIn
	EventSignedOut
	EventTokenRefreshed
)

func (k EventKind) String() string {
	switch k {
	case EventInitialSession:
		return "initial_session"
	case EventSignedIn:
		return "signed_in"
	case EventSignedOut:
		return "signed_out"
	case EventTokenRefreshed:
		return "token_refreshed"
	default:
		return "unknown"
	}
}

// Event is one session transition. Session is nil when the transition leaves no
// session.
type Event struct {
	Kind    EventKind
	Session *Session
}

// Provider is the authority a Client talks to. *Service implements it.
type Provider interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Identity, error)
	SignIn(ctx context.Context, email, password string) (*Session, error)
	Refresh(ctx context.Context, refreshToken string) (*Session, error)
	SignOut(ctx context.Context, sessionID string) error
}
