package portalAuth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/registry"
	"github.com/google/uuid"
)

const demoSessionTTL = 24 * time.Hour

// demoTable indexes the configured demo accounts. A nil table matches nothing.
type demoTable struct {
	byEmail map[string]DemoAccount
	byID    map[string]DemoAccount
}

func newDemoTable(accounts []DemoAccount) *demoTable {
	t := &demoTable{
		byEmail: make(map[string]DemoAccount, len(accounts)),
		byID:    make(map[string]DemoAccount, len(accounts)),
	}
	for _, acct := range accounts {
		acct.Email = profile.NormalizeEmail(acct.Email)
		t.byEmail[acct.Email] = acct
		t.byID[acct.ID] = acct
	}
	return t
}

func (t *demoTable) lookupEmail(email string) (DemoAccount, bool) {
	if t == nil {
		return DemoAccount{}, false
	}
	acct, ok := t.byEmail[profile.NormalizeEmail(email)]
	return acct, ok
}

// match requires both the identity id and its email to belong to the same entry.
func (t *demoTable) match(identity *Identity) (DemoAccount, bool) {
	if t == nil || identity == nil {
		return DemoAccount{}, false
	}
	acct, ok := t.byID[identity.ID]
	if !ok || acct.Email != profile.NormalizeEmail(identity.Email) {
		return DemoAccount{}, false
	}
	return acct, true
}

// Sandbox is a Gateway that serves the demo accounts from memory and forwards every
// other email to an inner Gateway. Inner may be nil, in which case only demo
// accounts can sign in.
//
// Subscribers are called with the sandbox lock held and must not call back into the
// Sandbox.
//
// A demo session ends with EventSignedOut when its ExpiresAt passes.
type Sandbox struct {
	inner    Gateway
	table    *demoTable
	password string
	ttl      time.Duration
	now      func() time.Time

	mu      sync.Mutex
	closed  bool
	current *Session
	expiry  *time.Timer
	subs    map[uint64]*sandboxSub
	nextSub uint64
}

type sandboxSub struct {
	fn          func(SessionEvent)
	innerUnsub  func()
	initialSent bool
	closed      bool
}

// NewSandbox wraps inner with the demo accounts of cfg.
func NewSandbox(inner Gateway, cfg DemoConfig) *Sandbox {
	return &Sandbox{
		inner:    inner,
		table:    newDemoTable(cfg.Accounts),
		password: cfg.Password,
		ttl:      demoSessionTTL,
		now:      time.Now,
		subs:     make(map[uint64]*sandboxSub),
	}
}

// IsDemo reports whether email is a reserved demo account.
func (s *Sandbox) IsDemo(email string) bool {
	_, ok := s.table.lookupEmail(email)
	return ok
}

func (s *Sandbox) SignIn(ctx context.Context, email, password string) (*Session, error) {
	acct, ok := s.table.lookupEmail(email)
	if !ok {
		if s.inner == nil {
			return nil, gateway.ErrInvalidCredentials
		}
		sess, err := s.inner.SignIn(ctx, email, password)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.current = nil
		s.scheduleExpiryLocked(nil)
		s.mu.Unlock()
		return sess, nil
	}
	if password != s.password {
		return nil, gateway.ErrInvalidCredentials
	}

	if s.inner != nil {
		if cur, err := s.inner.CurrentSession(ctx); err == nil && cur != nil {
			if err := s.inner.SignOut(ctx); err != nil {
				return nil, err
			}
		}
	}

	sess := s.newSession(acct)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = sess
	s.broadcastLocked(gateway.EventSignedIn, sess)
	s.scheduleExpiryLocked(sess)
	return sess.Clone(), nil
}

func (s *Sandbox) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Identity, error) {
	if _, ok := s.table.lookupEmail(email); ok {
		return nil, gateway.ErrDuplicateAccount
	}
	if s.inner == nil {
		return nil, fmt.Errorf("%w: sandbox has no credential backend", gateway.ErrUnavailable)
	}
	return s.inner.SignUp(ctx, email, password, metadata)
}

// SignOut ends the demo session if one is active, otherwise the inner session.
func (s *Sandbox) SignOut(ctx context.Context) error {
	s.mu.Lock()
	if s.current != nil {
		s.current = nil
		s.scheduleExpiryLocked(nil)
		s.broadcastLocked(gateway.EventSignedOut, nil)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.inner == nil {
		return nil
	}
	return s.inner.SignOut(ctx)
}

func (s *Sandbox) CurrentSession(ctx context.Context) (*Session, error) {
	s.mu.Lock()
	cur := s.current.Clone()
	s.mu.Unlock()
	if cur != nil || s.inner == nil {
		return cur, nil
	}
	return s.inner.CurrentSession(ctx)
}

// Subscribe merges demo transitions with the inner gateway's. Without an inner
// gateway the initial event is delivered before Subscribe returns.
func (s *Sandbox) Subscribe(fn func(SessionEvent)) func() {
	sub := &sandboxSub{fn: fn}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	if s.inner == nil {
		sub.initialSent = true
		fn(SessionEvent{Kind: gateway.EventInitialSession, Session: s.current.Clone()})
	}
	s.mu.Unlock()

	if s.inner != nil {
		unsub := s.inner.Subscribe(func(ev SessionEvent) {
			s.forward(sub, ev)
		})
		s.mu.Lock()
		sub.innerUnsub = unsub
		s.mu.Unlock()
	}

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		sub.closed = true
		unsub := sub.innerUnsub
		s.mu.Unlock()
		if unsub != nil {
			unsub()
		}
	}
}

// forward relays an inner event unless an active demo session supersedes it.
func (s *Sandbox) forward(sub *sandboxSub, ev SessionEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.closed {
		return
	}

	switch ev.Kind {
	case gateway.EventInitialSession:
		if sub.initialSent {
			return
		}
		sub.initialSent = true
		if s.current != nil {
			ev.Session = s.current.Clone()
		}
	case gateway.EventSignedIn:
		s.current = nil
		s.scheduleExpiryLocked(nil)
	default:
		if s.current != nil {
			return
		}
	}
	sub.fn(ev)
}

// Close cancels the pending demo expiry. The inner gateway is not closed.
func (s *Sandbox) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.scheduleExpiryLocked(nil)
}

func (s *Sandbox) scheduleExpiryLocked(sess *Session) {
	if s.expiry != nil {
		s.expiry.Stop()
		s.expiry = nil
	}
	if sess == nil || s.closed {
		return
	}
	s.expiry = time.AfterFunc(sess.ExpiresAt.Sub(s.now()), func() { s.expire(sess) })
}

func (s *Sandbox) expire(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.current != sess {
		return
	}
	s.current = nil
	s.expiry = nil
	s.broadcastLocked(gateway.EventSignedOut, nil)
}

func (s *Sandbox) broadcastLocked(kind gateway.EventKind, sess *Session) {
	for _, sub := range s.subs {
		if sub.closed {
			continue
		}
		sub.fn(SessionEvent{Kind: kind, Session: sess.Clone()})
	}
}

func (s *Sandbox) newSession(acct DemoAccount) *Session {
	now := s.now().UTC()
	return &Session{
		ID:      uuid.NewString(),
		Subject: acct.ID,
		Identity: &Identity{
			ID:        acct.ID,
			Email:     acct.Email,
			Metadata:  map[string]string{gateway.MetadataRole: string(acct.Role)},
			CreatedAt: now,
		},
		AccessToken:  uuid.NewString(),
		RefreshToken: uuid.NewString(),
		IssuedAt:     now,
		ExpiresAt:    now.Add(s.ttl),
	}
}

// sandboxRegistry answers for demo emails from the table and forwards the rest.
type sandboxRegistry struct {
	inner registry.Registry
	table *demoTable
}

func (r *sandboxRegistry) Lookup(ctx context.Context, email string) (registry.Result, error) {
	if acct, ok := r.table.lookupEmail(email); ok {
		return registry.Result{Exists: true, Role: acct.Role}, nil
	}
	return r.inner.Lookup(ctx, email)
}

func (r *sandboxRegistry) Register(ctx context.Context, email string, role profile.Role) error {
	if acct, ok := r.table.lookupEmail(email); ok {
		return &registry.RegisteredError{Email: acct.Email, Role: acct.Role}
	}
	return r.inner.Register(ctx, email, role)
}

func (r *sandboxRegistry) Reassign(ctx context.Context, email string, role profile.Role) (bool, error) {
	if _, ok := r.table.lookupEmail(email); ok {
		return true, nil
	}
	return r.inner.Reassign(ctx, email, role)
}

func (r *sandboxRegistry) Remove(ctx context.Context, email string) error {
	if _, ok := r.table.lookupEmail(email); ok {
		return nil
	}
	return r.inner.Remove(ctx, email)
}
