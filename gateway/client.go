package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

const (
	// DefaultRefreshMargin is how long before access-token expiry a Client rotates
	// its session.
	DefaultRefreshMargin = time.Minute

	refreshRetryInterval = 10 * time.Second
	refreshTimeout       = 10 * time.Second
)

// Client tracks the ambient session of one browser or process.
//
// Every session transition is delivered to every subscriber exactly once and in
// the order the transitions happened. Each subscriber first receives one
// EventInitialSession, either when hydration completes or, if it subscribes later,
// immediately. TokenStore calls are made with the client lock held.
//
// While a session is ambient the client rotates it shortly before its access
// token expires. A session the provider no longer accepts, or one whose access
// token expires while the provider is unreachable, ends with EventSignedOut.
type Client struct {
	provider Provider
	tokens   TokenStore
	logger   *slog.Logger
	now      func() time.Time

	refreshMargin time.Duration
	retryInterval time.Duration

	hydrateMu sync.Mutex

	mu           sync.Mutex
	hydrated     bool
	closed       bool
	current      *Session
	refreshTimer *time.Timer
	subs         map[uint64]*subscriber
	nextSub      uint64
}

// NewClient returns a client for provider. A nil tokens uses an empty
// MemoryTokenStore.
func NewClient(provider Provider, tokens TokenStore, logger *slog.Logger) *Client {
	if tokens == nil {
		tokens = NewMemoryTokenStore("")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		provider:      provider,
		tokens:        tokens,
		logger:        logger,
		now:           time.Now,
		refreshMargin: DefaultRefreshMargin,
		retryInterval: refreshRetryInterval,
		subs:          make(map[uint64]*subscriber),
	}
}

// WithAutoRefresh sets how long before access-token expiry the session is rotated.
// The margin is capped at half the token lifetime. Zero disables automatic
// refresh. Call it before the client is used.
func (c *Client) WithAutoRefresh(margin time.Duration) *Client {
	c.mu.Lock()
	c.refreshMargin = margin
	c.mu.Unlock()
	return c
}

// CurrentSession returns the ambient session, hydrating it from the token store on
// first use. A stored token that the provider rejects is discarded and reported as
// no session. A transport failure during hydration is returned once; the client is
// then treated as signed out.
func (c *Client) CurrentSession(ctx context.Context) (*Session, error) {
	err := c.ensureHydrated(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone(), err
}

// Subscribe registers fn for session transitions and returns a function that stops
// delivery. Each subscriber has its own delivery goroutine, so a slow fn delays only
// its own events.
func (c *Client) Subscribe(fn func(Event)) (unsubscribe func()) {
	sub := newSubscriber(fn)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = sub
	if c.hydrated {
		sub.initialSent = true
		sub.enqueue(Event{Kind: EventInitialSession, Session: c.current.Clone()})
	}
	c.mu.Unlock()

	go sub.run()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		sub.stop()
	}
}

// SignUp creates an identity without touching the ambient session.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*Identity, error) {
	identity, err := c.provider.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	return identity.clone(), nil
}

// SignIn authenticates and makes the new session ambient. A previous session, if
// any, is signed out at the provider.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	_ = c.ensureHydrated(ctx)

	sess, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	prev := c.current
	c.current = sess
	c.saveTokenLocked(ctx, sess.RefreshToken)
	c.broadcastLocked(EventSignedIn, sess)
	c.scheduleRefreshLocked(sess)
	c.mu.Unlock()

	if prev != nil && prev.ID != sess.ID {
		if err := c.provider.SignOut(ctx, prev.ID); err != nil {
			c.logger.Warn("gateway: sign out replaced session failed", "err", err)
		}
	}
	return sess.Clone(), nil
}

// SignOut clears the ambient session locally, then at the provider. It is
// idempotent. The local transition happens even when the provider call fails.
func (c *Client) SignOut(ctx context.Context) error {
	_ = c.ensureHydrated(ctx)

	c.mu.Lock()
	prev := c.current
	c.current = nil
	c.scheduleRefreshLocked(nil)
	c.clearTokenLocked(ctx)
	if prev != nil {
		c.broadcastLocked(EventSignedOut, nil)
	}
	c.mu.Unlock()

	if prev == nil {
		return nil
	}
	return c.provider.SignOut(ctx, prev.ID)
}

// Refresh rotates the ambient session's tokens. A rejected refresh token ends the
// session and emits EventSignedOut.
func (c *Client) Refresh(ctx context.Context) (*Session, error) {
	_ = c.ensureHydrated(ctx)

	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil {
		return nil, ErrSessionNotFound
	}

	next, err := c.provider.Refresh(ctx, cur.RefreshToken)
	if errors.Is(err, ErrRefreshInvalid) {
		c.mu.Lock()
		if c.current == cur {
			c.endSessionLocked(ctx)
		}
		c.mu.Unlock()
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != cur {
		return nil, ErrSessionNotFound
	}
	c.current = next
	c.saveTokenLocked(ctx, next.RefreshToken)
	c.broadcastLocked(EventTokenRefreshed, next)
	c.scheduleRefreshLocked(next)
	return next.Clone(), nil
}

// Close stops automatic refresh and delivery to every subscriber. The ambient
// session is left intact at the provider.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.scheduleRefreshLocked(nil)
	subs := c.subs
	c.subs = make(map[uint64]*subscriber)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
}

func (c *Client) ensureHydrated(ctx context.Context) error {
	c.hydrateMu.Lock()
	defer c.hydrateMu.Unlock()

	c.mu.Lock()
	done := c.hydrated
	c.mu.Unlock()
	if done {
		return nil
	}

	var sess *Session
	token, err := c.tokens.Load(ctx)
	if err == nil && token != "" {
		sess, err = c.provider.Refresh(ctx, token)
		if errors.Is(err, ErrRefreshInvalid) {
			err = nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.hydrated = true
	if sess != nil {
		c.current = sess
		c.saveTokenLocked(ctx, sess.RefreshToken)
		c.scheduleRefreshLocked(sess)
	} else if err == nil && token != "" {
		c.clearTokenLocked(ctx)
	}
	for _, sub := range c.subs {
		if sub.initialSent {
			continue
		}
		sub.initialSent = true
		sub.enqueue(Event{Kind: EventInitialSession, Session: c.current.Clone()})
	}
	return err
}

// endSessionLocked drops the ambient session without contacting the provider.
func (c *Client) endSessionLocked(ctx context.Context) {
	c.current = nil
	c.scheduleRefreshLocked(nil)
	c.clearTokenLocked(ctx)
	c.broadcastLocked(EventSignedOut, nil)
}

// scheduleRefreshLocked replaces the pending refresh with one for sess. A nil sess
// only cancels.
func (c *Client) scheduleRefreshLocked(sess *Session) {
	if c.refreshTimer != nil {
		c.refreshTimer.Stop()
		c.refreshTimer = nil
	}
	if sess == nil || c.closed || c.refreshMargin <= 0 || sess.ExpiresAt.IsZero() {
		return
	}
	c.refreshTimer = time.AfterFunc(c.refreshDelay(sess), func() { c.autoRefresh(sess) })
}

func (c *Client) refreshDelay(sess *Session) time.Duration {
	margin := c.refreshMargin
	if lifetime := sess.ExpiresAt.Sub(sess.IssuedAt); lifetime > 0 && margin > lifetime/2 {
		margin = lifetime / 2
	}
	d := sess.ExpiresAt.Sub(c.now()) - margin
	if d < 0 {
		return 0
	}
	return d
}

// autoRefresh rotates sess if it is still ambient. Transport failures are retried
// until the access token expires; after that the session is ended locally.
func (c *Client) autoRefresh(sess *Session) {
	c.mu.Lock()
	live := !c.closed && c.current == sess
	c.mu.Unlock()
	if !live {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	_, err := c.Refresh(ctx)
	if err == nil || errors.Is(err, ErrRefreshInvalid) || errors.Is(err, ErrSessionNotFound) {
		return
	}
	c.logger.Warn("gateway: automatic refresh failed", "err", err)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.current != sess {
		return
	}
	if !c.now().Before(sess.ExpiresAt) {
		c.logger.Warn("gateway: session expired while provider unreachable", "session_id", sess.ID)
		c.endSessionLocked(ctx)
		return
	}
	c.refreshTimer = time.AfterFunc(c.retryInterval, func() { c.autoRefresh(sess) })
}

func (c *Client) broadcastLocked(kind EventKind, sess *Session) {
	for _, sub := range c.subs {
		sub.enqueue(Event{Kind: kind, Session: sess.Clone()})
	}
}

func (c *Client) saveTokenLocked(ctx context.Context, token string) {
	if err := c.tokens.Save(ctx, token); err != nil {
		c.logger.Warn("gateway: persist refresh token failed", "err", err)
	}
}

func (c *Client) clearTokenLocked(ctx context.Context) {
	if err := c.tokens.Clear(ctx); err != nil {
		c.logger.Warn("gateway: clear refresh token failed", "err", err)
	}
}
