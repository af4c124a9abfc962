package portalAuth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/internal/audit"
	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/profilestore"
	"github.com/MrEthical07/portalAuth/registry"
)

// Engine reconciles the credential session of one client with its portal profile.
//
// Every session transition reported by the gateway bumps the session epoch and
// starts a resolution tagged with it. A resolution whose epoch is no longer current
// when it finishes is discarded, so a late result never replaces a newer state.
// All methods are safe for concurrent use.
type Engine struct {
	config    Config
	gateway   Gateway
	sandbox   *Sandbox
	registry  registry.Registry
	store     profilestore.Store
	resolvers []IdentityResolver
	logger    *slog.Logger
	audit     *audit.Dispatcher
	metrics   *Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	started     bool
	closed      bool
	state       State
	epoch       uint64
	session     *Session
	profile     *profile.Profile
	waiters     []*signInWaiter
	changed     chan struct{}
	unsubscribe func()
}

// signInWaiter parks SignIn until the gateway's event for the new session has been
// applied. It also carries the role selected for that session.
type signInWaiter struct {
	email string
	role  *profile.Role
	done  chan struct{}
}

// Start subscribes to the gateway and asks it for the ambient session. The engine
// moves to StateLoading immediately and settles once the gateway reports the
// initial session. A failed ambient lookup is logged; the gateway still reports
// the initial event.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineNotReady
	}
	if e.started {
		e.mu.Unlock()
		return nil
	}
	e.started = true
	e.setStateLocked(StateLoading)
	e.mu.Unlock()

	unsub := e.gateway.Subscribe(e.handleSessionEvent)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		unsub()
		return ErrEngineNotReady
	}
	e.unsubscribe = unsub
	e.mu.Unlock()

	if _, err := e.gateway.CurrentSession(ctx); err != nil {
		e.logger.Warn("portal: ambient session lookup failed", "err", err)
	}
	return nil
}

// Close stops event handling, waits for in-flight resolutions and flushes audit
// events. The engine keeps its last snapshot.
func (e *Engine) Close() {
	if e == nil {
		return
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.releaseWaitersLocked()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if e.sandbox != nil {
		e.sandbox.Close()
	}
	e.cancel()
	e.wg.Wait()
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Snapshot returns the current state with copies of the session, identity and
// profile taken together.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		State:   e.state,
		Loading: !e.state.Settled(),
		Epoch:   e.epoch,
		Session: e.session.Clone(),
		Profile: e.profile.Clone(),
	}
	if e.session != nil {
		snap.Identity = e.session.Clone().Identity
	}
	return snap
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Identity() *Identity {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return e.session.Clone().Identity
}

func (e *Engine) Profile() *profile.Profile {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.profile.Clone()
}

func (e *Engine) Session() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.Clone()
}

// Loading reports whether the engine has not yet settled for the current session.
func (e *Engine) Loading() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.state.Settled()
}

// Changed returns a channel closed on the next transition. Call it again after it
// fires to wait for the one after.
func (e *Engine) Changed() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.changed
}

// WaitSettled blocks until the engine is Anonymous, Resolved or Degraded and
// returns that snapshot. On ctx expiry it returns the current snapshot and the
// context error.
func (e *Engine) WaitSettled(ctx context.Context) (Snapshot, error) {
	for {
		e.mu.Lock()
		if e.state.Settled() {
			snap := e.snapshotLocked()
			e.mu.Unlock()
			return snap, nil
		}
		ch := e.changed
		e.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return e.Snapshot(), ctx.Err()
		}
	}
}

func (e *Engine) setStateLocked(s State) {
	e.state = s
	e.notifyLocked()
}

func (e *Engine) notifyLocked() {
	close(e.changed)
	e.changed = make(chan struct{})
}

// handleSessionEvent applies one gateway transition. It never blocks on I/O.
func (e *Engine) handleSessionEvent(ev SessionEvent) {
	e.mu.Lock()
	if e.closed || !e.started {
		e.mu.Unlock()
		return
	}

	sess := ev.Session
	if sess == nil {
		if e.state == StateAnonymous {
			e.mu.Unlock()
			return
		}
		e.epoch++
		e.session = nil
		e.profile = nil
		e.setStateLocked(StateAnonymous)
		e.mu.Unlock()
		return
	}

	// A rotated token for the same subject keeps the resolved profile.
	if ev.Kind == gateway.EventTokenRefreshed && e.session != nil &&
		e.session.Subject == sess.Subject && e.state != StateDegraded {
		e.session = sess.Clone()
		e.notifyLocked()
		e.mu.Unlock()
		return
	}

	role := e.takeWaiterLocked(sess)
	e.epoch++
	epoch := e.epoch
	e.session = sess.Clone()
	e.profile = nil
	e.setStateLocked(StateLoading)
	e.wg.Add(1)
	e.mu.Unlock()

	e.metricInc(MetricResolutionStarted)
	go e.resolve(epoch, sess.Clone(), role)
}

// takeWaiterLocked releases the SignIn waiting for sess and returns its role
// selection.
func (e *Engine) takeWaiterLocked(sess *Session) *profile.Role {
	if sess.Identity == nil {
		return nil
	}
	email := profile.NormalizeEmail(sess.Identity.Email)
	for i, w := range e.waiters {
		if w.email != email {
			continue
		}
		e.waiters = append(e.waiters[:i], e.waiters[i+1:]...)
		close(w.done)
		return w.role
	}
	return nil
}

func (e *Engine) releaseWaitersLocked() {
	for _, w := range e.waiters {
		close(w.done)
	}
	e.waiters = nil
}

func (e *Engine) resolve(epoch uint64, sess *Session, role *profile.Role) {
	defer e.wg.Done()

	start := time.Now()
	ctx, cancel := context.WithTimeout(e.ctx, e.config.Resolution.Timeout)
	defer cancel()

	p, err := e.resolveProfile(ctx, sess, role)
	e.metrics.Observe(MetricResolutionLatency, time.Since(start))

	subject := subjectOf(sess, epoch)

	e.mu.Lock()
	if e.closed || e.epoch != epoch {
		e.mu.Unlock()
		e.metricInc(MetricResolutionDiscarded)
		e.emitAudit(e.ctx, auditEventResolutionDiscarded, false, subject, err, nil)
		return
	}
	if err != nil {
		e.profile = nil
		e.setStateLocked(StateDegraded)
		e.mu.Unlock()

		e.logger.Error("portal: profile resolution failed",
			"user_id", subject.userID,
			"email", subject.email,
			"epoch", epoch,
			"state", StateDegraded.String(),
			"err", err,
		)
		e.metricInc(MetricResolutionDegraded)
		e.emitAudit(e.ctx, auditEventProfileDegraded, false, subject, err, nil)
		return
	}
	e.profile = p
	e.setStateLocked(StateResolved)
	e.mu.Unlock()

	subject.role = p.Role
	e.metricInc(MetricResolutionResolved)
	e.emitAudit(e.ctx, auditEventProfileResolved, true, subject, nil, nil)
}

func (e *Engine) resolveProfile(ctx context.Context, sess *Session, role *profile.Role) (*profile.Profile, error) {
	if sess.Identity == nil {
		return nil, fmt.Errorf("%w: session carries no identity", ErrProfileResolutionFailed)
	}
	p, err := e.resolverFor(sess.Identity).Resolve(ctx, sess, role)
	if err != nil {
		if !errors.Is(err, ErrProfileResolutionFailed) {
			err = fmt.Errorf("%w: %w", ErrProfileResolutionFailed, err)
		}
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: resolver returned no profile", ErrProfileResolutionFailed)
	}
	return p, nil
}

func (e *Engine) resolverFor(identity *Identity) IdentityResolver {
	for _, r := range e.resolvers {
		if r.Owns(identity) {
			return r
		}
	}
	return e.resolvers[len(e.resolvers)-1]
}
