package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
}

func newEventRecorder() *eventRecorder {
	return &eventRecorder{notify: make(chan struct{}, 64)}
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.notify <- struct{}{}
}

func (r *eventRecorder) waitFor(t *testing.T, n int) []Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			out := append([]Event(nil), r.events...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func equalKinds(a, b []EventKind) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClientInitialEventWithoutStoredToken(t *testing.T) {
	svc, _ := newTestService(t)
	client := NewClient(svc, nil, nil)
	defer client.Close()

	rec := newEventRecorder()
	client.Subscribe(rec.record)

	sess, err := client.CurrentSession(context.Background())
	if err != nil || sess != nil {
		t.Fatalf("expected no session, got %v %v", sess, err)
	}
	events := rec.waitFor(t, 1)
	if events[0].Kind != EventInitialSession || events[0].Session != nil {
		t.Fatalf("expected empty initial event, got %+v", events[0])
	}

	if _, err := client.CurrentSession(context.Background()); err != nil {
		t.Fatalf("second CurrentSession failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("expected the initial event exactly once, got %v", kinds(rec.events))
	}
}

func TestClientEventsArriveInOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _ = svc.SignUp(ctx, "a@x.com", "correct-horse", nil)

	client := NewClient(svc, nil, nil)
	defer client.Close()
	rec := newEventRecorder()
	client.Subscribe(rec.record)

	if _, err := client.CurrentSession(ctx); err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if _, err := client.SignIn(ctx, "a@x.com", "correct-horse"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	if _, err := client.Refresh(ctx); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if err := client.SignOut(ctx); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if err := client.SignOut(ctx); err != nil {
		t.Fatalf("second SignOut failed: %v", err)
	}

	want := []EventKind{EventInitialSession, EventSignedIn, EventTokenRefreshed, EventSignedOut}
	got := kinds(rec.waitFor(t, len(want)))
	if !equalKinds(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestClientHydratesFromStoredToken(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _ = svc.SignUp(ctx, "a@x.com", "correct-horse", nil)

	tokens := NewMemoryTokenStore("")
	first := NewClient(svc, tokens, nil)
	signed, err := first.SignIn(ctx, "a@x.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	first.Close()

	second := NewClient(svc, tokens, nil)
	defer second.Close()
	rec := newEventRecorder()
	second.Subscribe(rec.record)

	sess, err := second.CurrentSession(ctx)
	if err != nil {
		t.Fatalf("CurrentSession failed: %v", err)
	}
	if sess == nil || sess.Subject != signed.Subject {
		t.Fatalf("expected hydrated session for %s, got %+v", signed.Subject, sess)
	}
	events := rec.waitFor(t, 1)
	if events[0].Kind != EventInitialSession || events[0].Session == nil {
		t.Fatalf("expected initial event carrying the session, got %+v", events[0])
	}
}

func TestClientDiscardsRejectedStoredToken(t *testing.T) {
	svc, _ := newTestService(t)
	tokens := NewMemoryTokenStore("garbage")
	client := NewClient(svc, tokens, nil)
	defer client.Close()

	sess, err := client.CurrentSession(context.Background())
	if err != nil || sess != nil {
		t.Fatalf("expected no session and no error, got %v %v", sess, err)
	}
	if tok, _ := tokens.Load(context.Background()); tok != "" {
		t.Fatalf("expected rejected token cleared, got %q", tok)
	}
}

func TestLateSubscriberGetsInitialEvent(t *testing.T) {
	svc, _ := newTestService(t)
	client := NewClient(svc, nil, nil)
	defer client.Close()
	_, _ = client.CurrentSession(context.Background())

	rec := newEventRecorder()
	client.Subscribe(rec.record)
	if ev := rec.waitFor(t, 1)[0]; ev.Kind != EventInitialSession {
		t.Fatalf("expected initial event, got %s", ev.Kind)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	_, _ = svc.SignUp(ctx, "a@x.com", "correct-horse", nil)

	client := NewClient(svc, nil, nil)
	defer client.Close()
	rec := newEventRecorder()
	unsubscribe := client.Subscribe(rec.record)
	_, _ = client.CurrentSession(ctx)
	rec.waitFor(t, 1)

	unsubscribe()
	_, _ = client.SignIn(ctx, "a@x.com", "correct-horse")
	time.Sleep(20 * time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 {
		t.Fatalf("expected no events after unsubscribe, got %v", kinds(rec.events))
	}
}

func TestClientSignUpHasNoSessionSideEffect(t *testing.T) {
	svc, _ := newTestService(t)
	client := NewClient(svc, nil, nil)
	defer client.Close()
	ctx := context.Background()

	if _, err := client.SignUp(ctx, "a@x.com", "correct-horse", nil); err != nil {
		t.Fatalf("SignUp failed: %v", err)
	}
	if sess, _ := client.CurrentSession(ctx); sess != nil {
		t.Fatal("expected sign-up not to create an ambient session")
	}
}

func TestClientRefreshWithoutSession(t *testing.T) {
	svc, _ := newTestService(t)
	client := NewClient(svc, nil, nil)
	defer client.Close()

	if _, err := client.Refresh(context.Background()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

// flakyProvider issues short-lived sessions and fails every refresh with err.
type flakyProvider struct {
	ttl time.Duration
	err error

	mu        sync.Mutex
	refreshes int
}

func (p *flakyProvider) SignUp(context.Context, string, string, map[string]string) (*Identity, error) {
	return nil, ErrUnavailable
}

func (p *flakyProvider) SignIn(_ context.Context, email, _ string) (*Session, error) {
	now := time.Now()
	return &Session{
		ID:           "s1",
		Subject:      "u1",
		Identity:     &Identity{ID: "u1", Email: email},
		AccessToken:  "access",
		RefreshToken: "refresh",
		IssuedAt:     now,
		ExpiresAt:    now.Add(p.ttl),
	}, nil
}

func (p *flakyProvider) Refresh(context.Context, string) (*Session, error) {
	p.mu.Lock()
	p.refreshes++
	p.mu.Unlock()
	return nil, p.err
}

func (p *flakyProvider) SignOut(context.Context, string) error { return nil }

func (p *flakyProvider) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshes
}

func TestAutoRefreshRejectedSignsOut(t *testing.T) {
	provider := &flakyProvider{ttl: 400 * time.Millisecond, err: ErrRefreshInvalid}
	tokens := NewMemoryTokenStore("")
	client := NewClient(provider, tokens, nil).WithAutoRefresh(100 * time.Millisecond)
	defer client.Close()
	rec := newEventRecorder()
	client.Subscribe(rec.record)

	ctx := context.Background()
	if _, err := client.SignIn(ctx, "a@x.com", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	want := []EventKind{EventInitialSession, EventSignedIn, EventSignedOut}
	if got := kinds(rec.waitFor(t, len(want))); !equalKinds(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if sess, _ := client.CurrentSession(ctx); sess != nil {
		t.Fatalf("expected no ambient session, got %+v", sess)
	}
	if token, _ := tokens.Load(ctx); token != "" {
		t.Fatalf("expected stored refresh token cleared, got %q", token)
	}
}

func TestAutoRefreshSignsOutOnceExpiredWhileUnavailable(t *testing.T) {
	provider := &flakyProvider{ttl: 300 * time.Millisecond, err: ErrUnavailable}
	client := NewClient(provider, nil, nil).WithAutoRefresh(100 * time.Millisecond)
	client.retryInterval = 50 * time.Millisecond
	defer client.Close()
	rec := newEventRecorder()
	client.Subscribe(rec.record)

	if _, err := client.SignIn(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	want := []EventKind{EventInitialSession, EventSignedIn, EventSignedOut}
	if got := kinds(rec.waitFor(t, len(want))); !equalKinds(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if n := provider.attempts(); n < 2 {
		t.Fatalf("expected refresh retries before expiry, got %d attempts", n)
	}
}

func TestAutoRefreshDisabled(t *testing.T) {
	provider := &flakyProvider{ttl: 100 * time.Millisecond, err: ErrRefreshInvalid}
	client := NewClient(provider, nil, nil).WithAutoRefresh(0)
	defer client.Close()

	if _, err := client.SignIn(context.Background(), "a@x.com", "pw"); err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}
	time.Sleep(250 * time.Millisecond)
	if n := provider.attempts(); n != 0 {
		t.Fatalf("expected no automatic refresh, got %d attempts", n)
	}
}
