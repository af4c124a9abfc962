package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/password"
	"github.com/MrEthical07/portalAuth/profile"
	"github.com/MrEthical07/portalAuth/profilestore"
	"github.com/MrEthical07/portalAuth/registry"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

const testPassword = "correct-horse-battery"

type portal struct {
	server *Server
	http   *httptest.Server
}

func newPortal(t *testing.T, factory EngineFactory, mutate func(*Config)) *portal {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	srv, err := NewServer(factory, cfg, nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Close()
	})
	return &portal{server: srv, http: ts}
}

func demoFactory() EngineFactory {
	return func(ctx context.Context, _ string) (*portalAuth.Engine, error) {
		engine, err := portalAuth.New().WithDemoAccounts(true).Build()
		if err != nil {
			return nil, err
		}
		if err := engine.Start(ctx); err != nil {
			engine.Close()
			return nil, err
		}
		return engine, nil
	}
}

// gatewayFactory shares one gateway service, registry and store across clients;
// every client gets its own gateway client.
func gatewayFactory(t *testing.T) EngineFactory {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})

	gcfg := gateway.DefaultConfig()
	gcfg.Password = password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	gcfg.JWT.PrivateKey = []byte("test-signing-key-test-signing-key")
	svc, err := gateway.NewService(rdb, gcfg, nil)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	reg := registry.NewMemory()
	store := profilestore.NewMemory()

	return func(ctx context.Context, _ string) (*portalAuth.Engine, error) {
		engine, err := portalAuth.New().
			WithGateway(gateway.NewClient(svc, nil, nil)).
			WithRegistry(reg).
			WithProfileStore(store).
			Build()
		if err != nil {
			return nil, err
		}
		if err := engine.Start(ctx); err != nil {
			engine.Close()
			return nil, err
		}
		return engine, nil
	}
}

type browser struct {
	t      *testing.T
	client *http.Client
	base   string
}

func (p *portal) browser(t *testing.T) *browser {
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar failed: %v", err)
	}
	return &browser{t: t, client: &http.Client{Jar: jar, Timeout: 5 * time.Second}, base: p.http.URL}
}

func (b *browser) do(method, path string, body any, out any) int {
	b.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			b.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, b.base+path, &buf)
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			b.t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestMeRequiresSignIn(t *testing.T) {
	p := newPortal(t, demoFactory(), nil)
	b := p.browser(t)

	var body errorBody
	if code := b.do(http.MethodGet, "/me", nil, &body); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
	if body.Error != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", body.Error)
	}
	if p.server.Clients() != 1 {
		t.Fatalf("expected one client engine, got %d", p.server.Clients())
	}
}

func TestDemoSignInMeAndSignOut(t *testing.T) {
	p := newPortal(t, demoFactory(), nil)
	b := p.browser(t)

	var me meResponse
	code := b.do(http.MethodPost, "/auth/sign-in", signInBody{
		Email:    "tpo@example.test",
		Password: portalAuth.DefaultDemoPassword,
	}, &me)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if me.State != "resolved" || me.Profile == nil || me.Profile.Role != "tpo" {
		t.Fatalf("expected resolved tpo profile, got %+v", me)
	}

	me = meResponse{}
	if code := b.do(http.MethodGet, "/me", nil, &me); code != http.StatusOK || me.Email != "tpo@example.test" {
		t.Fatalf("expected /me for tpo, got %d %+v", code, me)
	}

	if code := b.do(http.MethodPost, "/auth/sign-out", nil, nil); code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", code)
	}
	if code := b.do(http.MethodGet, "/me", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after sign-out, got %d", code)
	}
}

func TestClientsAreIsolated(t *testing.T) {
	p := newPortal(t, demoFactory(), nil)
	alice := p.browser(t)
	bob := p.browser(t)

	if code := alice.do(http.MethodPost, "/auth/sign-in", signInBody{
		Email: "student@example.test", Password: portalAuth.DefaultDemoPassword,
	}, &meResponse{}); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if code := bob.do(http.MethodGet, "/me", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected other client anonymous, got %d", code)
	}
	if p.server.Clients() != 2 {
		t.Fatalf("expected two engines, got %d", p.server.Clients())
	}
}

func TestSignInErrors(t *testing.T) {
	p := newPortal(t, demoFactory(), nil)
	b := p.browser(t)

	var body errorBody
	if code := b.do(http.MethodPost, "/auth/sign-in", signInBody{
		Email: "student@example.test", Password: "wrong-password",
	}, &body); code != http.StatusUnauthorized || body.Error != "invalid_credentials" {
		t.Fatalf("expected 401 invalid_credentials, got %d %q", code, body.Error)
	}

	body = errorBody{}
	if code := b.do(http.MethodPost, "/auth/sign-in", map[string]string{
		"email": "student@example.test", "password": "x", "role": "admin",
	}, &body); code != http.StatusBadRequest || body.Error != "invalid_role" {
		t.Fatalf("expected 400 invalid_role, got %d %q", code, body.Error)
	}

	body = errorBody{}
	if code := b.do(http.MethodPost, "/auth/sign-in", map[string]string{"unknown": "field"}, &body); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", code)
	}
}

func TestSignUpDuplicateReportsExistingRole(t *testing.T) {
	p := newPortal(t, gatewayFactory(t), nil)
	b := p.browser(t)

	var created emailRoleResponse
	if code := b.do(http.MethodPost, "/auth/sign-up", signUpBody{
		Email: "a@x.com", Password: testPassword, Role: "employee",
	}, &created); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}
	if created.Role != "employee" || !created.Exists {
		t.Fatalf("unexpected sign-up response %+v", created)
	}

	var dup errorBody
	if code := b.do(http.MethodPost, "/auth/sign-up", signUpBody{
		Email: "A@X.com", Password: testPassword, Role: "student",
	}, &dup); code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", code)
	}
	if dup.Error != "duplicate_account" || dup.ExistingRole != "employee" {
		t.Fatalf("expected duplicate naming employee, got %+v", dup)
	}

	var pol errorBody
	if code := b.do(http.MethodPost, "/auth/sign-up", signUpBody{
		Email: "b@x.com", Password: "short", Role: "student",
	}, &pol); code != http.StatusUnprocessableEntity || pol.Error != "password_policy" {
		t.Fatalf("expected 422 password_policy, got %d %+v", code, pol)
	}
}

func TestSignUpSignInUpdateProfile(t *testing.T) {
	p := newPortal(t, gatewayFactory(t), nil)
	b := p.browser(t)

	if code := b.do(http.MethodPost, "/auth/sign-up", signUpBody{
		Email: "s@x.com", Password: testPassword, Role: "student",
	}, nil); code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", code)
	}

	var me meResponse
	if code := b.do(http.MethodPost, "/auth/sign-in", signInBody{Email: "s@x.com", Password: testPassword}, &me); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if me.State != "resolved" || me.Profile == nil || me.Profile.DisplayName != "s" {
		t.Fatalf("expected seeded student profile, got %+v", me)
	}

	var updated map[string]any
	code := b.do(http.MethodPatch, "/me/profile", map[string]any{
		"display_name": "Sam",
		"skills":       []string{"Go", "go", "SQL"},
	}, &updated)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if updated["display_name"] != "Sam" {
		t.Fatalf("expected display name Sam, got %v", updated["display_name"])
	}
	if skills, _ := updated["skills"].([]any); len(skills) != 2 {
		t.Fatalf("expected de-duplicated skills, got %v", updated["skills"])
	}

	var bad errorBody
	if code := b.do(http.MethodPatch, "/me/profile", map[string]any{"role": "admin"}, &bad); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid role, got %d", code)
	}
}

func TestEmailRoleLookupAndThrottle(t *testing.T) {
	p := newPortal(t, demoFactory(), func(c *Config) {
		c.EmailCheckRate = rate.Every(time.Hour)
		c.EmailCheckBurst = 2
	})
	b := p.browser(t)

	var res emailRoleResponse
	if code := b.do(http.MethodGet, "/auth/email-role?email=TPO@example.test", nil, &res); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if !res.Exists || res.Role != "tpo" {
		t.Fatalf("expected tpo, got %+v", res)
	}

	var empty errorBody
	if code := b.do(http.MethodGet, "/auth/email-role", nil, &empty); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing email, got %d", code)
	}

	var limited errorBody
	if code := b.do(http.MethodGet, "/auth/email-role?email=x@y.z", nil, &limited); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestEmailRoleRegistryDown(t *testing.T) {
	factory := func(ctx context.Context, _ string) (*portalAuth.Engine, error) {
		engine, err := portalAuth.New().
			WithDemoAccounts(true).
			WithRegistry(downRegistry{}).
			Build()
		if err != nil {
			return nil, err
		}
		return engine, engine.Start(ctx)
	}
	p := newPortal(t, factory, nil)
	b := p.browser(t)

	var body errorBody
	if code := b.do(http.MethodGet, "/auth/email-role?email=a@x.com", nil, &body); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
	if body.Error != "email_check_unavailable" {
		t.Fatalf("expected email_check_unavailable, got %q", body.Error)
	}
}

type downRegistry struct{}

func (downRegistry) Lookup(context.Context, string) (registry.Result, error) {
	return registry.Result{}, registry.ErrUnavailable
}
func (downRegistry) Register(context.Context, string, profile.Role) error {
	return registry.ErrUnavailable
}
func (downRegistry) Reassign(context.Context, string, profile.Role) (bool, error) {
	return false, registry.ErrUnavailable
}
func (downRegistry) Remove(context.Context, string) error { return registry.ErrUnavailable }

func TestSweepClosesIdleEngines(t *testing.T) {
	var mu sync.Mutex
	var closed []string
	p := newPortal(t, demoFactory(), func(c *Config) {
		c.IdleTimeout = time.Minute
		c.OnEngineClosed = func(id string, _ *portalAuth.Engine) {
			mu.Lock()
			closed = append(closed, id)
			mu.Unlock()
		}
	})
	b := p.browser(t)
	b.do(http.MethodGet, "/auth/email-role?email=a@x.com", nil, &emailRoleResponse{})

	if n := p.server.Sweep(time.Now()); n != 0 {
		t.Fatalf("expected no idle engines yet, got %d", n)
	}
	if n := p.server.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected one idle engine closed, got %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(closed) != 1 || p.server.Clients() != 0 {
		t.Fatalf("expected close hook once and no clients, got %v %d", closed, p.server.Clients())
	}
}

func TestNewServerValidates(t *testing.T) {
	if _, err := NewServer(nil, DefaultConfig(), nil); err == nil {
		t.Fatal("expected error without factory")
	}
	cfg := DefaultConfig()
	cfg.EmailCheckBurst = 0
	if _, err := NewServer(demoFactory(), cfg, nil); err == nil {
		t.Fatal("expected error for zero burst")
	}
}

func TestEngineCreationDoesNotBlockOtherClients(t *testing.T) {
	var gate atomic.Pointer[chan struct{}]
	base := demoFactory()
	factory := func(ctx context.Context, id string) (*portalAuth.Engine, error) {
		if g := gate.Load(); g != nil {
			select {
			case <-*g:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return base(ctx, id)
	}
	p := newPortal(t, factory, nil)

	existing := p.browser(t)
	if code := existing.do(http.MethodGet, "/me", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}

	release := make(chan struct{})
	gate.Store(&release)
	var once sync.Once
	open := func() { once.Do(func() { close(release) }) }
	defer open()

	slow := make(chan int, 1)
	go func() {
		resp, err := http.Get(p.http.URL + "/me")
		if err != nil {
			slow <- 0
			return
		}
		resp.Body.Close()
		slow <- resp.StatusCode
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.server.Clients() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("expected the new client to be registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	if code := existing.do(http.MethodGet, "/me", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for the existing client, got %d", code)
	}
	if waited := time.Since(start); waited > 500*time.Millisecond {
		t.Fatalf("expected the existing client to be served while another engine is built, waited %v", waited)
	}

	open()
	select {
	case code := <-slow:
		if code != http.StatusUnauthorized {
			t.Fatalf("expected 401 for the new client once built, got %d", code)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected the new client's request to finish")
	}
}

func TestFactoryContextOutlivesRequest(t *testing.T) {
	var mu sync.Mutex
	var got context.Context
	base := demoFactory()
	factory := func(ctx context.Context, id string) (*portalAuth.Engine, error) {
		mu.Lock()
		got = ctx
		mu.Unlock()
		return base(ctx, id)
	}

	srv, err := NewServer(factory, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/me")
	if err != nil {
		t.Fatalf("GET /me failed: %v", err)
	}
	resp.Body.Close()

	mu.Lock()
	ctx := got
	mu.Unlock()
	if ctx == nil {
		t.Fatal("expected the factory to run")
	}
	if ctx.Err() != nil {
		t.Fatalf("expected the factory context to outlive the request, got %v", ctx.Err())
	}

	srv.Close()
	if ctx.Err() == nil {
		t.Fatal("expected Close to cancel the factory context")
	}
}

func TestFailedEngineCreationIsRetried(t *testing.T) {
	var calls atomic.Int32
	base := demoFactory()
	factory := func(ctx context.Context, id string) (*portalAuth.Engine, error) {
		if calls.Add(1) == 1 {
			return nil, gateway.ErrUnavailable
		}
		return base(ctx, id)
	}
	p := newPortal(t, factory, nil)
	b := p.browser(t)

	var body errorBody
	if code := b.do(http.MethodGet, "/me", nil, &body); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the engine cannot be built, got %d", code)
	}
	if p.server.Clients() != 0 {
		t.Fatalf("expected failed client to be forgotten, got %d", p.server.Clients())
	}
	if code := b.do(http.MethodGet, "/me", nil, nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after a successful retry, got %d", code)
	}
}
