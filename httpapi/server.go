package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// EngineFactory builds and starts the engine for one portal client. clientID is
// stable for the lifetime of the client cookie. ctx lives as long as the Server.
type EngineFactory func(ctx context.Context, clientID string) (*portalAuth.Engine, error)

type Config struct {
	CookieName   string
	CookieSecure bool
	CookieMaxAge time.Duration
	// IdleTimeout closes engines whose client has not been seen for this long.
	// Zero keeps engines until Close.
	IdleTimeout time.Duration
	// EmailCheckRate and EmailCheckBurst throttle GET /auth/email-role per client.
	EmailCheckRate  rate.Limit
	EmailCheckBurst int
	// OnEngineClosed runs after an engine is closed by Sweep or Close.
	OnEngineClosed func(clientID string, engine *portalAuth.Engine)
}

func DefaultConfig() Config {
	return Config{
		CookieName:      "portal_client",
		CookieMaxAge:    30 * 24 * time.Hour,
		IdleTimeout:     time.Hour,
		EmailCheckRate:  rate.Limit(30.0 / 60.0),
		EmailCheckBurst: 10,
	}
}

// clientEntry is published in the client map before its engine exists. ready is
// closed once engine or err is set.
type clientEntry struct {
	ready    chan struct{}
	engine   *portalAuth.Engine
	err      error
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Server maps portal clients onto engines and serves the JSON API.
type Server struct {
	config  Config
	factory EngineFactory
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	clients map[string]*clientEntry
	closed  bool
}

func NewServer(factory EngineFactory, cfg Config, logger *slog.Logger) (*Server, error) {
	if factory == nil {
		return nil, errors.New("engine factory required")
	}
	if cfg.CookieName == "" {
		return nil, errors.New("cookie name must not be empty")
	}
	if cfg.EmailCheckRate <= 0 || cfg.EmailCheckBurst <= 0 {
		return nil, errors.New("email check throttle must be > 0")
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  cfg,
		factory: factory,
		logger:  logger,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		clients: make(map[string]*clientEntry),
	}, nil
}

// Handler returns the chi router with every portal route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.attachEngine)

		r.Route("/auth", func(r chi.Router) {
			r.Post("/sign-in", s.handleSignIn)
			r.Post("/sign-up", s.handleSignUp)
			r.Post("/sign-out", s.handleSignOut)
			r.Get("/email-role", s.handleEmailRole)
		})

		r.Route("/me", func(r chi.Router) {
			r.Use(middleware.RequireProfile())
			r.Get("/", s.handleMe)
			r.Patch("/profile", s.handleUpdateProfile)
		})
	})

	return r
}

// attachEngine resolves the client cookie, creating the client and its engine on
// first sight, and stores the engine in the request context.
func (s *Server) attachEngine(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.clientID(w, r)

		entry, err := s.client(r.Context(), clientID)
		if err != nil {
			if errors.Is(err, errServerClosed) {
				writeError(w, http.StatusServiceUnavailable, "shutting_down", "")
				return
			}
			s.logger.Error("engine creation failed", "client_id", clientID, "err", err)
			writeError(w, http.StatusServiceUnavailable, "backend_unavailable", "")
			return
		}

		ctx := middleware.WithEngine(r.Context(), entry.engine)
		ctx = context.WithValue(ctx, clientContextKey{}, entry)
		if ip := remoteIP(r); ip != "" {
			ctx = gateway.WithClientIP(ctx, ip)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type clientContextKey struct{}

func clientFromContext(ctx context.Context) *clientEntry {
	entry, _ := ctx.Value(clientContextKey{}).(*clientEntry)
	return entry
}

func (s *Server) clientID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(s.config.CookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     s.config.CookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.config.CookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   s.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

var errServerClosed = errors.New("server closed")

// client returns the entry for id. The first request for an id builds its engine
// outside the server lock; concurrent requests for the same id wait for that
// build, and requests for other ids are not held up by it.
func (s *Server) client(ctx context.Context, id string) (*clientEntry, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errServerClosed
	}
	if entry, ok := s.clients[id]; ok {
		entry.lastSeen = s.now()
		s.mu.Unlock()
		return waitReady(ctx, entry)
	}
	entry := &clientEntry{
		ready:    make(chan struct{}),
		limiter:  rate.NewLimiter(s.config.EmailCheckRate, s.config.EmailCheckBurst),
		lastSeen: s.now(),
	}
	s.clients[id] = entry
	s.mu.Unlock()

	engine, err := s.factory(s.ctx, id)

	s.mu.Lock()
	entry.engine, entry.err = engine, err
	if err != nil && s.clients[id] == entry {
		delete(s.clients, id)
	}
	closed := s.closed
	s.mu.Unlock()
	close(entry.ready)

	if err != nil {
		return nil, err
	}
	if closed {
		return nil, errServerClosed
	}
	return entry, nil
}

func waitReady(ctx context.Context, entry *clientEntry) (*clientEntry, error) {
	select {
	case <-entry.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, entry.err
	}
	return entry, nil
}

// Clients reports how many engines are live.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Sweep closes engines idle since before now minus IdleTimeout and returns how
// many were closed.
func (s *Server) Sweep(now time.Time) int {
	if s.config.IdleTimeout <= 0 {
		return 0
	}

	cutoff := now.Add(-s.config.IdleTimeout)
	s.mu.Lock()
	idle := make(map[string]*clientEntry)
	for id, entry := range s.clients {
		if entry.lastSeen.Before(cutoff) {
			idle[id] = entry
			delete(s.clients, id)
		}
	}
	s.mu.Unlock()

	s.closeAll(idle)
	return len(idle)
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *Server) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			if n := s.Sweep(t); n > 0 {
				s.logger.Info("idle engines closed", "count", n)
			}
		}
	}
}

// Close closes every engine and rejects later requests. Engines still being
// built see their context canceled and are closed once their factory returns.
func (s *Server) Close() {
	s.cancel()

	s.mu.Lock()
	s.closed = true
	all := s.clients
	s.clients = make(map[string]*clientEntry)
	s.mu.Unlock()

	s.closeAll(all)
}

func (s *Server) closeAll(entries map[string]*clientEntry) {
	for id, entry := range entries {
		<-entry.ready
		if entry.engine == nil {
			continue
		}
		entry.engine.Close()
		if s.config.OnEngineClosed != nil {
			s.config.OnEngineClosed(id, entry.engine)
		}
	}
}

func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	if sr.status == 0 {
		sr.status = code
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	return sr.ResponseWriter.Write(b)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		} else if rec.status >= 400 {
			level = slog.LevelWarn
		}
		s.logger.Log(r.Context(), level, "http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
		)
	})
}
