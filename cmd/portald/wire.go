package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"

	portalAuth "github.com/MrEthical07/portalAuth"
	"github.com/MrEthical07/portalAuth/gateway"
	"github.com/MrEthical07/portalAuth/httpapi"
	"github.com/MrEthical07/portalAuth/internal/config"
	"github.com/MrEthical07/portalAuth/jwt"
	otelexport "github.com/MrEthical07/portalAuth/metrics/export/otel"
	promexport "github.com/MrEthical07/portalAuth/metrics/export/prometheus"
	"github.com/MrEthical07/portalAuth/profilestore"
	"github.com/MrEthical07/portalAuth/registry"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/time/rate"
)

// otelOutput receives the OpenTelemetry metric dumps.
var otelOutput io.Writer = os.Stdout

type application struct {
	handler http.Handler
	portal  *httpapi.Server
	closers []func()
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// wire connects Redis and the profile store, then builds the HTTP server. Every
// portal client gets its own gateway client and engine over shared backends.
func wire(ctx context.Context, cfg *config.Config, log *slog.Logger) (*application, error) {
	a := &application{}
	ok := false
	defer func() {
		if !ok {
			a.close()
		}
	}()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, func() { _ = rdb.Close() })
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	log.Info("redis connection established")

	store, err := openStore(ctx, cfg, log, a)
	if err != nil {
		return nil, err
	}

	gcfg := gateway.DefaultConfig()
	gcfg.SessionTTL = cfg.SessionTTL
	gcfg.JWT.AccessTTL = cfg.AccessTTL
	if err := loadSigningKeys(cfg, &gcfg.JWT); err != nil {
		return nil, err
	}
	svc, err := gateway.NewService(rdb, gcfg, log)
	if err != nil {
		return nil, err
	}
	emails := registry.NewRedis(rdb, "er")

	engineCfg := portalAuth.DefaultConfig()
	engineCfg.Resolution.Timeout = cfg.ResolutionTimeout
	engineCfg.Metrics.Enabled = cfg.MetricsEnabled
	engineCfg.Metrics.EnableLatencyHistograms = cfg.MetricsEnabled && cfg.LatencyHistograms
	engineCfg.Audit.Enabled = cfg.AuditLog
	if cfg.DemoEnabled {
		engineCfg.Demo.Enabled = true
		engineCfg.Demo.Accounts = portalAuth.DefaultDemoAccounts()
		engineCfg.Demo.Password = portalAuth.DefaultDemoPassword
		if cfg.DemoPassword != "" {
			engineCfg.Demo.Password = cfg.DemoPassword
		}
		log.Warn("demo accounts enabled")
	}
	auditSink := portalAuth.NewSlogSink(log.With("component", "audit"))

	exporter := promexport.NewExporter()
	if cfg.OTelEnabled {
		if err := wireOTel(cfg, exporter, a); err != nil {
			return nil, err
		}
		log.Info("opentelemetry metrics enabled", "interval", cfg.OTelInterval)
	}

	var (
		clientsMu sync.Mutex
		clients   = make(map[*portalAuth.Engine]*gateway.Client)
	)
	factory := func(ctx context.Context, clientID string) (*portalAuth.Engine, error) {
		tokens := gateway.NewRedisTokenStore(rdb, "pc:"+clientID, cfg.SessionTTL)
		client := gateway.NewClient(svc, tokens, log).WithAutoRefresh(cfg.RefreshMargin)
		engine, err := portalAuth.New().
			WithConfig(engineCfg).
			WithGateway(client).
			WithRegistry(emails).
			WithProfileStore(store).
			WithLogger(log.With("client_id", clientID)).
			WithAuditSink(auditSink).
			Build()
		if err != nil {
			client.Close()
			return nil, err
		}
		if err := engine.Start(ctx); err != nil {
			engine.Close()
			client.Close()
			return nil, err
		}
		clientsMu.Lock()
		clients[engine] = client
		clientsMu.Unlock()
		exporter.Add(engine)
		return engine, nil
	}

	hcfg := httpapi.DefaultConfig()
	hcfg.CookieSecure = cfg.CookieSecure
	hcfg.IdleTimeout = cfg.IdleTimeout
	hcfg.EmailCheckRate = rate.Limit(float64(cfg.EmailChecksPerMin) / 60.0)
	hcfg.EmailCheckBurst = cfg.EmailChecksPerMin
	hcfg.OnEngineClosed = func(_ string, engine *portalAuth.Engine) {
		exporter.Remove(engine)
		clientsMu.Lock()
		client := clients[engine]
		delete(clients, engine)
		clientsMu.Unlock()
		if client != nil {
			client.Close()
		}
	}
	portal, err := httpapi.NewServer(factory, hcfg, log)
	if err != nil {
		return nil, err
	}
	a.portal = portal
	a.closers = append(a.closers, portal.Close)

	root := chi.NewRouter()
	if cfg.MetricsEnabled {
		root.Handle("/metrics", exporter.Handler())
	}
	root.Mount("/", portal.Handler())
	a.handler = root
	ok = true
	return a, nil
}

// loadSigningKeys fills the access token keys from the configured secret or PEM
// files.
func loadSigningKeys(cfg *config.Config, jc *jwt.Config) error {
	if cfg.JWTMethod != config.JWTMethodEd25519 {
		jc.SigningMethod = jwt.MethodHS256
		jc.PrivateKey = []byte(cfg.JWTSecret)
		return nil
	}

	jc.SigningMethod = jwt.MethodEd25519
	jc.KeyID = cfg.JWTKeyID
	priv, err := os.ReadFile(cfg.JWTPrivateKeyFile)
	if err != nil {
		return fmt.Errorf("read jwt private key: %w", err)
	}
	jc.PrivateKey = priv
	if cfg.JWTPublicKeyFile != "" {
		pub, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return fmt.Errorf("read jwt public key: %w", err)
		}
		jc.PublicKey = pub
	}
	if len(cfg.JWTVerifyKeys) > 0 {
		jc.VerifyKeys = make(map[string][]byte, len(cfg.JWTVerifyKeys))
		for kid, path := range cfg.JWTVerifyKeys {
			key, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read jwt verify key %q: %w", kid, err)
			}
			jc.VerifyKeys[kid] = key
		}
	}
	return nil
}

// wireOTel pushes the fleet-wide counters through an OpenTelemetry meter
// provider that writes to otelOutput.
func wireOTel(cfg *config.Config, fleet *promexport.Exporter, a *application) error {
	out, err := stdoutmetric.New(stdoutmetric.WithWriter(otelOutput))
	if err != nil {
		return fmt.Errorf("create otel exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(
		sdkmetric.NewPeriodicReader(out, sdkmetric.WithInterval(cfg.OTelInterval)),
	))

	exp, err := otelexport.NewExporter(provider.Meter("portald"), fleet)
	if err != nil {
		_ = provider.Shutdown(context.Background())
		return err
	}
	// Shutdown flushes a final export, so it runs before the callback goes away.
	a.closers = append(a.closers, func() {
		_ = provider.Shutdown(context.Background())
		_ = exp.Close()
	})
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger, a *application) (profilestore.Store, error) {
	if cfg.Store == config.StoreMemory {
		log.Warn("using in-memory profile store; profiles are lost on restart")
		return profilestore.NewMemory(), nil
	}

	if err := profilestore.Migrate(cfg.DatabaseURL); err != nil {
		return nil, err
	}
	db, err := profilestore.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = db.Close() })
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database connection established")
	return profilestore.NewPostgres(db), nil
}
