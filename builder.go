package portalAuth

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrEthical07/portalAuth/internal/audit"
	"github.com/MrEthical07/portalAuth/profilestore"
	"github.com/MrEthical07/portalAuth/registry"
)

// Builder assembles an Engine. Each Builder builds at most one Engine.
type Builder struct {
	config Config

	gateway   Gateway
	registry  registry.Registry
	store     profilestore.Store
	resolvers []IdentityResolver
	logger    *slog.Logger
	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithGateway sets the credential gateway, typically a *gateway.Client. With demo
// accounts enabled it is wrapped in a Sandbox and may be nil.
func (b *Builder) WithGateway(gw Gateway) *Builder {
	b.gateway = gw
	return b
}

func (b *Builder) WithRegistry(r registry.Registry) *Builder {
	b.registry = r
	return b
}

func (b *Builder) WithProfileStore(s profilestore.Store) *Builder {
	b.store = s
	return b
}

// WithIdentityResolver adds a resolver consulted before the built-in ones.
func (b *Builder) WithIdentityResolver(r IdentityResolver) *Builder {
	b.resolvers = append(b.resolvers, r)
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithDemoAccounts enables the default demo identity set.
func (b *Builder) WithDemoAccounts(enabled bool) *Builder {
	b.config.Demo.Enabled = enabled
	return b
}

// Build validates the configuration and returns an Engine in StateUnresolved. Call
// Engine.Start to begin tracking the gateway session.
//
// Without demo accounts a gateway, a registry and a profile store are required.
// With demo accounts, missing ones default to in-memory implementations.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gw := b.gateway
	reg := b.registry
	store := b.store

	if !cfg.Demo.Enabled {
		if gw == nil {
			return nil, errors.New("gateway required")
		}
		if reg == nil {
			return nil, errors.New("email registry required")
		}
		if store == nil {
			return nil, errors.New("profile store required")
		}
	}
	if reg == nil {
		reg = registry.NewMemory()
	}
	if store == nil {
		store = profilestore.NewMemory()
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		config:   cfg,
		registry: reg,
		store:    store,
		logger:   logger,
		metrics:  NewMetrics(cfg.Metrics),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateUnresolved,
		changed:  make(chan struct{}),
	}

	e.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)

	e.resolvers = append(e.resolvers, b.resolvers...)
	if cfg.Demo.Enabled {
		table := newDemoTable(cfg.Demo.Accounts)
		sandbox := NewSandbox(gw, cfg.Demo)
		sandbox.table = table
		gw = sandbox
		e.sandbox = sandbox
		e.registry = &sandboxRegistry{inner: reg, table: table}
		e.resolvers = append(e.resolvers, newDemoResolver(table))
	}
	e.gateway = gw
	e.resolvers = append(e.resolvers, &storeResolver{
		engine:   e,
		store:    store,
		registry: e.registry,
		logger:   logger,
	})

	b.built = true
	return e, nil
}
