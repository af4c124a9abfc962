// Package config loads portald settings. Sources apply in order: built-in
// defaults, an optional YAML file, PORTAL_* environment variables, then
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Access-token signing methods.
const (
	JWTMethodHS256   = "hs256"
	JWTMethodEd25519 = "ed25519"
)

type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"`

	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`

	Store       string `yaml:"store"`
	DatabaseURL string `yaml:"database_url"`

	JWTMethod string `yaml:"jwt_method"`
	JWTSecret string `yaml:"jwt_secret"`
	// Ed25519 keys are PEM files. VerifyKeys maps a kid to a public key file and
	// enables key rotation; KeyID names the kid stamped on new tokens.
	JWTPrivateKeyFile string            `yaml:"jwt_private_key_file"`
	JWTPublicKeyFile  string            `yaml:"jwt_public_key_file"`
	JWTKeyID          string            `yaml:"jwt_key_id"`
	JWTVerifyKeys     map[string]string `yaml:"jwt_verify_keys"`
	AccessTTL         time.Duration     `yaml:"access_ttl"`
	SessionTTL        time.Duration     `yaml:"session_ttl"`
	RefreshMargin     time.Duration     `yaml:"refresh_margin"`

	CookieSecure      bool          `yaml:"cookie_secure"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	EmailChecksPerMin int           `yaml:"email_checks_per_minute"`
	ResolutionTimeout time.Duration `yaml:"resolution_timeout"`
	DemoEnabled       bool          `yaml:"demo_enabled"`
	DemoPassword      string        `yaml:"demo_password"`
	AuditLog          bool          `yaml:"audit_log"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
	LatencyHistograms bool          `yaml:"latency_histograms"`
	OTelEnabled       bool          `yaml:"otel_enabled"`
	OTelInterval      time.Duration `yaml:"otel_interval"`
}

func Default() Config {
	return Config{
		ListenAddr:        ":8080",
		ShutdownTimeout:   30 * time.Second,
		LogLevel:          "info",
		Store:             StorePostgres,
		JWTMethod:         JWTMethodHS256,
		AccessTTL:         15 * time.Minute,
		SessionTTL:        7 * 24 * time.Hour,
		RefreshMargin:     time.Minute,
		IdleTimeout:       time.Hour,
		EmailChecksPerMin: 30,
		ResolutionTimeout: 5 * time.Second,
		MetricsEnabled:    true,
		LatencyHistograms: true,
		OTelInterval:      time.Minute,
	}
}

type setter func(c *Config, v string) error

type option struct {
	flag   string
	env    string
	usage  string
	set    setter
	isBool bool
}

func str(field func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

func boolean(field func(*Config) *bool) setter {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func integer(field func(*Config) *int) setter {
	return func(c *Config, v string) error {
		i, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*field(c) = i
		return nil
	}
}

func duration(field func(*Config) *time.Duration) setter {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// keyFiles parses "kid=path,kid=path".
func keyFiles(field func(*Config) *map[string]string) setter {
	return func(c *Config, v string) error {
		out := make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			kid, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok || kid == "" || path == "" {
				return fmt.Errorf("expected kid=path, got %q", pair)
			}
			out[kid] = path
		}
		*field(c) = out
		return nil
	}
}

var options = []option{
	{flag: "listen-addr", env: "PORTAL_LISTEN_ADDR", usage: "HTTP listen address", set: str(func(c *Config) *string { return &c.ListenAddr })},
	{flag: "shutdown-timeout", env: "PORTAL_SHUTDOWN_TIMEOUT", usage: "graceful shutdown limit", set: duration(func(c *Config) *time.Duration { return &c.ShutdownTimeout })},
	{flag: "log-level", env: "PORTAL_LOG_LEVEL", usage: "debug, info, warn or error", set: str(func(c *Config) *string { return &c.LogLevel })},
	{flag: "redis-addr", env: "PORTAL_REDIS_ADDR", usage: "Redis address", set: str(func(c *Config) *string { return &c.RedisAddr })},
	{flag: "redis-password", env: "PORTAL_REDIS_PASSWORD", usage: "Redis password", set: str(func(c *Config) *string { return &c.RedisPassword })},
	{flag: "redis-db", env: "PORTAL_REDIS_DB", usage: "Redis database number", set: integer(func(c *Config) *int { return &c.RedisDB })},
	{flag: "store", env: "PORTAL_STORE", usage: "profile store: postgres or memory", set: str(func(c *Config) *string { return &c.Store })},
	{flag: "database-url", env: "PORTAL_DATABASE_URL", usage: "Postgres connection URL", set: str(func(c *Config) *string { return &c.DatabaseURL })},
	{flag: "jwt-method", env: "PORTAL_JWT_METHOD", usage: "access token signature: hs256 or ed25519", set: str(func(c *Config) *string { return &c.JWTMethod })},
	{flag: "jwt-secret", env: "PORTAL_JWT_SECRET", usage: "HMAC key for hs256 access tokens", set: str(func(c *Config) *string { return &c.JWTSecret })},
	{flag: "jwt-private-key-file", env: "PORTAL_JWT_PRIVATE_KEY_FILE", usage: "ed25519 signing key (PEM)", set: str(func(c *Config) *string { return &c.JWTPrivateKeyFile })},
	{flag: "jwt-public-key-file", env: "PORTAL_JWT_PUBLIC_KEY_FILE", usage: "ed25519 verification key (PEM)", set: str(func(c *Config) *string { return &c.JWTPublicKeyFile })},
	{flag: "jwt-key-id", env: "PORTAL_JWT_KEY_ID", usage: "kid stamped on new access tokens", set: str(func(c *Config) *string { return &c.JWTKeyID })},
	{flag: "jwt-verify-keys", env: "PORTAL_JWT_VERIFY_KEYS", usage: "kid=path list of ed25519 verification keys", set: keyFiles(func(c *Config) *map[string]string { return &c.JWTVerifyKeys })},
	{flag: "access-ttl", env: "PORTAL_ACCESS_TTL", usage: "access token lifetime", set: duration(func(c *Config) *time.Duration { return &c.AccessTTL })},
	{flag: "session-ttl", env: "PORTAL_SESSION_TTL", usage: "gateway session lifetime", set: duration(func(c *Config) *time.Duration { return &c.SessionTTL })},
	{flag: "refresh-margin", env: "PORTAL_REFRESH_MARGIN", usage: "rotate sessions this long before the access token expires; 0 disables", set: duration(func(c *Config) *time.Duration { return &c.RefreshMargin })},
	{flag: "cookie-secure", env: "PORTAL_COOKIE_SECURE", usage: "mark the client cookie Secure", set: boolean(func(c *Config) *bool { return &c.CookieSecure }), isBool: true},
	{flag: "idle-timeout", env: "PORTAL_IDLE_TIMEOUT", usage: "close engines of clients idle this long", set: duration(func(c *Config) *time.Duration { return &c.IdleTimeout })},
	{flag: "email-checks-per-minute", env: "PORTAL_EMAIL_CHECKS_PER_MINUTE", usage: "email-role lookups allowed per client per minute", set: integer(func(c *Config) *int { return &c.EmailChecksPerMin })},
	{flag: "resolution-timeout", env: "PORTAL_RESOLUTION_TIMEOUT", usage: "profile resolution deadline", set: duration(func(c *Config) *time.Duration { return &c.ResolutionTimeout })},
	{flag: "demo", env: "PORTAL_DEMO", usage: "enable the demo accounts", set: boolean(func(c *Config) *bool { return &c.DemoEnabled }), isBool: true},
	{flag: "demo-password", env: "PORTAL_DEMO_PASSWORD", usage: "shared demo account password", set: str(func(c *Config) *string { return &c.DemoPassword })},
	{flag: "audit-log", env: "PORTAL_AUDIT_LOG", usage: "log audit events", set: boolean(func(c *Config) *bool { return &c.AuditLog }), isBool: true},
	{flag: "metrics", env: "PORTAL_METRICS", usage: "expose /metrics", set: boolean(func(c *Config) *bool { return &c.MetricsEnabled }), isBool: true},
	{flag: "latency-histograms", env: "PORTAL_LATENCY_HISTOGRAMS", usage: "record resolution latency", set: boolean(func(c *Config) *bool { return &c.LatencyHistograms }), isBool: true},
	{flag: "otel", env: "PORTAL_OTEL", usage: "export metrics through OpenTelemetry to stdout", set: boolean(func(c *Config) *bool { return &c.OTelEnabled }), isBool: true},
	{flag: "otel-interval", env: "PORTAL_OTEL_INTERVAL", usage: "OpenTelemetry export interval", set: duration(func(c *Config) *time.Duration { return &c.OTelInterval })},
}

// Load builds the configuration from args (without the program name) and getenv.
// A nil getenv reads the process environment. pflag.ErrHelp is returned as is
// when -h or --help is given.
func Load(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	fs := pflag.NewFlagSet("portald", pflag.ContinueOnError)
	configPath := fs.String("config", getenv("PORTAL_CONFIG"), "path to a YAML config file")
	raw := make(map[string]*string, len(options))
	for _, opt := range options {
		raw[opt.flag] = fs.String(opt.flag, "", opt.usage+" ("+opt.env+")")
		if opt.isBool {
			fs.Lookup(opt.flag).NoOptDefVal = "true"
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return nil, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	cfg := Default()
	if *configPath != "" {
		if err := cfg.loadFile(*configPath); err != nil {
			return nil, fmt.Errorf("config file %s: %w", *configPath, err)
		}
	}

	for _, opt := range options {
		if v := getenv(opt.env); v != "" {
			if err := opt.set(&cfg, v); err != nil {
				return nil, fmt.Errorf("%s: %w", opt.env, err)
			}
		}
	}
	for _, opt := range options {
		if fs.Changed(opt.flag) {
			if err := opt.set(&cfg, *raw[opt.flag]); err != nil {
				return nil, fmt.Errorf("--%s: %w", opt.flag, err)
			}
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, c)
}

// Validate reports every missing required setting at once, then the first
// invalid value.
func (c *Config) Validate() error {
	var missing []string
	if c.RedisAddr == "" {
		missing = append(missing, "PORTAL_REDIS_ADDR")
	}
	switch c.JWTMethod {
	case JWTMethodEd25519:
		if c.JWTPrivateKeyFile == "" {
			missing = append(missing, "PORTAL_JWT_PRIVATE_KEY_FILE")
		}
		if c.JWTPublicKeyFile == "" && len(c.JWTVerifyKeys) == 0 {
			missing = append(missing, "PORTAL_JWT_PUBLIC_KEY_FILE")
		}
	default:
		if c.JWTSecret == "" {
			missing = append(missing, "PORTAL_JWT_SECRET")
		}
	}
	if c.Store == StorePostgres && c.DatabaseURL == "" {
		missing = append(missing, "PORTAL_DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required settings are not set: %v", missing)
	}

	switch {
	case c.Store != StorePostgres && c.Store != StoreMemory:
		return fmt.Errorf("unknown store %q", c.Store)
	case c.JWTMethod != JWTMethodHS256 && c.JWTMethod != JWTMethodEd25519:
		return fmt.Errorf("unknown jwt method %q", c.JWTMethod)
	case c.JWTMethod == JWTMethodHS256 && len(c.JWTSecret) < 32:
		return errors.New("jwt secret must be at least 32 bytes")
	case c.JWTKeyID != "" && len(c.JWTVerifyKeys) > 0 && c.JWTVerifyKeys[c.JWTKeyID] == "":
		return fmt.Errorf("jwt key id %q has no verify key", c.JWTKeyID)
	case c.AccessTTL <= 0 || c.AccessTTL > c.SessionTTL:
		return errors.New("access ttl must be > 0 and not exceed the session ttl")
	case c.RefreshMargin < 0:
		return errors.New("refresh margin must not be negative")
	case c.OTelEnabled && c.OTelInterval <= 0:
		return errors.New("otel interval must be > 0")
	case c.ShutdownTimeout <= 0:
		return errors.New("shutdown timeout must be > 0")
	case c.ResolutionTimeout <= 0:
		return errors.New("resolution timeout must be > 0")
	case c.EmailChecksPerMin <= 0:
		return errors.New("email checks per minute must be > 0")
	case c.SessionTTL <= 0:
		return errors.New("session ttl must be > 0")
	}
	return nil
}
