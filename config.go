package portalAuth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/MrEthical07/portalAuth/profile"
)

// Config controls the reconciliation engine. Start from DefaultConfig and override
// fields; Builder.Build validates the result.
type Config struct {
	Demo       DemoConfig
	Resolution ResolutionConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
}

// DemoConfig enables the sandbox identity set. When Enabled, sign-ins for the listed
// emails never reach the credential gateway, the email registry or the profile store.
type DemoConfig struct {
	Enabled  bool
	Password string
	Accounts []DemoAccount
}

// DemoAccount is one reserved sandbox identity.
type DemoAccount struct {
	ID    string
	Email string
	Role  profile.Role
}

// ResolutionConfig bounds one profile resolution attempt.
type ResolutionConfig struct {
	// Timeout applies to the store calls of a single resolution. An expired attempt
	// ends in StateDegraded.
	Timeout time.Duration
}

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls in-process counters and the resolution latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultDemoPassword is the password shared by the default demo accounts.
const DefaultDemoPassword = "demo-password"

// DefaultDemoAccounts returns the built-in sandbox identities, one per role.
func DefaultDemoAccounts() []DemoAccount {
	return []DemoAccount{
		{ID: "demo-student", Email: "student@example.test", Role: profile.RoleStudent},
		{ID: "demo-employee", Email: "employee@example.test", Role: profile.RoleEmployee},
		{ID: "demo-tpo", Email: "tpo@example.test", Role: profile.RoleTPO},
	}
}

// DefaultConfig returns production defaults. Demo accounts are listed but disabled.
func DefaultConfig() Config {
	return Config{
		Demo: DemoConfig{
			Enabled:  false,
			Password: DefaultDemoPassword,
			Accounts: DefaultDemoAccounts(),
		},
		Resolution: ResolutionConfig{
			Timeout: 5 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Demo.Accounts = slices.Clone(cfg.Demo.Accounts)
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Resolution.Timeout <= 0 {
		return errors.New("Resolution Timeout must be > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	if !c.Demo.Enabled {
		return nil
	}
	if c.Demo.Password == "" {
		return errors.New("Demo Password must be set when demo accounts are enabled")
	}
	if len(c.Demo.Accounts) == 0 {
		return errors.New("Demo Accounts must not be empty when demo accounts are enabled")
	}

	ids := make(map[string]struct{}, len(c.Demo.Accounts))
	emails := make(map[string]struct{}, len(c.Demo.Accounts))
	for i, acct := range c.Demo.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("Demo Accounts[%d] ID must be set", i)
		}
		email := profile.NormalizeEmail(acct.Email)
		if email == "" {
			return fmt.Errorf("Demo Accounts[%d] Email must be set", i)
		}
		if !acct.Role.Valid() {
			return fmt.Errorf("Demo Accounts[%d] Role %q is invalid", i, acct.Role)
		}
		if _, dup := ids[acct.ID]; dup {
			return fmt.Errorf("Demo Accounts[%d] ID %q is duplicated", i, acct.ID)
		}
		if _, dup := emails[email]; dup {
			return fmt.Errorf("Demo Accounts[%d] Email %q is duplicated", i, email)
		}
		ids[acct.ID] = struct{}{}
		emails[email] = struct{}{}
	}
	return nil
}
