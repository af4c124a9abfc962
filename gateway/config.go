package gateway

import (
	"errors"
	"time"

	"github.com/MrEthical07/portalAuth/jwt"
	"github.com/MrEthical07/portalAuth/password"
)

// Config configures a [Service].
type Config struct {
	// KeyPrefix namespaces identity keys: <prefix>i:<id> and <prefix>e:<email>.
	KeyPrefix       string
	SessionPrefix   string
	SessionTTL      time.Duration
	SlidingSessions bool
	Password        password.Config
	JWT             jwt.Config
	SignInThrottle  ThrottleConfig
}

// ThrottleConfig bounds failed sign-ins per email and per client IP within a fixed
// window. A zero MaxAttempts disables throttling.
type ThrottleConfig struct {
	EnableIPThrottle bool
	MaxAttempts      int
	Cooldown         time.Duration
}

// DefaultConfig returns production defaults. JWT keys must still be supplied.
func DefaultConfig() Config {
	return Config{
		KeyPrefix:     "g",
		SessionPrefix: "ps",
		SessionTTL:    7 * 24 * time.Hour,
		Password:      password.DefaultConfig(),
		JWT: jwt.Config{
			AccessTTL:     15 * time.Minute,
			SigningMethod: jwt.MethodHS256,
			Issuer:        "portal",
		},
		SignInThrottle: ThrottleConfig{
			EnableIPThrottle: true,
			MaxAttempts:      10,
			Cooldown:         15 * time.Minute,
		},
	}
}

// Validate checks values NewService cannot repair.
func (c Config) Validate() error {
	if c.KeyPrefix == "" {
		return errors.New("gateway key prefix must not be empty")
	}
	if c.SessionTTL <= 0 {
		return errors.New("gateway session TTL must be > 0")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("gateway access TTL must be > 0")
	}
	if c.JWT.AccessTTL > c.SessionTTL {
		return errors.New("gateway access TTL must not exceed session TTL")
	}
	if c.SignInThrottle.MaxAttempts > 0 && c.SignInThrottle.Cooldown <= 0 {
		return errors.New("gateway sign-in cooldown must be > 0 when throttling is enabled")
	}
	return nil
}
