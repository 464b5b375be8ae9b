package tokutei

import (
	"errors"
	"net/url"
	"time"
)

// Config holds Engine settings. It is copied at Build time and treated as
// immutable afterwards.
type Config struct {
	Session SessionConfig
	Auth    AuthConfig
	Audit   AuditConfig
	Metrics MetricsConfig
}

// SessionConfig controls per-client stores and snapshot persistence.
type SessionConfig struct {
	// RedisPrefix namespaces snapshot keys: <prefix>:<client id>.
	RedisPrefix string
	// SnapshotTTL bounds how long a persisted snapshot survives without use.
	SnapshotTTL time.Duration
	// SlidingExpiration extends SnapshotTTL on every load.
	SlidingExpiration bool
	// IdleTTL evicts in-memory stores that were not used for this long.
	// Zero keeps stores until Close.
	IdleTTL       time.Duration
	SweepInterval time.Duration
	// SubscriberBuffer is the default channel size of Store.Subscribe.
	SubscriberBuffer int
}

// AuthConfig configures the auth clients the engine creates.
type AuthConfig struct {
	// RedirectBaseURL is the site origin put into confirmation and password
	// reset links, e.g. https://learn.example.com.
	RedirectBaseURL string
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			RedisPrefix:       "tokutei:snap",
			SnapshotTTL:       7 * 24 * time.Hour,
			SlidingExpiration: true,
			IdleTTL:           30 * time.Minute,
			SweepInterval:     time.Minute,
			SubscriberBuffer:  1,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func (c *Config) Validate() error {
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}
	if c.Session.SnapshotTTL < 0 {
		return errors.New("Session SnapshotTTL must be >= 0")
	}
	if c.Session.IdleTTL < 0 {
		return errors.New("Session IdleTTL must be >= 0")
	}
	if c.Session.IdleTTL > 0 && c.Session.SweepInterval <= 0 {
		return errors.New("Session SweepInterval must be > 0 when IdleTTL is set")
	}
	if c.Session.SubscriberBuffer < 1 {
		return errors.New("Session SubscriberBuffer must be >= 1")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}
	if c.Auth.RedirectBaseURL != "" {
		u, err := url.Parse(c.Auth.RedirectBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return errors.New("Auth RedirectBaseURL must be an absolute URL")
		}
	}
	return nil
}
