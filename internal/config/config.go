// Package config loads process configuration from flags, the environment
// and an optional .env.<env> file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"

	// Used outside production when the hosted backend is not configured.
	FallbackSupabaseURL = "http://localhost:54321"
	FallbackAnonKey     = "test-anon-key"

	// RedisMemory as REDIS_ADDR starts an in-process Redis.
	RedisMemory = "memory"
)

// ErrMissingBackend is returned in production when SUPABASE_URL or
// SUPABASE_ANON_KEY is not set.
var ErrMissingBackend = errors.New("SUPABASE_URL and SUPABASE_ANON_KEY are required in production")

// Config is the process configuration.
type Config struct {
	Env             string
	SupabaseURL     string
	SupabaseAnonKey string
	// UsingFallback is set when the backend settings were defaulted.
	UsingFallback bool

	// RedisAddr is empty for in-memory snapshots, RedisMemory for an
	// embedded Redis, or host:port.
	RedisAddr  string
	ListenAddr string
	SiteURL    string

	LogLevel  string
	LogFormat string

	// TestMode substitutes the local backend for every client.
	TestMode bool
	// SeedFile is a YAML fixture for the local backend; empty means the
	// built-in accounts.
	SeedFile string

	SnapshotTTL  time.Duration
	IdleTTL      time.Duration
	CookieSecure bool
	AuditLog     bool
}

// Production reports whether c runs in production.
func (c *Config) Production() bool {
	return c.Env == EnvProduction
}

// RegisterFlags adds the flags Load understands to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("env", "", "environment: development, test or production (APP_ENV)")
	fs.String("env-dir", ".", "directory holding .env.<env> files")
	fs.String("listen-addr", "", "HTTP listen address (LISTEN_ADDR)")
	fs.String("redis", "", `Redis address, or "memory" for an embedded Redis (REDIS_ADDR)`)
	fs.String("log-level", "", "debug, info, warn or error (LOG_LEVEL)")
	fs.String("log-format", "", "text or json (LOG_FORMAT)")
	fs.Bool("test-mode", false, "use the local test backend (TEST_MODE)")
	fs.String("seed", "", "YAML seed file for the local backend (SEED_FILE)")
}

var flagKeys = map[string]string{
	"listen-addr": "listen_addr",
	"redis":       "redis_addr",
	"log-level":   "log_level",
	"log-format":  "log_format",
	"test-mode":   "test_mode",
	"seed":        "seed_file",
}

// Load resolves the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	env := strings.ToLower(os.Getenv("APP_ENV"))
	dir := "."
	if flags != nil {
		if f := flags.Lookup("env"); f != nil && f.Changed {
			env = strings.ToLower(f.Value.String())
		}
		if f := flags.Lookup("env-dir"); f != nil {
			dir = f.Value.String()
		}
	}
	if env == "" {
		env = EnvDevelopment
	}
	switch env {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return nil, fmt.Errorf("unknown APP_ENV %q", env)
	}

	// .env files never override variables that are already set.
	path := filepath.Join(dir, ".env."+env)
	if _, err := os.Stat(path); err == nil {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetTypeByDefaultValue(true)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("site_url", "http://localhost:8080")
	v.SetDefault("redis_addr", "")
	v.SetDefault("supabase_url", "")
	v.SetDefault("supabase_anon_key", "")
	v.SetDefault("test_mode", env == EnvTest)
	v.SetDefault("seed_file", "")
	v.SetDefault("snapshot_ttl", 7*24*time.Hour)
	v.SetDefault("idle_ttl", 30*time.Minute)
	v.SetDefault("cookie_secure", env == EnvProduction)
	v.SetDefault("audit_log", env == EnvProduction)
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	c := &Config{
		Env:             env,
		SupabaseURL:     strings.TrimRight(v.GetString("supabase_url"), "/"),
		SupabaseAnonKey: v.GetString("supabase_anon_key"),
		RedisAddr:       v.GetString("redis_addr"),
		ListenAddr:      v.GetString("listen_addr"),
		SiteURL:         strings.TrimRight(v.GetString("site_url"), "/"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		TestMode:        v.GetBool("test_mode"),
		SeedFile:        v.GetString("seed_file"),
		SnapshotTTL:     v.GetDuration("snapshot_ttl"),
		IdleTTL:         v.GetDuration("idle_ttl"),
		CookieSecure:    v.GetBool("cookie_secure"),
		AuditLog:        v.GetBool("audit_log"),
	}

	if c.SupabaseURL == "" || c.SupabaseAnonKey == "" {
		if c.Production() {
			return nil, ErrMissingBackend
		}
		if c.SupabaseURL == "" {
			c.SupabaseURL = FallbackSupabaseURL
		}
		if c.SupabaseAnonKey == "" {
			c.SupabaseAnonKey = FallbackAnonKey
		}
		c.UsingFallback = true
	}
	if c.Production() && c.TestMode {
		return nil, errors.New("TEST_MODE cannot be enabled in production")
	}
	return c, nil
}
