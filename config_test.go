package tokutei

import (
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty prefix", func(c *Config) { c.Session.RedisPrefix = "" }},
		{"negative snapshot ttl", func(c *Config) { c.Session.SnapshotTTL = -time.Second }},
		{"idle without sweep", func(c *Config) { c.Session.SweepInterval = 0 }},
		{"zero subscriber buffer", func(c *Config) { c.Session.SubscriberBuffer = 0 }},
		{"audit without buffer", func(c *Config) {
			c.Audit.Enabled = true
			c.Audit.BufferSize = 0
		}},
		{"relative redirect base", func(c *Config) { c.Auth.RedirectBaseURL = "/login" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Auth.RedirectBaseURL = "https://learn.example.com"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("absolute redirect base rejected: %v", err)
	}
}
