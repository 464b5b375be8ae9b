package rate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Action names the throttled operation.
type Action string

const (
	ActionLogin Action = "login"
	ActionReset Action = "reset"
)

// Config holds limiter tuning.
type Config struct {
	Prefix string
	// MaxAttempts is the budget per identifier, and per IP when ThrottleIP
	// is set, within one Window.
	MaxAttempts int
	Window      time.Duration
	ThrottleIP  bool
}

// DefaultConfig allows five attempts per fifteen minutes.
func DefaultConfig() Config {
	return Config{
		Prefix:      "tokutei:rl",
		MaxAttempts: 5,
		Window:      15 * time.Minute,
		ThrottleIP:  true,
	}
}

// Limiter counts attempts per identifier and client IP. Safe for concurrent
// use.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter backed by rdb.
func New(rdb redis.UniversalClient, cfg Config) *Limiter {
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultConfig().Prefix
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultConfig().Window
	}
	return &Limiter{redis: rdb, config: cfg}
}

// Allow reports ErrRateLimited when identifier or ip has spent its budget.
// It does not count the attempt.
func (l *Limiter) Allow(ctx context.Context, action Action, identifier, ip string) error {
	for _, key := range l.keys(action, identifier, ip) {
		n, err := l.get(ctx, key)
		if err != nil {
			return err
		}
		if n >= int64(l.config.MaxAttempts) {
			return ErrRateLimited
		}
	}
	return nil
}

// Hit counts one attempt. It returns ErrRateLimited when this attempt spent
// the last of the budget.
func (l *Limiter) Hit(ctx context.Context, action Action, identifier, ip string) error {
	limited := false
	for _, key := range l.keys(action, identifier, ip) {
		n, err := l.incrementWithTTL(ctx, key)
		if err != nil {
			return err
		}
		if n >= int64(l.config.MaxAttempts) {
			limited = true
		}
	}
	if limited {
		return ErrRateLimited
	}
	return nil
}

// Reset clears the counters, e.g. after a successful login.
func (l *Limiter) Reset(ctx context.Context, action Action, identifier, ip string) error {
	keys := l.keys(action, identifier, ip)
	if len(keys) == 0 {
		return nil
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Attempts returns the current count for identifier. Missing keys count zero.
func (l *Limiter) Attempts(ctx context.Context, action Action, identifier string) (int, error) {
	n, err := l.get(ctx, l.idKey(action, identifier))
	return int(n), err
}

func (l *Limiter) keys(action Action, identifier, ip string) []string {
	var keys []string
	if id := normalize(identifier); id != "" {
		keys = append(keys, l.idKey(action, id))
	}
	if l.config.ThrottleIP && ip != "" {
		keys = append(keys, l.config.Prefix+":"+string(action)+":ip:"+ip)
	}
	return keys
}

func (l *Limiter) idKey(action Action, identifier string) string {
	return l.config.Prefix + ":" + string(action) + ":id:" + normalize(identifier)
}

func (l *Limiter) get(ctx context.Context, key string) (int64, error) {
	n, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string) (int64, error) {
	n, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 1 {
		if err := l.redis.Expire(ctx, key, l.config.Window).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}
	return n, nil
}

func normalize(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
