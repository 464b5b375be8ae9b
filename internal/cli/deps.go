package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/backend/gotrue"
	"github.com/tokutei-learning/tokutei/backend/local"
	"github.com/tokutei-learning/tokutei/internal/config"
)

// closers runs cleanups in reverse order.
type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c closers) close() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// openRedis returns nil when snapshots stay in memory.
func openRedis(cfg *config.Config, logger *slog.Logger, cl *closers) (redis.UniversalClient, error) {
	addr := cfg.RedisAddr
	switch addr {
	case "":
		return nil, nil
	case config.RedisMemory:
		mr, err := miniredis.Run()
		if err != nil {
			return nil, fmt.Errorf("start embedded redis: %w", err)
		}
		cl.add(mr.Close)
		addr = mr.Addr()
		logger.Info("using embedded redis", "addr", addr)
	default:
		logger.Info("using redis", "addr", addr)
	}
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	cl.add(func() { _ = rdb.Close() })
	return rdb, nil
}

// openLocal opens and seeds the local backend.
func openLocal(ctx context.Context, cfg *config.Config, dsn string, logger *slog.Logger, cl *closers) (*local.Backend, error) {
	b, err := local.Open(ctx, dsn, local.Options{Logger: logger})
	if err != nil {
		return nil, err
	}
	cl.add(func() { _ = b.Close() })

	seed := local.DefaultSeed()
	if cfg.SeedFile != "" {
		if seed, err = local.LoadSeed(cfg.SeedFile); err != nil {
			return nil, err
		}
	}
	if _, err := b.Seed(ctx, seed); err != nil {
		return nil, err
	}
	return b, nil
}

// openBackends returns the backend of regular clients and, outside
// production, a local backend for clients that ask for test mode.
func openBackends(ctx context.Context, cfg *config.Config, localDSN string, logger *slog.Logger, cl *closers) (backend.Backend, backend.Backend, error) {
	if cfg.TestMode {
		b, err := openLocal(ctx, cfg, localDSN, logger, cl)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("test mode: all clients use the local backend")
		return b, nil, nil
	}

	hosted, err := gotrue.New(gotrue.Config{
		URL:     cfg.SupabaseURL,
		AnonKey: cfg.SupabaseAnonKey,
		Logger:  logger,
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.UsingFallback {
		logger.Warn("backend not configured, using fallback", "url", cfg.SupabaseURL)
	}
	if cfg.Production() {
		return hosted, nil, nil
	}
	test, err := openLocal(ctx, cfg, localDSN, logger, cl)
	if err != nil {
		return nil, nil, err
	}
	return hosted, test, nil
}

// buildEngine wires an engine from cfg. The Redis client is nil when
// snapshots stay in memory.
func buildEngine(ctx context.Context, cfg *config.Config, localDSN string, logger *slog.Logger, cl *closers) (*tokutei.Engine, redis.UniversalClient, error) {
	primary, test, err := openBackends(ctx, cfg, localDSN, logger, cl)
	if err != nil {
		return nil, nil, err
	}
	rdb, err := openRedis(cfg, logger, cl)
	if err != nil {
		return nil, nil, err
	}

	ec := tokutei.DefaultConfig()
	ec.Session.SnapshotTTL = cfg.SnapshotTTL
	ec.Session.IdleTTL = cfg.IdleTTL
	ec.Auth.RedirectBaseURL = cfg.SiteURL
	ec.Audit.Enabled = cfg.AuditLog

	b := tokutei.New().
		WithConfig(ec).
		WithBackend(primary).
		WithLogger(logger).
		WithAuditSink(tokutei.NewLogSink(logger.With("component", "audit")))
	if test != nil {
		b = b.WithTestBackend(test)
	}
	if rdb != nil {
		b = b.WithRedis(rdb)
	}
	engine, err := b.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("build engine: %w", err)
	}
	cl.add(engine.Close)

	if err := engine.Ping(ctx); err != nil {
		return nil, nil, fmt.Errorf("snapshot storage: %w", err)
	}
	return engine, rdb, nil
}

func isServerClosed(err error) bool {
	return err == nil || errors.Is(err, http.ErrServerClosed)
}
