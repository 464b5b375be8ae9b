package tokutei

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/internal/audit"
	"github.com/tokutei-learning/tokutei/session"
)

// Builder assembles an [Engine]. A Builder can be used once.
type Builder struct {
	config      Config
	backend     backend.Backend
	testBackend backend.Backend
	persister   session.Persister
	redis       redis.UniversalClient
	logger      *slog.Logger
	auditSink   AuditSink
	now         func() time.Time

	built bool
}

// New returns a Builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithBackend sets the backend every store talks to. Required.
func (b *Builder) WithBackend(be backend.Backend) *Builder {
	b.backend = be
	return b
}

// WithTestBackend sets the backend used by stores created with
// UseTestBackend(true).
func (b *Builder) WithTestBackend(be backend.Backend) *Builder {
	b.testBackend = be
	return b
}

// WithPersister sets the snapshot storage. It takes precedence over
// WithRedis.
func (b *Builder) WithPersister(p session.Persister) *Builder {
	b.persister = p
	return b
}

// WithRedis stores snapshots in Redis under Config.Session.RedisPrefix.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink sets where audit events go. Audit must also be enabled in
// the config.
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

// WithClock overrides time.Now for stores and auth clients.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and starts the engine. Without a
// persister or Redis client, snapshots are kept in memory.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.backend == nil {
		return nil, errors.New("backend required")
	}
	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	persister := b.persister
	switch {
	case persister != nil:
	case b.redis != nil:
		persister = session.NewRedisPersister(b.redis, cfg.Session.RedisPrefix, cfg.Session.SnapshotTTL, cfg.Session.SlidingExpiration)
	default:
		persister = session.NewMemoryPersister(cfg.Session.SnapshotTTL)
	}

	e := &Engine{
		config:      cfg,
		backend:     b.backend,
		testBackend: b.testBackend,
		persister:   persister,
		metrics:     NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
		logger:     logger.With("component", "engine"),
		baseLogger: logger,
		now:        now,
		stores:     make(map[string]*Store),
	}
	if cfg.Session.IdleTTL > 0 {
		e.stopSweep = make(chan struct{})
		e.sweepDone = make(chan struct{})
		go e.sweep(cfg.Session.SweepInterval)
	}

	b.built = true
	return e, nil
}
