package tokutei

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tokutei-learning/tokutei/auth"
	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/internal/audit"
	"github.com/tokutei-learning/tokutei/session"
)

// Engine owns the stores of all browser clients. It is safe for concurrent
// use after [Builder.Build].
type Engine struct {
	config      Config
	backend     backend.Backend
	testBackend backend.Backend
	persister   session.Persister
	metrics     *Metrics
	audit       *audit.Dispatcher
	logger      *slog.Logger
	baseLogger  *slog.Logger
	now         func() time.Time

	mu     sync.RWMutex
	stores map[string]*Store
	closed bool

	stopSweep chan struct{}
	sweepDone chan struct{}
}

// StoreOption adjusts how a store is created. Options are ignored when the
// store already exists.
type StoreOption func(*storeOptions)

type storeOptions struct {
	testMode bool
}

// UseTestBackend creates the store against the engine's test backend, when
// one was configured with [Builder.WithTestBackend].
func UseTestBackend(enabled bool) StoreOption {
	return func(o *storeOptions) {
		o.testMode = enabled
	}
}

// Store returns the store of clientID, creating it on first use. A new store
// starts from the persisted snapshot of the client when there is one.
func (e *Engine) Store(ctx context.Context, clientID string, opts ...StoreOption) (*Store, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if clientID == "" {
		return nil, ErrClientIDRequired
	}

	e.mu.RLock()
	s, ok := e.stores[clientID]
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrEngineNotReady
	}
	if ok {
		return s, nil
	}

	var o storeOptions
	for _, opt := range opts {
		opt(&o)
	}
	snap := e.loadSnapshot(ctx, clientID)
	created := e.newStore(clientID, o, snap)

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		created.Close()
		return nil, ErrEngineNotReady
	}
	if s, ok := e.stores[clientID]; ok {
		e.mu.Unlock()
		created.Close()
		return s, nil
	}
	e.stores[clientID] = created
	e.mu.Unlock()

	e.metrics.Inc(MetricStoreCreated)
	if snap != nil {
		e.metrics.Inc(MetricSnapshotRestored)
	}
	e.logger.Debug("store created", "client_id", clientID, "restored", snap != nil, "test_mode", o.testMode)
	return created, nil
}

// Lookup returns the store of clientID without creating one.
func (e *Engine) Lookup(clientID string) (*Store, bool) {
	if e == nil {
		return nil, false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.stores[clientID]
	return s, ok
}

// Evict closes and forgets the store of clientID. Its persisted snapshot is
// kept, so the client is restored on its next request.
func (e *Engine) Evict(clientID string) bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	s, ok := e.stores[clientID]
	delete(e.stores, clientID)
	e.mu.Unlock()
	if !ok {
		return false
	}
	s.Close()
	e.metrics.Inc(MetricStoreEvicted)
	return true
}

// EvictIdle evicts every store unused since before now-IdleTTL and returns
// how many were evicted.
func (e *Engine) EvictIdle(now time.Time) int {
	if e == nil || e.config.Session.IdleTTL <= 0 {
		return 0
	}
	cutoff := now.Add(-e.config.Session.IdleTTL)

	e.mu.RLock()
	var idle []string
	for id, s := range e.stores {
		if s.idleSince().Before(cutoff) {
			idle = append(idle, id)
		}
	}
	e.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if e.Evict(id) {
			n++
		}
	}
	if n > 0 {
		e.logger.Debug("idle stores evicted", "count", n)
	}
	return n
}

// Len returns the number of live stores.
func (e *Engine) Len() int {
	if e == nil {
		return 0
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.stores)
}

func (e *Engine) Config() Config {
	return e.config
}

func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

// MetricsSnapshot returns the current counter values.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// AuditDropped returns how many audit events were dropped.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Ping checks the snapshot storage when it supports it.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if p, ok := e.persister.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Close stops the idle sweeper, closes every store and flushes the audit
// queue. It does not close the backend or the Redis client.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	stores := e.stores
	e.stores = make(map[string]*Store)
	e.mu.Unlock()

	if e.stopSweep != nil {
		close(e.stopSweep)
		<-e.sweepDone
	}
	for _, s := range stores {
		s.Close()
	}
	e.audit.Close()
}

func (e *Engine) newStore(clientID string, o storeOptions, snap *session.Snapshot) *Store {
	b := e.backend
	if o.testMode && e.testBackend != nil {
		b = e.testBackend
	}
	opts := []auth.Option{
		auth.WithLogger(e.baseLogger),
		auth.WithRedirectBaseURL(e.config.Auth.RedirectBaseURL),
		auth.WithClock(e.now),
	}
	if snap != nil {
		opts = append(opts, auth.WithSession(snap.AuthSession()))
	}
	return newStore(clientID, storeDeps{
		client:    auth.NewClient(b, opts...),
		persister: e.persister,
		metrics:   e.metrics,
		audit:     e.audit,
		logger:    e.baseLogger.With("component", "store"),
		now:       e.now,
		subBuffer: e.config.Session.SubscriberBuffer,
	}, snap)
}

func (e *Engine) loadSnapshot(ctx context.Context, clientID string) *session.Snapshot {
	if e.persister == nil {
		return nil
	}
	snap, err := e.persister.Load(ctx, clientID)
	if err != nil {
		if !errors.Is(err, session.ErrNotFound) {
			e.logger.Warn("snapshot load failed", "client_id", clientID, "error", err)
		}
		return nil
	}
	if !snap.IsAuthenticated || snap.User == nil {
		return nil
	}
	return snap
}

func (e *Engine) sweep(interval time.Duration) {
	defer close(e.sweepDone)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			e.EvictIdle(e.now())
		case <-e.stopSweep:
			return
		}
	}
}
