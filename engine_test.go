package tokutei

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/tokutei-learning/tokutei/session"
)

func TestBuilderRequiresBackend(t *testing.T) {
	if _, err := New().Build(); err == nil {
		t.Fatal("expected error without backend")
	}
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithBackend(newLocalBackend(t))
	e, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Session.RedisPrefix = ""
	if _, err := New().WithConfig(cfg).WithBackend(newLocalBackend(t)).Build(); err == nil {
		t.Fatal("expected invalid config to be rejected")
	}
}

func TestEngineStoreRegistry(t *testing.T) {
	e := newTestEngine(t, newLocalBackend(t), session.NewMemoryPersister(0))
	ctx := context.Background()

	if _, err := e.Store(ctx, ""); !errors.Is(err, ErrClientIDRequired) {
		t.Fatalf("expected ErrClientIDRequired, got %v", err)
	}

	a, err := e.Store(ctx, "a")
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	again, _ := e.Store(ctx, "a")
	if a != again {
		t.Fatal("expected the same store for the same client")
	}
	b, _ := e.Store(ctx, "b")
	if a == b {
		t.Fatal("clients must not share stores")
	}
	if e.Len() != 2 || e.Metrics().Value(MetricStoreCreated) != 2 {
		t.Fatalf("unexpected registry size %d", e.Len())
	}
	if _, ok := e.Lookup("c"); ok {
		t.Fatal("Lookup must not create stores")
	}
}

func TestEngineEvictIdle(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Session.IdleTTL = 10 * time.Minute
	cfg.Session.SweepInterval = time.Hour
	e, err := New().WithConfig(cfg).WithBackend(newLocalBackend(t)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()

	ctx := context.Background()
	_, _ = e.Store(ctx, "a")
	_, _ = e.Store(ctx, "b")

	if n := e.EvictIdle(time.Now()); n != 0 {
		t.Fatalf("nothing is idle yet, evicted %d", n)
	}
	if n := e.EvictIdle(time.Now().Add(time.Hour)); n != 2 {
		t.Fatalf("expected 2 evictions, got %d", n)
	}
	if e.Len() != 0 || e.Metrics().Value(MetricStoreEvicted) != 2 {
		t.Fatal("expected empty registry")
	}
}

func TestEngineEvictedClientIsRestored(t *testing.T) {
	p := session.NewMemoryPersister(0)
	e := newTestEngine(t, newLocalBackend(t), p)
	ctx := context.Background()

	s, _ := e.Store(ctx, "a")
	if err := s.Login(ctx, "confirmed@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	e.Evict("a")

	restored, _ := e.Store(ctx, "a")
	if restored == s {
		t.Fatal("expected a new store after eviction")
	}
	st := restored.State()
	if !st.IsAuthenticated || st.User.Email != "confirmed@example.com" {
		t.Fatalf("expected restored state, got %+v", st)
	}
	if err := restored.CheckSession(ctx); err != nil || !restored.State().IsAuthenticated {
		t.Fatalf("restored tokens must still be valid: %v", err)
	}
}

func TestEngineTestBackend(t *testing.T) {
	prod := newLocalBackend(t)
	test := newLocalBackend(t)
	e, err := New().WithConfig(testConfig()).WithBackend(prod).WithTestBackend(test).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	ctx := context.Background()

	s, _ := e.Store(ctx, "t", UseTestBackend(true))
	if err := s.Signup(ctx, signupRequest("only-in-test@example.com")); err == nil {
		t.Fatal("expected confirmation required")
	}
	if _, ok := test.LastMail("only-in-test@example.com"); !ok {
		t.Fatal("expected the test backend to receive the signup")
	}
	if _, ok := prod.LastMail("only-in-test@example.com"); ok {
		t.Fatal("production backend must not see test-mode traffic")
	}
}

func TestEngineRedisPersister(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e, err := New().WithConfig(testConfig()).WithBackend(newLocalBackend(t)).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer e.Close()
	ctx := context.Background()

	if err := e.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	s, _ := e.Store(ctx, "r")
	if err := s.Login(ctx, "confirmed@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !mr.Exists("tokutei:snap:r") {
		t.Fatalf("expected snapshot key, have %v", mr.Keys())
	}
	if err := s.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if mr.Exists("tokutei:snap:r") {
		t.Fatal("expected snapshot key to be deleted")
	}
}

func TestEngineClose(t *testing.T) {
	e, err := New().WithConfig(testConfig()).WithBackend(newLocalBackend(t)).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	s, _ := e.Store(context.Background(), "a")
	e.Close()
	e.Close()

	if _, err := e.Store(context.Background(), "a"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if err := s.Logout(context.Background()); !errors.Is(err, ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}

	var nilEngine *Engine
	if _, err := nilEngine.Store(context.Background(), "a"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatal("nil engine must not be ready")
	}
}
