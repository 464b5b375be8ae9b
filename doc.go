// Package tokutei holds the session layer of TOKUTEI Learning: one [Store]
// per browser client, owned by an [Engine].
//
// A Store is the single source of truth for a client's auth state. Every
// action marks the store loading, calls the [auth.Client], and applies the
// outcome unless a newer action was issued in the meantime. Subscribers see
// every applied state; slow subscribers only see the latest one.
//
// The authenticated part of the state is persisted through a
// [session.Persister] so that a returning client is restored provisionally
// and reconciled by [Store.CheckSession].
//
// Build an Engine with [New]:
//
//	engine, err := tokutei.New().
//		WithBackend(b).
//		WithRedis(rdb).
//		WithLogger(logger).
//		Build()
package tokutei
