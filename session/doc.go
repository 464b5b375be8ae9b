// Package session persists the durable part of a client's auth state between
// requests and process restarts.
//
// # Binary encoding
//
// A [Snapshot] is stored as a compact versioned binary record (see [Encode]).
// Identity and profile are carried as embedded JSON so that profile columns
// can grow without a format bump.
//
// # Architecture boundaries
//
// This package owns the [Persister] implementations and the [Snapshot] model.
// It does not talk to the auth backend and never stores transient fields
// (loading flags, errors).
package session
