// Package internal contains helpers private to the tokutei module: random
// session ids, refresh tokens and emailed link tokens for the local backend.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - cli: cobra commands behind cmd/tokutei
//   - config: environment and flag configuration for cmd/tokutei
//   - logging: slog construction
//   - rate: Redis-backed throttling of login and reset attempts
//   - web: chi HTTP surface
//
// # What this package must NOT do
//
//   - Export types that appear in the public tokutei API.
package internal
