// Package backend defines the contract between the TOKUTEI session layer and the hosted
// backend-as-a-service that owns identities, the profiles table, and row-level security.
//
// # Implementations
//
//   - [github.com/tokutei-learning/tokutei/backend/gotrue] talks to the hosted auth
//     (/auth/v1) and data (/rest/v1) REST APIs.
//   - [github.com/tokutei-learning/tokutei/backend/local] is a self-contained sqlite
//     substitute used in test mode and local development.
//
// # Architecture boundaries
//
// Implementations are stateless with respect to the caller: every call that acts on
// behalf of a signed-in user receives that user's access token explicitly. Holding the
// current session is the job of auth.Client.
//
// # What this package must NOT do
//
//   - Translate backend messages into user-facing text (auth does that).
//   - Re-implement row-level security checks client-side.
package backend
