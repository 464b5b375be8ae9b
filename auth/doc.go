// Package auth is the only caller of the backend auth API. A [Client] holds
// the session of one browser client and turns every backend failure into an
// [*Error] whose Message is ready for the UI.
//
// Form validation runs before any backend call and reports [FieldErrors].
package auth
