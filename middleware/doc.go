// Package middleware adapts the session layer to net/http.
//
// [Client] identifies the browser by a cookie and puts its [tokutei.Store]
// into the request context. [RequireSession] guards a route: it makes sure
// the store's session was checked, then either lets the request through
// with the state in context, answers with a loading page, or redirects to
// the login or unauthorized page.
package middleware
