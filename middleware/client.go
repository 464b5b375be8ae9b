package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/tokutei-learning/tokutei"
)

// DefaultCookieName is the cookie carrying the client id.
const DefaultCookieName = "tokutei_client"

// ClientOptions configures [Client].
type ClientOptions struct {
	CookieName string
	// Secure marks the cookie Secure; set it behind HTTPS.
	Secure bool
	// TestMode reports whether a request without a store yet should get one
	// bound to the engine's test backend. Nil means never.
	TestMode func(*http.Request) bool
	Logger   *slog.Logger
}

type storeContextKey struct{}

// StoreFromContext returns the store put into the context by [Client].
func StoreFromContext(ctx context.Context) (*tokutei.Store, bool) {
	s, ok := ctx.Value(storeContextKey{}).(*tokutei.Store)
	return s, ok && s != nil
}

// WithStore returns a copy of ctx carrying s.
func WithStore(ctx context.Context, s *tokutei.Store) context.Context {
	return context.WithValue(ctx, storeContextKey{}, s)
}

// Client resolves the browser client of every request. A request without a
// valid client cookie gets a fresh id and a Set-Cookie. The request context
// carries the store, the client id, a request id and the caller's IP.
func Client(engine *tokutei.Engine, opts ClientOptions) func(http.Handler) http.Handler {
	if opts.CookieName == "" {
		opts.CookieName = DefaultCookieName
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := ""
			if c, err := r.Cookie(opts.CookieName); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					clientID = id.String()
				}
			}
			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     opts.CookieName,
					Value:    clientID,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}
			ctx := tokutei.WithClientID(r.Context(), clientID)
			ctx = tokutei.WithRequestID(ctx, requestID)
			ctx = tokutei.WithClientIP(ctx, clientIP(r))

			var storeOpts []tokutei.StoreOption
			if opts.TestMode != nil && opts.TestMode(r) {
				storeOpts = append(storeOpts, tokutei.UseTestBackend(true))
			}
			store, err := engine.Store(ctx, clientID, storeOpts...)
			if err != nil {
				logger.Error("store unavailable", "client_id", clientID, "error", err)
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithStore(ctx, store)))
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
