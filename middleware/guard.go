package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/access"
	"github.com/tokutei-learning/tokutei/backend"
)

// LoadingMessage is the body of the default loading response.
const LoadingMessage = "認証状態を確認中..."

// Resolver finds the store of the client making r.
type Resolver func(r *http.Request) (*tokutei.Store, error)

// ErrNoStore is returned by [FromContext] when [Client] did not run.
var ErrNoStore = errors.New("no client store in request context")

// FromContext resolves the store placed in the context by [Client].
func FromContext(r *http.Request) (*tokutei.Store, error) {
	s, ok := StoreFromContext(r.Context())
	if !ok {
		return nil, ErrNoStore
	}
	return s, nil
}

// Options configures [RequireSession]. The role conditions are those of
// [access.Options]; all set conditions must hold.
type Options struct {
	RequiredRole backend.Role
	AllowedRoles []backend.Role
	Condition    func(*backend.Profile) bool

	// LoginPath defaults to /login. The requested URI is appended as ?from=.
	LoginPath string
	// UnauthorizedPath defaults to /unauthorized.
	UnauthorizedPath string
	// Loading renders the page shown while the session is being checked.
	Loading http.Handler

	Metrics *tokutei.Metrics
	Logger  *slog.Logger
}

type stateContextKey struct{}

// StateFromContext returns the state the guard admitted the request with.
func StateFromContext(ctx context.Context) (tokutei.State, bool) {
	st, ok := ctx.Value(stateContextKey{}).(tokutei.State)
	return st, ok
}

// RequireSession admits only authenticated clients that satisfy opts.
func RequireSession(resolve Resolver, opts Options) func(http.Handler) http.Handler {
	if resolve == nil {
		resolve = FromContext
	}
	if opts.LoginPath == "" {
		opts.LoginPath = "/login"
	}
	if opts.UnauthorizedPath == "" {
		opts.UnauthorizedPath = "/unauthorized"
	}
	if opts.Loading == nil {
		opts.Loading = http.HandlerFunc(defaultLoading)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "guard")
	rule := access.Options{
		RequiredRole: opts.RequiredRole,
		AllowedRoles: opts.AllowedRoles,
		Condition:    opts.Condition,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			store, err := resolve(r)
			if err != nil {
				logger.Error("cannot resolve client store", "path", r.URL.Path, "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			// A failed check keeps the previous state and records the
			// error on it; the decision below uses whatever is there.
			if err := store.EnsureChecked(r.Context()); err != nil {
				logger.Warn("session check failed", "client_id", store.ID(), "error", err)
			}

			st := store.State()
			switch {
			case st.IsLoading:
				opts.Loading.ServeHTTP(w, r)
				return
			case !st.IsAuthenticated:
				opts.Metrics.Inc(tokutei.MetricGuardLoginRedirect)
				target := opts.LoginPath + "?from=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusSeeOther)
				return
			case !st.Access().CanAccess(rule):
				opts.Metrics.Inc(tokutei.MetricGuardUnauthorizedRedirect)
				logger.Info("access denied", "client_id", store.ID(), "path", r.URL.Path)
				http.Redirect(w, r, opts.UnauthorizedPath, http.StatusSeeOther)
				return
			}

			ctx := context.WithValue(r.Context(), stateContextKey{}, st)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func defaultLoading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Retry-After", "1")
	w.Header().Set("Refresh", "1; url="+r.URL.RequestURI())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(LoadingMessage))
}
