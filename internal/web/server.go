// Package web is the HTTP surface of TOKUTEI Learning: the auth forms, the
// role-protected pages and the operational endpoints.
package web

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/internal/rate"
	"github.com/tokutei-learning/tokutei/middleware"
)

// Options configures a [Server].
type Options struct {
	// CookieSecure marks the client cookie Secure.
	CookieSecure bool
	// AllowTestMode lets a new client bind to the engine's test backend by
	// sending ?testMode=1 on its first request. Never set it in production.
	AllowTestMode bool
	// Metrics is served on /metrics when set.
	Metrics http.Handler
	// Limiter throttles login and reset attempts. Nil disables throttling.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// Server routes requests to the per-client stores of an engine.
type Server struct {
	router    chi.Router
	engine    *tokutei.Engine
	opts      Options
	logger    *slog.Logger
	startTime time.Time
}

// New creates a Server with all routes registered.
func New(engine *tokutei.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		opts:      opts,
		logger:    logger.With("component", "web"),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Handler returns the http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.router
}

var learners = []backend.Role{backend.RoleStudent, backend.RoleTeacher}

func (s *Server) routes() {
	r := s.router

	r.Use(chimw.Recoverer)
	r.Use(loggingMiddleware(s.logger))

	r.Get("/healthz", s.handleHealth)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Client(s.engine, middleware.ClientOptions{
			Secure:   s.opts.CookieSecure,
			TestMode: s.testMode,
			Logger:   s.logger,
		}))
		r.Use(echoRequestID)

		r.Get("/", s.handleHome)
		r.Get("/login", s.handleLoginPage)
		r.Post("/login", s.handleLogin)
		r.Get("/signup", s.handleSignupPage)
		r.Post("/signup", s.handleSignup)
		r.Get("/reset-password", s.handleResetPage)
		r.Post("/reset-password", s.handleReset)
		r.Get("/auth/confirm", s.handleConfirm)
		r.Get("/email-confirmation-pending", s.handlePending)
		r.Post("/logout", s.handleLogout)
		r.Get("/unauthorized", s.handleUnauthorized)

		r.With(s.guard(middleware.Options{AllowedRoles: learners})).Get("/study", s.handleStudy)
		r.With(s.guard(middleware.Options{AllowedRoles: learners})).Get("/practice", s.handlePractice)
		r.With(s.guard(middleware.Options{RequiredRole: backend.RoleTeacher})).Get("/teacher", s.handleTeacher)

		r.Group(func(r chi.Router) {
			r.Use(s.guard(middleware.Options{}))
			r.Get("/profile", s.handleProfilePage)
			r.Post("/profile", s.handleProfile)
		})
	})
}

func (s *Server) guard(opts middleware.Options) func(http.Handler) http.Handler {
	opts.Metrics = s.engine.Metrics()
	opts.Logger = s.logger
	return middleware.RequireSession(middleware.FromContext, opts)
}

func (s *Server) testMode(r *http.Request) bool {
	return s.opts.AllowTestMode && r.URL.Query().Get("testMode") == "1"
}
