package web

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/auth"
	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/internal/rate"
	"github.com/tokutei-learning/tokutei/middleware"
)

type loginInput struct {
	auth.LoginForm
	From string `json:"from"`
}

// checkedStore returns the client's store after its session has been
// reconciled once. ok is false when a response has already been written.
func (s *Server) checkedStore(w http.ResponseWriter, r *http.Request) (*tokutei.Store, bool) {
	store, ok := middleware.StoreFromContext(r.Context())
	if !ok {
		s.logger.Error("no client store", "path", r.URL.Path)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, false
	}
	if err := store.EnsureChecked(r.Context()); err != nil {
		s.logger.Warn("session check failed", "client_id", store.ID(), "error", err)
	}
	return store, true
}

// formStore is checkedStore for form posts, answering with an alert.
func (s *Server) formStore(w http.ResponseWriter, r *http.Request) (*tokutei.Store, bool) {
	store, ok := middleware.StoreFromContext(r.Context())
	if !ok {
		s.logger.Error("no client store", "path", r.URL.Path)
		respondAlert(w, http.StatusInternalServerError, msgUnexpected)
		return nil, false
	}
	return store, true
}

func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	store, ok := s.checkedStore(w, r)
	if !ok {
		return
	}
	st := store.State()
	if st.IsAuthenticated {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "login", map[string]any{
		"Title": "ログイン",
		"State": st,
		"From":  safeRedirect(r.URL.Query().Get("from"), ""),
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	store, ok := s.formStore(w, r)
	if !ok {
		return
	}
	var in loginInput
	if err := decodeForm(w, r, &in); err != nil {
		respondAlert(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if fe := auth.Validate(in.LoginForm); fe != nil {
		respondFieldErrors(w, fe)
		return
	}
	email := strings.TrimSpace(in.Email)
	if s.throttled(r, rate.ActionLogin, email) {
		respondAlert(w, http.StatusTooManyRequests, msgTooMany)
		return
	}
	if err := store.Login(r.Context(), email, in.Password); err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			s.countAttempt(r, rate.ActionLogin, email)
		}
		respondActionError(w, err)
		return
	}
	s.clearAttempts(r, rate.ActionLogin, email)
	respondNavigate(w, safeRedirect(in.From, "/"))
}

func (s *Server) handleSignupPage(w http.ResponseWriter, r *http.Request) {
	store, ok := s.checkedStore(w, r)
	if !ok {
		return
	}
	st := store.State()
	if st.IsAuthenticated {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	s.render(w, http.StatusOK, "signup", map[string]any{
		"Title": "新規登録",
		"State": st,
	})
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	store, ok := s.formStore(w, r)
	if !ok {
		return
	}
	var form auth.SignupForm
	if err := decodeForm(w, r, &form); err != nil {
		respondAlert(w, http.StatusBadRequest, msgBadRequest)
		return
	}
	if fe := auth.Validate(form); fe != nil {
		respondFieldErrors(w, fe)
		return
	}
	req := form.Request()
	err := store.Signup(r.Context(), req)
	switch {
	case err == nil:
		respondNavigate(w, "/")
	case errors.Is(err, auth.ErrConfirmationRequired):
		respondNavigate(w, "/email-confirmation-pending?email="+url.QueryEscape(req.Email))
	default:
		respondActionError(w, err)
	}
}

func (s *Server) handleResetPage(w http.ResponseWriter, r *http.Request) {
	store, ok := s.checkedStore(w, r)
	if !ok {
		return
	}
	data := map[string]any{
		"Title": "パスワードリセット",
		"State": store.State(),
	}
	if r.URL.Query().Get("sent") == "1" {
		data["Sent"] = msgResetSent
	}
	s.render(w, http.StatusOK, "reset", data)
}

// handleReset requests a reset email for an anonymous client, or sets a new
// password for a signed-in one when the form carries a password.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	store, ok := s.formStore(w, r)
	if !ok {
		return
	}
	var in struct {
		auth.ResetForm
		Password        string `json:"password"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if err := decodeForm(w, r, &in); err != nil {
		respondAlert(w, http.StatusBadRequest, msgBadRequest)
		return
	}

	if in.Password != "" || in.ConfirmPassword != "" {
		form := auth.PasswordForm{Password: in.Password, ConfirmPassword: in.ConfirmPassword}
		if fe := auth.Validate(form); fe != nil {
			respondFieldErrors(w, fe)
			return
		}
		if !store.State().IsAuthenticated {
			respondAlert(w, http.StatusUnauthorized, msgPasswordLogin)
			return
		}
		if err := store.UpdatePassword(r.Context(), form.Password); err != nil {
			respondActionError(w, err)
			return
		}
		respondNavigate(w, "/profile")
		return
	}

	if fe := auth.Validate(in.ResetForm); fe != nil {
		respondFieldErrors(w, fe)
		return
	}
	email := strings.TrimSpace(in.Email)
	if s.throttled(r, rate.ActionReset, email) {
		respondAlert(w, http.StatusTooManyRequests, msgTooMany)
		return
	}
	s.countAttempt(r, rate.ActionReset, email)
	if err := store.ResetPassword(r.Context(), email); err != nil {
		respondActionError(w, err)
		return
	}
	respondNavigate(w, "/reset-password?sent=1")
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	store, ok := middleware.StoreFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	q := r.URL.Query()
	err := store.VerifyEmail(r.Context(), q.Get("token_hash"), backend.OTPType(q.Get("type")))
	if err != nil {
		msg := msgUnexpected
		if ae, ok := auth.AsError(err); ok {
			msg = ae.Message
		} else if errors.Is(err, tokutei.ErrSuperseded) {
			msg = msgSuperseded
		}
		s.render(w, http.StatusBadRequest, "confirm", map[string]any{
			"Title": "メールアドレスの確認",
			"State": store.State(),
			"Error": msg,
		})
		return
	}
	s.render(w, http.StatusOK, "confirm", map[string]any{
		"Title":   "メールアドレスの確認",
		"State":   store.State(),
		"Message": msgEmailConfirmed,
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	store, ok := middleware.StoreFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.render(w, http.StatusOK, "pending", map[string]any{
		"Title": "メール確認待ち",
		"State": store.State(),
		"Email": r.URL.Query().Get("email"),
	})
}

// handleLogout always lands on the login page: the store is anonymous
// afterwards even when the backend sign-out failed.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	store, ok := s.formStore(w, r)
	if !ok {
		return
	}
	if err := store.Logout(r.Context()); err != nil {
		s.logger.Warn("logout failed", "client_id", store.ID(), "error", err)
	}
	respondNavigate(w, "/login")
}

// throttled reports whether the attempt must be refused. An unreachable
// limiter lets attempts through.
func (s *Server) throttled(r *http.Request, action rate.Action, identifier string) bool {
	if s.opts.Limiter == nil {
		return false
	}
	err := s.opts.Limiter.Allow(r.Context(), action, identifier, tokutei.ClientIPFromContext(r.Context()))
	switch {
	case errors.Is(err, rate.ErrRateLimited):
		s.logger.Info("attempt throttled", "action", action, "client_id", tokutei.ClientIDFromContext(r.Context()))
		return true
	case err != nil:
		s.logger.Warn("rate limiter unavailable", "error", err)
	}
	return false
}

func (s *Server) countAttempt(r *http.Request, action rate.Action, identifier string) {
	if s.opts.Limiter == nil {
		return
	}
	err := s.opts.Limiter.Hit(r.Context(), action, identifier, tokutei.ClientIPFromContext(r.Context()))
	if err != nil && !errors.Is(err, rate.ErrRateLimited) {
		s.logger.Warn("rate limiter unavailable", "error", err)
	}
}

func (s *Server) clearAttempts(r *http.Request, action rate.Action, identifier string) {
	if s.opts.Limiter == nil {
		return
	}
	if err := s.opts.Limiter.Reset(r.Context(), action, identifier, ""); err != nil {
		s.logger.Warn("rate limiter unavailable", "error", err)
	}
}
