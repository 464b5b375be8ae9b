package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tokutei-learning/tokutei/backend"
)

// Event names an auth state change delivered to [Client.OnAuthStateChange] listeners.
type Event string

const (
	EventSignedIn       Event = "SIGNED_IN"
	EventSignedOut      Event = "SIGNED_OUT"
	EventTokenRefreshed Event = "TOKEN_REFRESHED"
	EventUserUpdated    Event = "USER_UPDATED"
)

// Listener receives auth state changes. session is nil after sign-out.
type Listener func(event Event, session *backend.AuthSession)

// Result is what a successful sign-in style call produced. Profile is nil
// when the profile row could not be read; that is not an error.
type Result struct {
	User    *backend.User
	Profile *backend.Profile
	Session *backend.AuthSession
}

// SignupRequest is the input of [Client.Signup].
type SignupRequest struct {
	Email            string
	Password         string
	FullName         string
	Role             backend.Role
	OrganizationName string
}

// Option configures a [Client].
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithRedirectBaseURL sets the site origin used for emailed links.
func WithRedirectBaseURL(base string) Option {
	return func(c *Client) {
		c.redirectBase = strings.TrimRight(base, "/")
	}
}

// WithSession starts the client with a previously issued session, e.g. one
// restored from a persisted snapshot.
func WithSession(s *backend.AuthSession) Option {
	return func(c *Client) {
		c.session = cloneSession(s)
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client is the only component that talks to the backend auth API. It holds
// the session of one browser client. Safe for concurrent use.
type Client struct {
	backend      backend.Backend
	logger       *slog.Logger
	redirectBase string
	now          func() time.Time

	mu        sync.Mutex
	session   *backend.AuthSession
	listeners map[int]Listener
	nextID    int
}

// NewClient returns a Client bound to b.
func NewClient(b backend.Backend, opts ...Option) *Client {
	c := &Client{
		backend:   b,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:       time.Now,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "auth")
	return c
}

// Signup registers a new account. When the backend wants the email confirmed
// first, the returned error has Kind KindConfirmationRequired and the result
// is nil.
func (c *Client) Signup(ctx context.Context, req SignupRequest) (*Result, error) {
	meta := map[string]string{
		"full_name": req.FullName,
		"role":      string(req.Role),
	}
	if req.OrganizationName != "" {
		meta["organization_name"] = req.OrganizationName
	}
	res, err := c.backend.SignUp(ctx, backend.SignUpParams{
		Email:      req.Email,
		Password:   req.Password,
		Metadata:   meta,
		RedirectTo: c.redirect("/auth/confirm"),
	})
	if err != nil {
		c.logger.Debug("signup rejected", "error", err)
		return nil, mapSignupError(err)
	}
	if res == nil || res.User == nil || !res.User.Confirmed() || res.Session == nil {
		return nil, newError(KindConfirmationRequired, msgConfirmationSent, nil)
	}

	c.setSession(EventSignedIn, res.Session)
	return &Result{
		User:    res.User,
		Profile: c.fetchProfile(ctx, res.Session.AccessToken, res.User.ID),
		Session: cloneSession(res.Session),
	}, nil
}

// Login signs in with email and password.
func (c *Client) Login(ctx context.Context, email, password string) (*Result, error) {
	sess, err := c.backend.SignInWithPassword(ctx, email, password)
	if err != nil {
		c.logger.Debug("login rejected", "error", err)
		return nil, mapLoginError(err)
	}
	if sess == nil || sess.User == nil {
		return nil, newError(KindUnknown, msgLoginFailed, nil)
	}

	c.setSession(EventSignedIn, sess)
	return &Result{
		User:    sess.User,
		Profile: c.fetchProfile(ctx, sess.AccessToken, sess.User.ID),
		Session: cloneSession(sess),
	}, nil
}

// Logout revokes the backend session. The local session is dropped even
// when the backend call fails.
func (c *Client) Logout(ctx context.Context) error {
	c.mu.Lock()
	token := ""
	if c.session != nil {
		token = c.session.AccessToken
	}
	c.mu.Unlock()

	err := c.backend.SignOut(ctx, token)
	c.setSession(EventSignedOut, nil)
	if err == nil {
		return nil
	}
	c.logger.Warn("logout failed", "error", err)
	if isTransport(err) {
		return newError(KindTransport, msgLogoutUnexpected, err)
	}
	return newError(KindUnknown, msgLogoutFailed, err)
}

// ResetPassword asks the backend to email a recovery link that lands on
// /reset-password. Backend rejections keep the backend's message.
func (c *Client) ResetPassword(ctx context.Context, email string) error {
	if err := c.backend.ResetPasswordForEmail(ctx, email, c.redirect("/reset-password")); err != nil {
		return mapPassThrough(err, msgResetUnexpected)
	}
	return nil
}

// UpdatePassword sets a new password for the signed-in user.
func (c *Client) UpdatePassword(ctx context.Context, newPassword string) (*backend.User, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, newError(KindNotAuthenticated, msgNotAuthenticated, backend.ErrNoSession)
	}
	user, err := c.backend.UpdateUser(ctx, sess.AccessToken, backend.UserAttributes{Password: newPassword})
	if err != nil {
		return nil, mapPassThrough(err, msgPasswordUnexpected)
	}
	c.mu.Lock()
	if c.session != nil {
		c.session.User = user.Clone()
	}
	current := cloneSession(c.session)
	c.mu.Unlock()
	c.notify(EventUserUpdated, current)
	return user, nil
}

// GetCurrentUser asks the backend who the current session belongs to. A
// session the backend no longer accepts is dropped.
func (c *Client) GetCurrentUser(ctx context.Context) (*Result, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, newError(KindNotAuthenticated, msgNotAuthenticated, backend.ErrNoSession)
	}

	user, err := c.backend.GetUser(ctx, sess.AccessToken)
	if err != nil {
		if isTransport(err) {
			return nil, newError(KindTransport, msgUserUnexpected, err)
		}
		c.logger.Info("session rejected by backend", "error", err)
		c.setSession(EventSignedOut, nil)
		return nil, newError(KindNotAuthenticated, msgNotAuthenticated, err)
	}

	c.mu.Lock()
	if c.session != nil && c.session.AccessToken == sess.AccessToken {
		c.session.User = user.Clone()
	}
	c.mu.Unlock()

	sess.User = user
	return &Result{
		User:    user,
		Profile: c.fetchProfile(ctx, sess.AccessToken, user.ID),
		Session: sess,
	}, nil
}

// UpdateProfile patches the profile row of userID and returns the stored row.
func (c *Client) UpdateProfile(ctx context.Context, userID string, update backend.ProfileUpdate) (*backend.Profile, error) {
	sess, err := c.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, newError(KindNotAuthenticated, msgNotAuthenticated, backend.ErrNoSession)
	}
	p, err := c.backend.UpdateProfile(ctx, sess.AccessToken, userID, update)
	if err != nil {
		return nil, mapPassThrough(err, msgProfileUnexpected)
	}
	return p, nil
}

// VerifyEmail redeems the token of an emailed confirmation link and signs
// the user in.
func (c *Client) VerifyEmail(ctx context.Context, tokenHash string, typ backend.OTPType) (*Result, error) {
	if tokenHash == "" || typ != backend.OTPEmail {
		return nil, newError(KindInvalidLink, msgInvalidLink, nil)
	}
	sess, err := c.backend.VerifyOTP(ctx, tokenHash, typ)
	if err != nil {
		return nil, mapVerifyError(err)
	}
	if sess == nil || sess.User == nil {
		return nil, newError(KindInvalidLink, msgInvalidLink, nil)
	}
	c.setSession(EventSignedIn, sess)
	return &Result{
		User:    sess.User,
		Profile: c.fetchProfile(ctx, sess.AccessToken, sess.User.ID),
		Session: cloneSession(sess),
	}, nil
}

// GetSession returns the current session, refreshing it first when the
// access token has expired. It returns nil, nil when signed out.
func (c *Client) GetSession(ctx context.Context) (*backend.AuthSession, error) {
	c.mu.Lock()
	sess := cloneSession(c.session)
	c.mu.Unlock()

	if sess == nil || !sess.Expired(c.now()) {
		return sess, nil
	}
	if sess.RefreshToken == "" {
		c.setSession(EventSignedOut, nil)
		return nil, nil
	}

	next, err := c.backend.RefreshSession(ctx, sess.RefreshToken)
	if err != nil {
		if isTransport(err) {
			return nil, newError(KindTransport, msgSessionUnexpected, err)
		}
		c.logger.Info("refresh rejected", "error", err)
		c.setSession(EventSignedOut, nil)
		return nil, nil
	}
	if next.User == nil {
		next.User = sess.User
	}
	c.setSession(EventTokenRefreshed, next)
	return cloneSession(next), nil
}

// Session returns the current session without contacting the backend.
func (c *Client) Session() *backend.AuthSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.session)
}

// OnAuthStateChange registers fn and returns a function that removes it.
// Listeners run synchronously on the goroutine that caused the change.
func (c *Client) OnAuthStateChange(fn Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) setSession(event Event, s *backend.AuthSession) {
	c.mu.Lock()
	c.session = cloneSession(s)
	c.mu.Unlock()
	c.notify(event, cloneSession(s))
}

func (c *Client) notify(event Event, s *backend.AuthSession) {
	c.mu.Lock()
	fns := make([]Listener, 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(event, s)
	}
}

func (c *Client) fetchProfile(ctx context.Context, accessToken, userID string) *backend.Profile {
	p, err := c.backend.GetProfile(ctx, accessToken, userID)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, backend.ErrProfileNotFound) {
			level = slog.LevelDebug
		}
		c.logger.Log(ctx, level, "profile unavailable", "user_id", userID, "error", err)
		return nil
	}
	return p
}

func (c *Client) redirect(path string) string {
	if c.redirectBase == "" {
		return ""
	}
	return c.redirectBase + path
}

func cloneSession(s *backend.AuthSession) *backend.AuthSession {
	if s == nil {
		return nil
	}
	c := *s
	c.User = s.User.Clone()
	return &c
}
