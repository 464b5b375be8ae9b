// Package gotrue implements backend.Backend against the hosted auth (/auth/v1)
// and data (/rest/v1) REST APIs.
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/jwt"
)

// DefaultTimeout bounds every request when no HTTP client is supplied.
const DefaultTimeout = 10 * time.Second

// Config configures a [Client].
type Config struct {
	// URL is the project base URL, e.g. https://xyz.supabase.co.
	URL string
	// AnonKey is sent as the apikey header on every call.
	AnonKey string
	// HTTPClient overrides the default client with a 10s timeout.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client is a stateless REST client. Safe for concurrent use.
type Client struct {
	base    *url.URL
	anonKey string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

var _ backend.Backend = (*Client)(nil)

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("gotrue: URL is required")
	}
	if cfg.AnonKey == "" {
		return nil, errors.New("gotrue: anon key is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gotrue: invalid URL %q", cfg.URL)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: DefaultTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		base:    base,
		anonKey: cfg.AnonKey,
		http:    hc,
		logger:  logger.With("component", "gotrue"),
		now:     time.Now,
	}, nil
}

type userPayload struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	EmailConfirmedAt *time.Time     `json:"email_confirmed_at"`
	ConfirmedAt      *time.Time     `json:"confirmed_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

func (p *userPayload) toUser() *backend.User {
	if p == nil || p.ID == "" {
		return nil
	}
	u := &backend.User{
		ID:               p.ID,
		Email:            p.Email,
		EmailConfirmedAt: p.EmailConfirmedAt,
		CreatedAt:        p.CreatedAt,
	}
	if u.EmailConfirmedAt == nil {
		u.EmailConfirmedAt = p.ConfirmedAt
	}
	if len(p.UserMetadata) > 0 {
		u.UserMetadata = make(map[string]string, len(p.UserMetadata))
		for k, v := range p.UserMetadata {
			if s, ok := v.(string); ok {
				u.UserMetadata[k] = s
			}
		}
	}
	return u
}

type sessionPayload struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	ExpiresIn    int64        `json:"expires_in"`
	ExpiresAt    int64        `json:"expires_at"`
	User         *userPayload `json:"user"`
}

func (c *Client) toSession(p *sessionPayload) *backend.AuthSession {
	if p == nil || p.AccessToken == "" {
		return nil
	}
	s := &backend.AuthSession{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		User:         p.User.toUser(),
	}
	switch {
	case p.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(p.ExpiresAt, 0)
	case p.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(p.ExpiresIn) * time.Second)
	default:
		if exp, err := jwt.PeekExpiry(p.AccessToken); err == nil {
			s.ExpiresAt = exp
		}
	}
	return s
}

// SignUp registers a new identity. When confirmation is required the backend
// answers with a bare user object instead of a session.
func (c *Client) SignUp(ctx context.Context, params backend.SignUpParams) (*backend.SignUpResult, error) {
	body := map[string]any{
		"email":    params.Email,
		"password": params.Password,
	}
	if len(params.Metadata) > 0 {
		body["data"] = params.Metadata
	}
	query := url.Values{}
	if params.RedirectTo != "" {
		query.Set("redirect_to", params.RedirectTo)
	}

	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", query, "", body, &raw, nil); err != nil {
		return nil, err
	}

	var sess sessionPayload
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("gotrue: decode signup: %w", err)
	}
	if sess.AccessToken != "" {
		s := c.toSession(&sess)
		return &backend.SignUpResult{User: s.User, Session: s}, nil
	}
	var user userPayload
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("gotrue: decode signup user: %w", err)
	}
	return &backend.SignUpResult{User: user.toUser()}, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*backend.AuthSession, error) {
	query := url.Values{"grant_type": {"password"}}
	var sess sessionPayload
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, "", body, &sess, nil); err != nil {
		return nil, err
	}
	return c.toSession(&sess), nil
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*backend.AuthSession, error) {
	if refreshToken == "" {
		return nil, backend.ErrNoSession
	}
	query := url.Values{"grant_type": {"refresh_token"}}
	var sess sessionPayload
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, http.MethodPost, "/auth/v1/token", query, "", body, &sess, nil); err != nil {
		return nil, err
	}
	return c.toSession(&sess), nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil, nil)
}

// ResetPasswordForEmail sends a recovery email.
func (c *Client) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	query := url.Values{}
	if redirectTo != "" {
		query.Set("redirect_to", redirectTo)
	}
	return c.do(ctx, http.MethodPost, "/auth/v1/recover", query, "", map[string]string{"email": email}, nil, nil)
}

// UpdateUser changes the email or password of the signed-in user.
func (c *Client) UpdateUser(ctx context.Context, accessToken string, attrs backend.UserAttributes) (*backend.User, error) {
	if accessToken == "" {
		return nil, backend.ErrNoSession
	}
	var user userPayload
	if err := c.do(ctx, http.MethodPut, "/auth/v1/user", nil, accessToken, attrs, &user, nil); err != nil {
		return nil, err
	}
	return user.toUser(), nil
}

// GetUser resolves accessToken to its identity record.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*backend.User, error) {
	if accessToken == "" {
		return nil, backend.ErrNoSession
	}
	var user userPayload
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &user, nil); err != nil {
		return nil, err
	}
	u := user.toUser()
	if u == nil {
		return nil, backend.ErrNoSession
	}
	return u, nil
}

// VerifyOTP redeems an emailed token hash.
func (c *Client) VerifyOTP(ctx context.Context, tokenHash string, typ backend.OTPType) (*backend.AuthSession, error) {
	body := map[string]string{"token_hash": tokenHash, "type": string(typ)}
	var sess sessionPayload
	if err := c.do(ctx, http.MethodPost, "/auth/v1/verify", nil, "", body, &sess, nil); err != nil {
		return nil, err
	}
	return c.toSession(&sess), nil
}

var objectHeaders = http.Header{
	"Accept": {"application/vnd.pgrst.object+json"},
}

// GetProfile reads the profile row of userID as the caller. Row-level
// security decides visibility.
func (c *Client) GetProfile(ctx context.Context, accessToken, userID string) (*backend.Profile, error) {
	query := url.Values{"id": {"eq." + userID}, "select": {"*"}}
	var p backend.Profile
	if err := c.do(ctx, http.MethodGet, "/rest/v1/profiles", query, accessToken, nil, &p, objectHeaders); err != nil {
		return nil, mapProfileErr(err)
	}
	return &p, nil
}

// UpdateProfile patches the profile row of userID and returns the stored row.
func (c *Client) UpdateProfile(ctx context.Context, accessToken, userID string, update backend.ProfileUpdate) (*backend.Profile, error) {
	query := url.Values{"id": {"eq." + userID}, "select": {"*"}}
	headers := http.Header{
		"Accept": objectHeaders["Accept"],
		"Prefer": {"return=representation"},
	}
	var p backend.Profile
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/profiles", query, accessToken, update, &p, headers); err != nil {
		return nil, mapProfileErr(err)
	}
	return &p, nil
}

// PGRST116 is returned when a single-object request matched zero rows.
func mapProfileErr(err error) error {
	if be, ok := backend.AsError(err); ok && be.Code == "PGRST116" {
		return fmt.Errorf("%w: %s", backend.ErrProfileNotFound, be.Message)
	}
	return err
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, accessToken string, in, out any, headers http.Header) error {
	u := *c.base
	u.Path = c.base.Path + path
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("gotrue: encode %s: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("gotrue: build %s: %w", path, err)
	}
	req.Header.Set("apikey", c.anonKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range headers {
		req.Header[k] = vs
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("gotrue: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("gotrue: read %s: %w", path, err)
	}
	if resp.StatusCode >= 400 {
		return parseError(resp.StatusCode, payload)
	}
	if out == nil || len(bytes.TrimSpace(payload)) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("gotrue: decode %s: %w", path, err)
	}
	return nil
}

type errorPayload struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

// parseError understands both the auth API shapes ({code,error_code,msg} and
// the OAuth {error,error_description}) and the PostgREST {code,message}.
func parseError(status int, payload []byte) error {
	var p errorPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		msg := strings.TrimSpace(string(payload))
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &backend.Error{Status: status, Message: msg}
	}

	be := &backend.Error{Status: status, Code: p.ErrorCode}
	if be.Code == "" && len(p.Code) > 0 {
		var s string
		if json.Unmarshal(p.Code, &s) == nil {
			be.Code = s
		}
	}
	if be.Code == "" {
		be.Code = p.Error
	}
	for _, m := range []string{p.Msg, p.Message, p.ErrorDescription, p.Error} {
		if m != "" {
			be.Message = m
			break
		}
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}
