package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/backend/local"
	"github.com/tokutei-learning/tokutei/internal/rate"
	"github.com/tokutei-learning/tokutei/metrics/export/prometheus"
	"github.com/tokutei-learning/tokutei/password"
)

func openBackend(t *testing.T, seed bool) *local.Backend {
	t.Helper()
	b, err := local.Open(context.Background(), ":memory:", local.Options{Password: password.TestConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	if seed {
		_, err = b.Seed(context.Background(), local.DefaultSeed())
		require.NoError(t, err)
	}
	return b
}

type harness struct {
	srv     *httptest.Server
	engine  *tokutei.Engine
	backend *local.Backend
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	b := openBackend(t, true)
	cfg := tokutei.DefaultConfig()
	cfg.Session.IdleTTL = 0
	e, err := tokutei.New().WithConfig(cfg).WithBackend(b).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)

	if opts.Metrics == nil {
		opts.Metrics = prometheus.NewExporter(e).Handler()
	}
	srv := httptest.NewServer(New(e, opts))
	t.Cleanup(srv.Close)
	return &harness{srv: srv, engine: e, backend: b}
}

// browser keeps cookies and never follows redirects.
func (h *harness) browser(t *testing.T) *http.Client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func (h *harness) get(t *testing.T, c *http.Client, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) post(t *testing.T, c *http.Client, path string, form url.Values) (int, map[string]json.RawMessage) {
	t.Helper()
	resp, err := c.PostForm(h.srv.URL+path, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out, 1, "form responses carry exactly one key")
	return resp.StatusCode, out
}

func str(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(raw, &s))
	return s
}

func (h *harness) login(t *testing.T, c *http.Client, email string) {
	t.Helper()
	status, out := h.post(t, c, "/login", url.Values{"email": {email}, "password": {"password123"}})
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, out, "navigate")
}

func TestLoginInvalidCredentialsAlerts(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)

	status, out := h.post(t, c, "/login", url.Values{
		"email":    {"nonexistent@example.com"},
		"password": {"wrongpassword"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "メールアドレスまたはパスワードが正しくありません。", str(t, out["alert"]))

	resp, _ := h.get(t, c, "/study")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestLoginFieldErrors(t *testing.T) {
	h := newHarness(t, Options{})
	status, out := h.post(t, h.browser(t), "/login", url.Values{"email": {"bad"}, "password": {"short"}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	var fe map[string]string
	require.NoError(t, json.Unmarshal(out["field_errors"], &fe))
	assert.Equal(t, "有効なメールアドレスを入力してください", fe["email"])
	assert.Equal(t, "パスワードは8文字以上で入力してください", fe["password"])
}

func TestLoginNavigatesBackToProtectedPage(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)

	resp, _ := h.get(t, c, "/study")
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login?from=%2Fstudy", resp.Header.Get("Location"))

	status, out := h.post(t, c, "/login", url.Values{
		"email":    {"confirmed@example.com"},
		"password": {"password123"},
		"from":     {"/study"},
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/study", str(t, out["navigate"]))

	resp, body := h.get(t, c, "/study")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "確認済みユーザー")
}

func TestLoginIgnoresForeignRedirect(t *testing.T) {
	h := newHarness(t, Options{})
	_, out := h.post(t, h.browser(t), "/login", url.Values{
		"email":    {"confirmed@example.com"},
		"password": {"password123"},
		"from":     {"//evil.example.com"},
	})
	assert.Equal(t, "/", str(t, out["navigate"]))
}

func TestStudentCannotSeeTeacherPage(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)
	h.login(t, c, "confirmed@example.com")

	resp, body := h.get(t, c, "/teacher")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/unauthorized", resp.Header.Get("Location"))
	assert.NotContains(t, body, "講師ダッシュボード")

	resp, body = h.get(t, c, "/unauthorized")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Contains(t, body, "アクセス権限がありません")
}

func TestTeacherPage(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)
	h.login(t, c, "teacher@example.com")

	resp, body := h.get(t, c, "/teacher")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "TOKUTEI学院")

	resp, _ = h.get(t, c, "/practice")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSignupTeacherNeedsOrganization(t *testing.T) {
	h := newHarness(t, Options{})
	status, out := h.post(t, h.browser(t), "/signup", url.Values{
		"full_name":        {"新しい講師"},
		"email":            {"newteacher@example.com"},
		"password":         {"password123"},
		"confirm_password": {"password123"},
		"role":             {"teacher"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, status)

	var fe map[string]string
	require.NoError(t, json.Unmarshal(out["field_errors"], &fe))
	assert.Equal(t, map[string]string{"organization_name": "組織名を入力してください"}, fe)

	_, sent := h.backend.LastMail("newteacher@example.com")
	assert.False(t, sent, "no backend call expected")
}

func TestSignupAlreadyRegistered(t *testing.T) {
	h := newHarness(t, Options{})
	status, out := h.post(t, h.browser(t), "/signup", url.Values{
		"full_name":        {"重複"},
		"email":            {"confirmed@example.com"},
		"password":         {"password123"},
		"confirm_password": {"password123"},
		"role":             {"student"},
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "このメールアドレスは既に登録されています", str(t, out["alert"]))
}

func TestSignupConfirmAndStudy(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)

	_, out := h.post(t, c, "/signup", url.Values{
		"full_name":        {"新しい学習者"},
		"email":            {"new@example.com"},
		"password":         {"password123"},
		"confirm_password": {"password123"},
		"role":             {"student"},
	})
	target := str(t, out["navigate"])
	assert.Equal(t, "/email-confirmation-pending?email=new%40example.com", target)

	resp, body := h.get(t, c, target)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "new@example.com")

	resp, _ = h.get(t, c, "/study")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode, "still anonymous before confirming")

	mail, ok := h.backend.LastMail("new@example.com")
	require.True(t, ok)
	resp, body = h.get(t, c, "/auth/confirm?token_hash="+url.QueryEscape(mail.TokenHash)+"&type=email")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "メールアドレスの確認が完了しました。")

	resp, body = h.get(t, c, "/study")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "新しい学習者")
}

func TestConfirmRejectsWrongType(t *testing.T) {
	h := newHarness(t, Options{})
	resp, body := h.get(t, h.browser(t), "/auth/confirm?token_hash=abc&type=recovery")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body, "無効な確認リンクです。")
}

func TestLogoutReturnsToAnonymous(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)
	h.login(t, c, "confirmed@example.com")

	status, out := h.post(t, c, "/logout", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/login", str(t, out["navigate"]))

	resp, _ := h.get(t, c, "/profile")
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
}

func TestProfileUpdate(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)
	h.login(t, c, "confirmed@example.com")

	status, out := h.post(t, c, "/profile", url.Values{"full_name": {""}})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, out, "field_errors")

	status, out = h.post(t, c, "/profile", url.Values{"full_name": {"改名した学習者"}, "learning_level": {"N4"}})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "/profile", str(t, out["navigate"]))

	_, body := h.get(t, c, "/profile")
	assert.Contains(t, body, "改名した学習者")
	assert.Contains(t, body, "N4")
}

func TestResetPassword(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)

	_, out := h.post(t, c, "/reset-password", url.Values{"email": {"confirmed@example.com"}})
	assert.Equal(t, "/reset-password?sent=1", str(t, out["navigate"]))
	mail, ok := h.backend.LastMail("confirmed@example.com")
	require.True(t, ok)
	assert.Equal(t, "recovery", string(mail.Type))

	_, body := h.get(t, c, "/reset-password?sent=1")
	assert.Contains(t, body, msgResetSent)

	status, out := h.post(t, c, "/reset-password", url.Values{"password": {"newpassword1"}, "confirm_password": {"newpassword1"}})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, msgPasswordLogin, str(t, out["alert"]))
}

func TestUpdatePasswordWhileSignedIn(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)
	h.login(t, c, "confirmed@example.com")

	_, out := h.post(t, c, "/reset-password", url.Values{"password": {"newpassword1"}, "confirm_password": {"newpassword1"}})
	assert.Equal(t, "/profile", str(t, out["navigate"]))

	other := h.browser(t)
	status, out := h.post(t, other, "/login", url.Values{"email": {"confirmed@example.com"}, "password": {"newpassword1"}})
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, out, "navigate")
}

func TestJSONFormBody(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)
	resp, err := c.Post(h.srv.URL+"/login", "application/json",
		strings.NewReader(`{"email":"confirmed@example.com","password":"password123"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTestModeQueryBindsTestBackend(t *testing.T) {
	empty := openBackend(t, false)
	seeded := openBackend(t, true)
	cfg := tokutei.DefaultConfig()
	cfg.Session.IdleTTL = 0
	e, err := tokutei.New().WithConfig(cfg).WithBackend(empty).WithTestBackend(seeded).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	srv := httptest.NewServer(New(e, Options{AllowTestMode: true}))
	t.Cleanup(srv.Close)
	h := &harness{srv: srv, engine: e, backend: seeded}

	regular := h.browser(t)
	status, _ := h.post(t, regular, "/login", url.Values{"email": {"confirmed@example.com"}, "password": {"password123"}})
	assert.Equal(t, http.StatusBadRequest, status)

	tester := h.browser(t)
	resp, _ := h.get(t, tester, "/login?testMode=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	h.login(t, tester, "confirmed@example.com")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t, Options{})
	c := h.browser(t)
	h.login(t, c, "confirmed@example.com")

	resp, body := h.get(t, c, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var health healthResponse
	require.NoError(t, json.Unmarshal([]byte(body), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Stores)

	resp, body = h.get(t, c, "/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "tokutei_login_success_total 1")
}

func TestRequestIDEchoed(t *testing.T) {
	h := newHarness(t, Options{})
	req, err := http.NewRequest(http.MethodGet, h.srv.URL+"/login", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "req-123")
	resp, err := h.browser(t).Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get("X-Request-ID"))
}

func TestSafeRedirect(t *testing.T) {
	cases := map[string]string{
		"":                 "/",
		"/study":           "/study",
		"//evil.com":       "/",
		"/\\evil.com":      "/",
		"https://evil.com": "/",
	}
	for in, want := range cases {
		assert.Equal(t, want, safeRedirect(in, "/"), in)
	}
}

func TestActionErrorStatus(t *testing.T) {
	cases := []struct {
		err    error
		status int
		alert  string
	}{
		{tokutei.ErrSuperseded, http.StatusConflict, msgSuperseded},
		{tokutei.ErrStoreClosed, http.StatusServiceUnavailable, msgUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError, msgUnexpected},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		respondActionError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code, tc.err.Error())
		var got formResult
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
		assert.Equal(t, tc.alert, got.Alert)
		assert.Empty(t, got.Navigate)
	}
}

func TestLoginThrottled(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	h := newHarness(t, Options{Limiter: rate.New(rdb, rate.Config{MaxAttempts: 2, Window: time.Minute})})
	c := h.browser(t)

	bad := url.Values{"email": {"confirmed@example.com"}, "password": {"wrongpassword"}}
	for i := 0; i < 2; i++ {
		status, _ := h.post(t, c, "/login", bad)
		require.Equal(t, http.StatusBadRequest, status)
	}

	status, out := h.post(t, c, "/login", url.Values{"email": {"confirmed@example.com"}, "password": {"password123"}})
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, msgTooMany, str(t, out["alert"]))

	mr.FastForward(2 * time.Minute)
	h.login(t, c, "confirmed@example.com")
}
