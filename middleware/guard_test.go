package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokutei-learning/tokutei"
	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/backend/local"
	"github.com/tokutei-learning/tokutei/password"
)

type holdBackend struct {
	*local.Backend
	hold    bool
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

type noProfileBackend struct {
	*local.Backend
}

func (noProfileBackend) GetProfile(context.Context, string, string) (*backend.Profile, error) {
	return nil, backend.ErrProfileNotFound
}

func (h *holdBackend) SignInWithPassword(ctx context.Context, email, pw string) (*backend.AuthSession, error) {
	if h.hold {
		h.once.Do(func() { close(h.started) })
		<-h.release
	}
	return h.Backend.SignInWithPassword(ctx, email, pw)
}

func newEngine(t *testing.T) (*tokutei.Engine, *holdBackend) {
	t.Helper()
	b, err := local.Open(context.Background(), ":memory:", local.Options{Password: password.TestConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	_, err = b.Seed(context.Background(), local.DefaultSeed())
	require.NoError(t, err)

	hb := &holdBackend{Backend: b, started: make(chan struct{}), release: make(chan struct{})}
	cfg := tokutei.DefaultConfig()
	cfg.Session.IdleTTL = 0
	e, err := tokutei.New().WithConfig(cfg).WithBackend(hb).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	return e, hb
}

func storeFor(t *testing.T, e *tokutei.Engine, email string) *tokutei.Store {
	t.Helper()
	s, err := e.Store(context.Background(), "client-"+email)
	require.NoError(t, err)
	if email != "" {
		require.NoError(t, s.Login(context.Background(), email, "password123"))
	}
	return s
}

func fixed(s *tokutei.Store) Resolver {
	return func(*http.Request) (*tokutei.Store, error) { return s, nil }
}

var protected = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	st, ok := StateFromContext(r.Context())
	if !ok {
		http.Error(w, "no state", http.StatusInternalServerError)
		return
	}
	name := st.User.Email
	if st.Profile != nil {
		name = st.Profile.FullName
	}
	_, _ = w.Write([]byte("secret for " + name))
})

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	e, _ := newEngine(t)
	s := storeFor(t, e, "")

	h := RequireSession(fixed(s), Options{Metrics: e.Metrics()})(protected)
	rec := serve(h, "/study?lesson=3")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?from=%2Fstudy%3Flesson%3D3", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.True(t, s.Checked())
	assert.Equal(t, uint64(1), e.Metrics().Value(tokutei.MetricGuardLoginRedirect))
}

func TestGuardStudentOnTeacherPage(t *testing.T) {
	e, _ := newEngine(t)
	s := storeFor(t, e, "confirmed@example.com")

	h := RequireSession(fixed(s), Options{RequiredRole: backend.RoleTeacher, Metrics: e.Metrics()})(protected)
	rec := serve(h, "/teacher")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/unauthorized", rec.Header().Get("Location"))
	assert.NotContains(t, rec.Body.String(), "secret")
	assert.Equal(t, uint64(1), e.Metrics().Value(tokutei.MetricGuardUnauthorizedRedirect))
}

func TestGuardAdmitsMatchingRole(t *testing.T) {
	e, _ := newEngine(t)
	s := storeFor(t, e, "teacher@example.com")

	h := RequireSession(fixed(s), Options{
		AllowedRoles: []backend.Role{backend.RoleStudent, backend.RoleTeacher},
	})(protected)
	rec := serve(h, "/practice")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret for 確認済み講師", rec.Body.String())
}

func TestGuardWithoutProfile(t *testing.T) {
	b, err := local.Open(context.Background(), ":memory:", local.Options{Password: password.TestConfig()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	_, err = b.Seed(context.Background(), local.DefaultSeed())
	require.NoError(t, err)

	cfg := tokutei.DefaultConfig()
	cfg.Session.IdleTTL = 0
	e, err := tokutei.New().WithConfig(cfg).WithBackend(noProfileBackend{b}).Build()
	require.NoError(t, err)
	t.Cleanup(e.Close)
	s := storeFor(t, e, "confirmed@example.com")

	st := s.State()
	require.True(t, st.IsAuthenticated)
	require.Nil(t, st.Profile)

	rec := serve(RequireSession(fixed(s), Options{})(protected), "/profile")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "secret for confirmed@example.com", rec.Body.String())

	rec = serve(RequireSession(fixed(s), Options{RequiredRole: backend.RoleStudent})(protected), "/study")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/unauthorized", rec.Header().Get("Location"))
}

func TestGuardConditionAndCustomPaths(t *testing.T) {
	e, _ := newEngine(t)
	s := storeFor(t, e, "teacher@example.com")

	h := RequireSession(fixed(s), Options{
		Condition:        func(p *backend.Profile) bool { return p != nil && p.MaxStudents != nil && *p.MaxStudents > 100 },
		UnauthorizedPath: "/upgrade",
	})(protected)
	rec := serve(h, "/teacher/classes")

	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/upgrade", rec.Header().Get("Location"))
}

func TestGuardShowsLoadingWhileActionInFlight(t *testing.T) {
	e, hb := newEngine(t)
	s := storeFor(t, e, "confirmed@example.com")

	hb.hold = true
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = s.Login(context.Background(), "teacher@example.com", "password123")
	}()
	<-hb.started

	h := RequireSession(fixed(s), Options{})(protected)
	rec := serve(h, "/study")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LoadingMessage, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	close(hb.release)
	<-done
	rec = serve(h, "/study")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.HasPrefix(rec.Body.String(), "secret for"))
}

func TestGuardWithoutClientMiddleware(t *testing.T) {
	h := RequireSession(nil, Options{})(protected)
	rec := serve(h, "/study")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestClientAssignsCookieAndStore(t *testing.T) {
	e, _ := newEngine(t)

	var seen *tokutei.Store
	h := Client(e, ClientOptions{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := StoreFromContext(r.Context())
		require.True(t, ok)
		seen = s
		assert.NotEmpty(t, tokutei.RequestIDFromContext(r.Context()))
		assert.Equal(t, s.ID(), tokutei.ClientIDFromContext(r.Context()))
	}))

	rec := serve(h, "/")
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, DefaultCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)
	first := seen

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Result().Cookies())
	assert.Same(t, first, seen)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-uuid"})
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Len(t, rec.Result().Cookies(), 1)
	assert.NotSame(t, first, seen)
}

func TestClientAndGuardTogether(t *testing.T) {
	e, _ := newEngine(t)
	h := Client(e, ClientOptions{})(RequireSession(nil, Options{})(protected))

	rec := serve(h, "/profile")
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login?from=%2Fprofile", rec.Header().Get("Location"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "198.51.100.7", clientIP(r))
	r.Header.Set("X-Forwarded-For", "203.0.113.1, 10.0.0.1")
	assert.Equal(t, "203.0.113.1", clientIP(r))
}
