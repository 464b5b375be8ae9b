package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tokutei-learning/tokutei/backend"
	"github.com/tokutei-learning/tokutei/backend/local"
	"github.com/tokutei-learning/tokutei/password"
)

func newLocal(t *testing.T, opts local.Options) *local.Backend {
	t.Helper()
	opts.Password = password.TestConfig()
	b, err := local.Open(context.Background(), ":memory:", opts)
	if err != nil {
		t.Fatalf("local.Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if _, err := b.Seed(context.Background(), local.DefaultSeed()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return b
}

// failingBackend fails every call with err.
type failingBackend struct {
	backend.Backend
	err error
}

func (f failingBackend) SignUp(context.Context, backend.SignUpParams) (*backend.SignUpResult, error) {
	return nil, f.err
}

func (f failingBackend) SignInWithPassword(context.Context, string, string) (*backend.AuthSession, error) {
	return nil, f.err
}

func (f failingBackend) SignOut(context.Context, string) error { return f.err }

func (f failingBackend) ResetPasswordForEmail(context.Context, string, string) error { return f.err }

func (f failingBackend) VerifyOTP(context.Context, string, backend.OTPType) (*backend.AuthSession, error) {
	return nil, f.err
}

func wantKind(t *testing.T, err error, kind Kind, message string) *Error {
	t.Helper()
	ae, ok := AsError(err)
	if !ok {
		t.Fatalf("expected *auth.Error, got %T %v", err, err)
	}
	if ae.Kind != kind {
		t.Fatalf("expected kind %s, got %s (%q)", kind, ae.Kind, ae.Message)
	}
	if message != "" && ae.Message != message {
		t.Fatalf("expected message %q, got %q", message, ae.Message)
	}
	return ae
}

func TestLoginSuccessFetchesProfile(t *testing.T) {
	c := NewClient(newLocal(t, local.Options{}))
	res, err := c.Login(context.Background(), "confirmed@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User == nil || res.Profile == nil || res.Profile.FullName != "確認済みユーザー" {
		t.Fatalf("unexpected result %+v", res)
	}
	if c.Session() == nil {
		t.Fatal("expected session to be held")
	}
}

func TestLoginErrorMapping(t *testing.T) {
	c := NewClient(newLocal(t, local.Options{}))
	ctx := context.Background()

	_, err := c.Login(ctx, "nonexistent@example.com", "wrongpassword")
	wantKind(t, err, KindInvalidCredentials, "メールアドレスまたはパスワードが正しくありません。")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatal("expected errors.Is to match ErrInvalidCredentials")
	}

	_, err = c.Login(ctx, "unconfirmed@example.com", "password123")
	wantKind(t, err, KindEmailNotConfirmed, "メールアドレスの確認が完了していません。確認メールをご確認ください。")

	raw := NewClient(failingBackend{err: &backend.Error{Status: 429, Message: "Too many requests"}})
	_, err = raw.Login(ctx, "a@example.com", "password123")
	wantKind(t, err, KindUnknown, "Too many requests")

	down := NewClient(failingBackend{err: errors.New("dial tcp: connection refused")})
	_, err = down.Login(ctx, "a@example.com", "password123")
	wantKind(t, err, KindTransport, "ログイン中に予期しないエラーが発生しました")
}

func TestSignupConfirmationRequired(t *testing.T) {
	c := NewClient(newLocal(t, local.Options{}), WithRedirectBaseURL("http://localhost:8080/"))
	res, err := c.Signup(context.Background(), SignupRequest{
		Email:    "new@example.com",
		Password: "password123",
		FullName: "新規ユーザー",
		Role:     backend.RoleStudent,
	})
	if res != nil {
		t.Fatalf("expected no result, got %+v", res)
	}
	ae := wantKind(t, err, KindConfirmationRequired, "メールアドレスに確認リンクを送信しました。確認後にログインしてください。")
	if ae.Type() != "email_confirmation_required" || ae.Fatal() {
		t.Fatalf("unexpected tag %q fatal=%v", ae.Type(), ae.Fatal())
	}
	if c.Session() != nil {
		t.Fatal("no session expected before confirmation")
	}
}

func TestSignupAutoConfirmSignsIn(t *testing.T) {
	c := NewClient(newLocal(t, local.Options{AutoConfirm: true}))
	res, err := c.Signup(context.Background(), SignupRequest{
		Email:            "sensei@example.com",
		Password:         "password123",
		FullName:         "先生",
		Role:             backend.RoleTeacher,
		OrganizationName: "学校",
	})
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if res.Profile == nil || res.Profile.Role != backend.RoleTeacher {
		t.Fatalf("expected teacher profile, got %+v", res.Profile)
	}
}

func TestSignupErrorMapping(t *testing.T) {
	ctx := context.Background()
	c := NewClient(newLocal(t, local.Options{}))

	_, err := c.Signup(ctx, SignupRequest{Email: "confirmed@example.com", Password: "password123", Role: backend.RoleStudent})
	wantKind(t, err, KindAlreadyRegistered, "このメールアドレスは既に登録されています")

	_, err = c.Signup(ctx, SignupRequest{Email: "x@example.com", Password: "short", Role: backend.RoleStudent})
	wantKind(t, err, KindWeakPassword, "パスワードは8文字以上で入力してください")

	_, err = c.Signup(ctx, SignupRequest{Email: "bad", Password: "password123", Role: backend.RoleStudent})
	wantKind(t, err, KindInvalidEmail, "メールアドレスの形式が正しくありません")

	cases := []struct {
		err     error
		kind    Kind
		message string
	}{
		{&backend.Error{Message: "signup is disabled"}, KindSignupDisabled, "ユーザー登録は現在無効になっています"},
		{&backend.Error{Message: "Database error saving new user"}, KindDatabase, "データベースエラー: Database error saving new user"},
		{&backend.Error{Message: "Something odd", Code: "odd"}, KindUnknown, "Something odd (コード: odd)"},
		{&backend.Error{}, KindUnknown, "アカウント作成に失敗しました (コード: unknown)"},
		{errors.New("EOF"), KindTransport, "アカウント作成中に予期しないエラーが発生しました"},
	}
	for _, tc := range cases {
		_, err := NewClient(failingBackend{err: tc.err}).Signup(ctx, SignupRequest{Email: "a@example.com"})
		wantKind(t, err, tc.kind, tc.message)
	}
}

func TestLogoutDropsSessionEvenOnFailure(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, local.Options{})
	c := NewClient(b)
	if _, err := c.Login(ctx, "confirmed@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	var events []Event
	unsubscribe := c.OnAuthStateChange(func(e Event, s *backend.AuthSession) {
		events = append(events, e)
	})
	defer unsubscribe()

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if c.Session() != nil {
		t.Fatal("session should be cleared")
	}
	if len(events) != 1 || events[0] != EventSignedOut {
		t.Fatalf("expected one SIGNED_OUT event, got %v", events)
	}

	failing := NewClient(failingBackend{err: &backend.Error{Status: 500, Message: "boom"}},
		WithSession(&backend.AuthSession{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}))
	err := failing.Logout(ctx)
	wantKind(t, err, KindUnknown, "ログアウト中にエラーが発生しました")
	if failing.Session() != nil {
		t.Fatal("session should be cleared after failed logout")
	}
}

func TestGetCurrentUserAndProfileUpdate(t *testing.T) {
	ctx := context.Background()
	c := NewClient(newLocal(t, local.Options{}))

	if _, err := c.GetCurrentUser(ctx); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected not authenticated, got %v", err)
	}

	res, err := c.Login(ctx, "confirmed@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	name := "新しい名前"
	if _, err := c.UpdateProfile(ctx, res.User.ID, backend.ProfileUpdate{FullName: &name}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}
	cur, err := c.GetCurrentUser(ctx)
	if err != nil {
		t.Fatalf("GetCurrentUser: %v", err)
	}
	if cur.Profile == nil || cur.Profile.FullName != name {
		t.Fatalf("expected updated name, got %+v", cur.Profile)
	}

	_, err = c.UpdateProfile(ctx, "someone-else", backend.ProfileUpdate{FullName: &name})
	wantKind(t, err, KindProfileNotFound, "プロフィールが見つかりません")
}

func TestGetCurrentUserDropsRejectedSession(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, local.Options{})
	c := NewClient(b)
	res, err := c.Login(ctx, "confirmed@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if err := b.SignOut(ctx, res.Session.AccessToken); err != nil {
		t.Fatalf("SignOut: %v", err)
	}

	_, err = c.GetCurrentUser(ctx)
	wantKind(t, err, KindNotAuthenticated, "")
	if c.Session() != nil {
		t.Fatal("rejected session should be dropped")
	}
}

func TestGetSessionRefreshesExpiredToken(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, local.Options{})
	sess, err := b.SignInWithPassword(ctx, "confirmed@example.com", "password123")
	if err != nil {
		t.Fatalf("SignInWithPassword: %v", err)
	}

	c := NewClient(b, WithSession(sess), WithClock(func() time.Time { return sess.ExpiresAt.Add(time.Second) }))
	var refreshed bool
	c.OnAuthStateChange(func(e Event, _ *backend.AuthSession) {
		refreshed = refreshed || e == EventTokenRefreshed
	})

	got, err := c.GetSession(ctx)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.RefreshToken == sess.RefreshToken || !refreshed {
		t.Fatalf("expected rotated session, got %+v refreshed=%v", got, refreshed)
	}
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, local.Options{})
	c := NewClient(b)

	_, err := c.VerifyEmail(ctx, "whatever", backend.OTPRecovery)
	wantKind(t, err, KindInvalidLink, "無効な確認リンクです。")

	_, err = c.VerifyEmail(ctx, "unknown-token", backend.OTPEmail)
	wantKind(t, err, KindInvalidLink, "無効な確認リンクです。")

	if _, err := c.Signup(ctx, SignupRequest{Email: "v@example.com", Password: "password123", FullName: "V", Role: backend.RoleStudent}); !errors.Is(err, ErrConfirmationRequired) {
		t.Fatalf("expected confirmation required, got %v", err)
	}
	mail, ok := b.LastMail("v@example.com")
	if !ok {
		t.Fatal("expected confirmation mail")
	}
	res, err := c.VerifyEmail(ctx, mail.TokenHash, backend.OTPEmail)
	if err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	if !res.User.Confirmed() || res.Profile == nil || c.Session() == nil {
		t.Fatalf("expected signed-in confirmed user, got %+v", res)
	}

	expired := NewClient(failingBackend{err: &backend.Error{Status: 403, Message: "Token has expired or is invalid"}})
	_, err = expired.VerifyEmail(ctx, "t", backend.OTPEmail)
	wantKind(t, err, KindTokenExpired, "確認リンクの有効期限が切れています。新しい確認メールをリクエストしてください。")
}

func TestResetPasswordPassThrough(t *testing.T) {
	ctx := context.Background()
	b := newLocal(t, local.Options{})
	c := NewClient(b, WithRedirectBaseURL("http://site"))

	if err := c.ResetPassword(ctx, "confirmed@example.com"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	mail, ok := b.LastMail("confirmed@example.com")
	if !ok || mail.RedirectTo != "http://site/reset-password" {
		t.Fatalf("unexpected mail %+v", mail)
	}

	err := c.ResetPassword(ctx, "not-an-email")
	ae := wantKind(t, err, KindUnknown, "Unable to validate email address: invalid format")
	if ae.Raw != ae.Message {
		t.Fatalf("expected raw pass-through, got %+v", ae)
	}

	down := NewClient(failingBackend{err: context.DeadlineExceeded})
	wantKind(t, down.ResetPassword(ctx, "a@example.com"), KindTransport, "パスワードリセット中に予期しないエラーが発生しました")
}

func TestUpdatePassword(t *testing.T) {
	ctx := context.Background()
	c := NewClient(newLocal(t, local.Options{}))

	_, err := c.UpdatePassword(ctx, "newpassword1")
	wantKind(t, err, KindNotAuthenticated, "")

	if _, err := c.Login(ctx, "confirmed@example.com", "password123"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	_, err = c.UpdatePassword(ctx, "short")
	wantKind(t, err, KindWeakPassword, "パスワードは8文字以上で入力してください")

	if _, err := c.UpdatePassword(ctx, "newpassword1"); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	if _, err := c.Login(ctx, "confirmed@example.com", "newpassword1"); err != nil {
		t.Fatalf("login with new password: %v", err)
	}
}
