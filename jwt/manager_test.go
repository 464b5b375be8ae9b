package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newHSManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("local-secret-local-secret"), Issuer: "tokutei-local"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueAndParseRoundTrip(t *testing.T) {
	m := newHSManager(t)
	now := time.Now()

	token, exp, err := m.Issue("user-1", "a@example.com", "sid-1", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !exp.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected expiry %v", exp)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if claims.Subject != "user-1" || claims.Email != "a@example.com" || claims.SessionID != "sid-1" {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if claims.Role != Audience {
		t.Fatalf("expected role %q, got %q", Audience, claims.Role)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	m := newHSManager(t)
	token, _, err := m.Issue("user-1", "a@example.com", "sid-1", time.Now().Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	m, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "user-1",
		Audience:  gjwt.ClaimStrings{Audience},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}

	good, _, err := m.Issue("user-1", "", "sid", time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Parse(good); err != nil {
		t.Fatalf("expected ed25519 token to parse: %v", err)
	}
}

func TestParseRejectsForeignIssuer(t *testing.T) {
	m := newHSManager(t)
	other, err := NewManager(Config{AccessTTL: time.Hour, SigningMethod: MethodHS256, PrivateKey: []byte("local-secret-local-secret"), Issuer: "someone-else"})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	token, _, err := other.Issue("user-1", "", "sid", time.Now())
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := m.Parse(token); err == nil {
		t.Fatal("expected foreign issuer to be rejected")
	}
}

func TestPeekExpiryWithoutKey(t *testing.T) {
	m := newHSManager(t)
	now := time.Now().Truncate(time.Second)
	token, exp, err := m.Issue("user-1", "", "sid", now)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := PeekExpiry(token)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if !got.Equal(exp) {
		t.Fatalf("expected %v, got %v", exp, got)
	}
	if _, err := PeekExpiry("not-a-token"); err == nil {
		t.Fatal("expected malformed token to fail")
	}
}

func TestNewManagerValidation(t *testing.T) {
	cases := []Config{
		{AccessTTL: 0, SigningMethod: MethodHS256, PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256},
		{AccessTTL: time.Minute, SigningMethod: "rs256", PrivateKey: []byte("k")},
		{AccessTTL: time.Minute, SigningMethod: MethodHS256, PrivateKey: []byte("k"), Leeway: time.Hour},
	}
	for i, cfg := range cases {
		if _, err := NewManager(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestBearer(t *testing.T) {
	if got := Bearer("Bearer abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
	if got := Bearer("abc"); got != "abc" {
		t.Fatalf("got %q", got)
	}
}
