package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newHSManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "charity",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return m
}

func TestIssueAndParseAccess(t *testing.T) {
	m := newHSManager(t)

	token, err := m.IssueAccess("acc-1", AccessExtras{Email: "a@x.com", Roles: []string{"DONOR"}, DeviceID: "dev"}, 15*time.Minute)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	claims, err := m.ParseAccess(token)
	if err != nil {
		t.Fatalf("parse access: %v", err)
	}
	if claims.Subject != "acc-1" || claims.Type != TypeAccess || claims.Email != "a@x.com" || claims.DeviceID != "dev" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 1 || claims.Roles[0] != "DONOR" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		t.Fatal("expected iat and exp")
	}

	subject, err := m.Decode(token)
	if err != nil || subject != "acc-1" {
		t.Fatalf("decode: subject=%q err=%v", subject, err)
	}
}

func TestRefreshTokensCarryUniqueJTI(t *testing.T) {
	m := newHSManager(t)

	a, ca, err := m.IssueRefresh("acc-1", "", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	b, cb, err := m.IssueRefresh("acc-1", "", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	if a == b || ca.ID == cb.ID {
		t.Fatal("expected distinct refresh tokens and jti")
	}

	parsed, err := m.ParseRefresh(a)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if parsed.ID != ca.ID || parsed.Subject != "acc-1" || parsed.Type != TypeRefresh {
		t.Fatalf("unexpected refresh claims: %+v", parsed)
	}
}

func TestRefreshTokenCarriesDeviceID(t *testing.T) {
	m := newHSManager(t)

	token, _, err := m.IssueRefresh("acc-1", "laptop-7", time.Hour)
	if err != nil {
		t.Fatalf("issue refresh: %v", err)
	}
	parsed, err := m.ParseRefresh(token)
	if err != nil {
		t.Fatalf("parse refresh: %v", err)
	}
	if parsed.DeviceID != "laptop-7" {
		t.Fatalf("device id = %q, want laptop-7", parsed.DeviceID)
	}
}

func TestTokenTypesAreNotInterchangeable(t *testing.T) {
	m := newHSManager(t)

	access, _ := m.IssueAccess("acc-1", AccessExtras{}, time.Minute)
	refresh, _, _ := m.IssueRefresh("acc-1", "", time.Hour)

	if _, err := m.ParseRefresh(access); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected access token to be rejected as refresh, got %v", err)
	}
	if _, err := m.ParseAccess(refresh); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected refresh token to be rejected as access, got %v", err)
	}
}

func TestExpiredTokenIsInvalid(t *testing.T) {
	m := newHSManager(t)
	issuedAt := time.Now().Add(-time.Hour)
	m.WithClock(func() time.Time { return issuedAt })

	token, err := m.IssueAccess("acc-1", AccessExtras{}, time.Minute)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}

	m.WithClock(time.Now)
	if _, err := m.Decode(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expired token to be invalid, got %v", err)
	}
}

func TestSignatureMismatchIsInvalid(t *testing.T) {
	m := newHSManager(t)
	other, err := NewManager(Config{
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "charity",
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	token, _ := other.IssueAccess("acc-1", AccessExtras{}, time.Minute)
	if _, err := m.ParseAccess(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected signature mismatch to be invalid, got %v", err)
	}
	if _, err := m.Decode("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected malformed token to be invalid, got %v", err)
	}
}

func TestParseRejectsWrongAlgorithm(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{SigningMethod: MethodEd25519, PrivateKey: priv})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	claims := AccessClaims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acc-1",
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret-0000"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	if _, err := m.ParseAccess(token); err == nil {
		t.Fatal("expected wrong algorithm to be rejected")
	}
}

func TestParseEnforcesIssuerAndAudience(t *testing.T) {
	_, priv := newEdKeys(t)
	m, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "charity",
		Audience:      "api",
		Leeway:        30 * time.Second,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	good, err := m.IssueAccess("acc-1", AccessExtras{}, time.Minute)
	if err != nil {
		t.Fatalf("issue access: %v", err)
	}
	if _, err := m.ParseAccess(good); err != nil {
		t.Fatalf("expected valid token to parse: %v", err)
	}

	wrongIssuer := AccessClaims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acc-1",
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	bad, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongIssuer).SignedString(priv)
	if _, err := m.ParseAccess(bad); err == nil {
		t.Fatal("expected wrong issuer to fail")
	}

	wrongAudience := AccessClaims{Type: TypeAccess, RegisteredClaims: gjwt.RegisteredClaims{
		Subject:   "acc-1",
		Issuer:    "charity",
		Audience:  gjwt.ClaimStrings{"other-api"},
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	bad, _ = gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, wrongAudience).SignedString(priv)
	if _, err := m.ParseAccess(bad); err == nil {
		t.Fatal("expected wrong audience to fail")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256, PrivateKey: []byte("short")}); err == nil {
		t.Fatal("expected short hs256 key to be rejected")
	}
	if _, err := NewManager(Config{SigningMethod: "rs256"}); err == nil {
		t.Fatal("expected unsupported method to be rejected")
	}
	if _, err := NewManager(Config{SigningMethod: MethodEd25519}); err == nil {
		t.Fatal("expected missing ed25519 key to be rejected")
	}
}
