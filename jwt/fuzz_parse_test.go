package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"
)

// FuzzParse feeds arbitrary strings to both parsers. Invalid input must be
// rejected with an error, never a panic.
func FuzzParse(f *testing.F) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	mgr, err := NewManager(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		Issuer:        "fuzz-test",
		Leeway:        30 * time.Second,
		KeyID:         "k1",
	})
	if err != nil {
		f.Fatal(err)
	}

	access, err := mgr.IssueAccess("acc-1", AccessExtras{Roles: []string{"USER"}}, 5*time.Minute)
	if err != nil {
		f.Fatal(err)
	}
	refresh, _, err := mgr.IssueRefresh("acc-1", "", time.Hour)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(access)
	f.Add(refresh)
	f.Add("")
	f.Add("a.b.c")
	f.Add("eyJhbGciOiJub25lIn0.eyJzdWIiOiJ4In0.")

	f.Fuzz(func(t *testing.T, token string) {
		if claims, err := mgr.ParseAccess(token); err == nil && claims.Subject == "" {
			t.Fatal("accepted access token without subject")
		}
		if claims, err := mgr.ParseRefresh(token); err == nil && claims.ID == "" {
			t.Fatal("accepted refresh token without jti")
		}
	})
}
