// Package identity verifies ID tokens from an external identity provider so
// an account can sign in without a local password.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultTokenInfoURL is Google's ID token introspection endpoint.
const DefaultTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"

var (
	// ErrRejected means the token is invalid, expired, or was minted for
	// another client.
	ErrRejected = errors.New("external identity token rejected")
	// ErrUnavailable wraps transport and decoding failures.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Config configures the Google verifier.
type Config struct {
	Enabled bool `mapstructure:"enabled"`
	// ClientIDs lists the OAuth client ids a token may be issued to.
	ClientIDs    []string      `mapstructure:"client_ids"`
	TokenInfoURL string        `mapstructure:"token_info_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func DefaultConfig() Config {
	return Config{
		TokenInfoURL: DefaultTokenInfoURL,
		Timeout:      5 * time.Second,
	}
}

// Identity is what the provider asserts about the token holder.
type Identity struct {
	Provider      string
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

type tokenInfo struct {
	Issuer        string          `json:"iss"`
	Audience      string          `json:"aud"`
	Subject       string          `json:"sub"`
	Email         string          `json:"email"`
	EmailVerified json.RawMessage `json:"email_verified"`
	Name          string          `json:"name"`
	Expiry        string          `json:"exp"`
}

var googleIssuers = map[string]struct{}{
	"accounts.google.com":         {},
	"https://accounts.google.com": {},
}

// Google verifies Google ID tokens through the tokeninfo endpoint.
type Google struct {
	client    *http.Client
	config    Config
	clientIDs map[string]struct{}
	now       func() time.Time
}

// NewGoogle returns a verifier. A nil client uses a client with cfg.Timeout.
func NewGoogle(client *http.Client, cfg Config) (*Google, error) {
	def := DefaultConfig()
	if cfg.TokenInfoURL == "" {
		cfg.TokenInfoURL = def.TokenInfoURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	ids := make(map[string]struct{}, len(cfg.ClientIDs))
	for _, id := range cfg.ClientIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids[id] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil, errors.New("google sign-in requires at least one client id")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Google{client: client, config: cfg, clientIDs: ids, now: time.Now}, nil
}

// WithClock replaces time.Now for the expiry check.
func (g *Google) WithClock(now func() time.Time) *Google {
	if now != nil {
		g.now = now
	}
	return g
}

// VerifyIDToken introspects token and checks audience, issuer and expiry.
// Invalid tokens return ErrRejected; provider failures return ErrUnavailable.
func (g *Google) VerifyIDToken(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, ErrRejected
	}

	endpoint := g.config.TokenInfoURL + "?" + url.Values{"id_token": {token}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		return Identity{}, ErrRejected
	case resp.StatusCode != http.StatusOK:
		return Identity{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var info tokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if _, ok := g.clientIDs[info.Audience]; !ok {
		return Identity{}, ErrRejected
	}
	if _, ok := googleIssuers[info.Issuer]; !ok {
		return Identity{}, ErrRejected
	}
	if info.Subject == "" {
		return Identity{}, ErrRejected
	}
	exp, err := strconv.ParseInt(info.Expiry, 10, 64)
	if err != nil || !time.Unix(exp, 0).After(g.now()) {
		return Identity{}, ErrRejected
	}

	return Identity{
		Provider:      "google",
		Subject:       info.Subject,
		Email:         info.Email,
		EmailVerified: strings.Trim(string(info.EmailVerified), `"`) == "true",
		Name:          info.Name,
	}, nil
}
