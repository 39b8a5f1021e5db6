// Package captcha verifies human-presence tokens submitted with sign-up
// requests.
package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultVerifyURL is Google's reCAPTCHA verification endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// ErrUnavailable wraps transport and decoding failures.
var ErrUnavailable = errors.New("captcha provider unavailable")

// Config configures a reCAPTCHA verifier.
type Config struct {
	Enabled   bool          `mapstructure:"enabled"`
	Secret    string        `mapstructure:"secret"`
	MinScore  float64       `mapstructure:"min_score"`
	VerifyURL string        `mapstructure:"verify_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// DefaultConfig requires a v3 score of at least 0.5.
func DefaultConfig() Config {
	return Config{
		MinScore:  0.5,
		VerifyURL: DefaultVerifyURL,
		Timeout:   5 * time.Second,
	}
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// ReCaptcha verifies tokens against the siteverify API. v2 responses carry
// no score and pass on success alone.
type ReCaptcha struct {
	client *http.Client
	config Config
}

// NewReCaptcha returns a verifier. A nil client uses a client with
// cfg.Timeout.
func NewReCaptcha(client *http.Client, cfg Config) (*ReCaptcha, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("recaptcha secret is required")
	}
	def := DefaultConfig()
	if cfg.VerifyURL == "" {
		cfg.VerifyURL = def.VerifyURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MinScore < 0 || cfg.MinScore > 1 {
		return nil, errors.New("recaptcha min score must be in [0,1]")
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &ReCaptcha{client: client, config: cfg}, nil
}

// Verify reports whether token is valid for clientIP. A rejected token is
// (false, nil); errors are reserved for provider failures.
func (r *ReCaptcha) Verify(ctx context.Context, token, clientIP string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", r.config.Secret)
	form.Set("response", token)
	if clientIP != "" {
		form.Set("remoteip", clientIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.VerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := r.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !body.Success {
		return false, nil
	}
	if body.Score != nil && *body.Score < r.config.MinScore {
		return false, nil
	}
	return true, nil
}

// Static accepts exactly one token. Used in development and tests.
type Static struct {
	Token string
}

// Verify reports whether token equals s.Token.
func (s Static) Verify(_ context.Context, token, _ string) (bool, error) {
	return s.Token != "" && token == s.Token, nil
}
