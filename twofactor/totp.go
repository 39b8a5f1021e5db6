// Package twofactor provides the second authentication factor: RFC 6238 TOTP
// codes from an authenticator app and single-use backup codes.
package twofactor

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// TOTPConfig fixes the code shape shared with authenticator apps.
type TOTPConfig struct {
	Issuer     string
	Period     uint
	Skew       uint
	SecretSize uint
}

// DefaultTOTPConfig returns 30 second steps with ±1 step of drift.
func DefaultTOTPConfig() TOTPConfig {
	return TOTPConfig{
		Issuer:     "CharityPlatform",
		Period:     30,
		Skew:       1,
		SecretSize: 20,
	}
}

// TOTP provisions secrets and verifies codes.
type TOTP struct {
	config TOTPConfig
}

// NewTOTP returns a TOTP helper. Zero fields take defaults.
func NewTOTP(cfg TOTPConfig) (*TOTP, error) {
	def := DefaultTOTPConfig()
	if cfg.Issuer == "" {
		cfg.Issuer = def.Issuer
	}
	if cfg.Period == 0 {
		cfg.Period = def.Period
	}
	if cfg.SecretSize == 0 {
		cfg.SecretSize = def.SecretSize
	}
	if strings.Contains(cfg.Issuer, ":") {
		return nil, errors.New("totp issuer cannot contain a colon")
	}
	return &TOTP{config: cfg}, nil
}

// Key is a freshly provisioned secret with its otpauth URI.
type Key struct {
	Secret string
	URI    string
}

// Generate creates a random base32 secret (RFC 4648, no padding) bound to
// account and returns it with the provisioning URI for QR rendering.
func (t *TOTP) Generate(account string) (Key, error) {
	if strings.TrimSpace(account) == "" {
		return Key{}, errors.New("totp account cannot be empty")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.config.Issuer,
		AccountName: account,
		Period:      t.config.Period,
		SecretSize:  t.config.SecretSize,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return Key{}, err
	}
	return Key{Secret: key.Secret(), URI: key.URL()}, nil
}

// GenerateSecret returns a random base32 secret without binding it to an
// account.
func (t *TOTP) GenerateSecret() (string, error) {
	raw := make([]byte, t.config.SecretSize)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisioningURI rebuilds the otpauth URI for an existing secret.
func (t *TOTP) ProvisioningURI(account, secret string) (string, error) {
	raw, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(strings.ToUpper(secret))
	if err != nil {
		return "", errors.New("totp secret is not base32")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      t.config.Issuer,
		AccountName: account,
		Period:      t.config.Period,
		Secret:      raw,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// Verify checks code against secret at now, accepting the adjacent steps,
// and returns the time step the code belongs to. Callers reject steps at or
// below the last one accepted so a code cannot be replayed inside its window.
// Malformed secrets and codes are simply not valid.
func (t *TOTP) Verify(secret, code string, now time.Time) (step int64, ok bool) {
	code = strings.TrimSpace(code)
	if secret == "" || len(code) != 6 {
		return 0, false
	}

	period := int64(t.config.Period)
	current := now.UTC().Unix() / period
	skew := int64(t.config.Skew)
	for s := current - skew; s <= current+skew; s++ {
		if s < 0 {
			continue
		}
		want, err := t.Code(secret, time.Unix(s*period, 0))
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return s, true
		}
	}
	return 0, false
}

// Step returns the time step containing now.
func (t *TOTP) Step(now time.Time) int64 {
	return now.UTC().Unix() / int64(t.config.Period)
}

// Code returns the current code for secret. Used by tests and tooling.
func (t *TOTP) Code(secret string, now time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, now.UTC(), totp.ValidateOpts{
		Period:    t.config.Period,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
}
