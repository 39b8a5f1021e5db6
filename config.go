package charityauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/charityauth/captcha"
	"github.com/MrEthical07/charityauth/fraud"
	"github.com/MrEthical07/charityauth/identity"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/password"
)

// Config is the full engine configuration. Start from DefaultConfig and
// override; Build rejects anything Validate rejects.
type Config struct {
	JWT          JWTConfig          `mapstructure:"jwt"`
	Password     PasswordConfig     `mapstructure:"password"`
	OTP          OTPConfig          `mapstructure:"otp"`
	Lockout      lockout.Policy     `mapstructure:"lockout"`
	Device       DeviceConfig       `mapstructure:"device"`
	TwoFactor    TwoFactorConfig    `mapstructure:"two_factor"`
	Registration RegistrationConfig `mapstructure:"registration"`
	Fraud        fraud.Config       `mapstructure:"fraud"`
	Captcha      captcha.Config     `mapstructure:"captcha"`
	External     identity.Config    `mapstructure:"external"`
	Audit        AuditConfig        `mapstructure:"audit"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	// KeyPrefix namespaces every kv key the engine writes.
	KeyPrefix string `mapstructure:"key_prefix"`
}

/*
====================================
JWT CONFIG
====================================
*/

type JWTConfig struct {
	AccessTTL     time.Duration `mapstructure:"access_ttl"`
	RefreshTTL    time.Duration `mapstructure:"refresh_ttl"`
	SigningMethod string        `mapstructure:"signing_method"` // "hs256" (default) or "ed25519"
	// PrivateKey is the HMAC secret or the ed25519 private key. LoadConfig
	// reads it base64 encoded.
	PrivateKey []byte        `mapstructure:"-"`
	PublicKey  []byte        `mapstructure:"-"`
	Issuer     string        `mapstructure:"issuer"`
	Audience   string        `mapstructure:"audience"`
	Leeway     time.Duration `mapstructure:"leeway"`
	KeyID      string        `mapstructure:"key_id"`
}

/*
====================================
PASSWORD CONFIG
====================================
*/

type PasswordConfig struct {
	Argon2 password.Argon2Config `mapstructure:"argon2"`
	// BcryptCost enables verification of legacy bcrypt hashes when > 0.
	BcryptCost int `mapstructure:"bcrypt_cost"`
	// LightRegistration relaxes the minimum length at sign-up only.
	LightRegistration bool `mapstructure:"light_registration"`
	// MaxConcurrentHashes bounds simultaneous hash operations. 0 means no
	// bound.
	MaxConcurrentHashes int `mapstructure:"max_concurrent_hashes"`
}

/*
====================================
OTP CONFIG
====================================
*/

type OTPConfig struct {
	Digits        int           `mapstructure:"digits"`
	TTL           time.Duration `mapstructure:"ttl"`
	MaxAttempts   int           `mapstructure:"max_attempts"`
	MessageFormat string        `mapstructure:"message_format"`

	// Request throttle, on top of the one-live-code rule.
	EnableIdentifierThrottle bool          `mapstructure:"enable_identifier_throttle"`
	EnableIPThrottle         bool          `mapstructure:"enable_ip_throttle"`
	MaxRequests              int           `mapstructure:"max_requests"`
	RequestWindow            time.Duration `mapstructure:"request_window"`
}

type DeviceConfig struct {
	// Enabled turns on the untrusted-device escalation at login.
	Enabled bool `mapstructure:"enabled"`
}

type TwoFactorConfig struct {
	Issuer          string        `mapstructure:"issuer"`
	BackupCodeCount int           `mapstructure:"backup_code_count"`
	SetupTTL        time.Duration `mapstructure:"setup_ttl"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Cooldown        time.Duration `mapstructure:"cooldown"`
}

type RegistrationConfig struct {
	// AllowedRoles may be picked at self registration.
	AllowedRoles             []Role        `mapstructure:"allowed_roles"`
	EnableIdentifierThrottle bool          `mapstructure:"enable_identifier_throttle"`
	EnableIPThrottle         bool          `mapstructure:"enable_ip_throttle"`
	MaxAttempts              int           `mapstructure:"max_attempts"`
	Cooldown                 time.Duration `mapstructure:"cooldown"`
	// SendPhoneCode sends a "register" code to the new account's phone.
	SendPhoneCode bool `mapstructure:"send_phone_code"`
}

type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
}

type MetricsConfig struct {
	Enabled                 bool `mapstructure:"enabled"`
	EnableLatencyHistograms bool `mapstructure:"enable_latency_histograms"`
}

/*
====================================
DEFAULTS
====================================
*/

// DefaultConfig returns production defaults: 15 minute access tokens,
// 30 day refresh tokens, 5 minute codes with 3 guesses and a 5 failure /
// 30 minute lockout. JWT.PrivateKey must still be provided.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "hs256",
			Issuer:        "charity-platform",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Argon2:              password.DefaultArgon2Config(),
			BcryptCost:          12,
			MaxConcurrentHashes: 16,
		},
		OTP: OTPConfig{
			Digits:                   6,
			TTL:                      5 * time.Minute,
			MaxAttempts:              3,
			MessageFormat:            "Your %s verification code is %s",
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			MaxRequests:              5,
			RequestWindow:            15 * time.Minute,
		},
		Lockout: lockout.DefaultPolicy(),
		Device: DeviceConfig{
			Enabled: true,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:          "CharityPlatform",
			BackupCodeCount: 8,
			SetupTTL:        10 * time.Minute,
			MaxAttempts:     5,
			Cooldown:        time.Minute,
		},
		Registration: RegistrationConfig{
			AllowedRoles:             DefaultSelfRegistrationRoles(),
			EnableIdentifierThrottle: true,
			EnableIPThrottle:         true,
			MaxAttempts:              5,
			Cooldown:                 15 * time.Minute,
			SendPhoneCode:            true,
		},
		Fraud:    fraud.DefaultConfig(),
		Captcha:  captcha.DefaultConfig(),
		External: identity.DefaultConfig(),
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		KeyPrefix: "charityauth",
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	out.Registration.AllowedRoles = append([]Role(nil), cfg.Registration.AllowedRoles...)
	out.Fraud.DisposableDomainHints = append([]string(nil), cfg.Fraud.DisposableDomainHints...)
	out.External.ClientIDs = append([]string(nil), cfg.External.ClientIDs...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first unusable setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be longer than AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 {
		return errors.New("JWT Leeway must be >= 0")
	}

	// Password
	if c.Password.Argon2.Memory < 8*1024 {
		return errors.New("Password Argon2 Memory must be >= 8192 KB")
	}
	if c.Password.Argon2.Time < 1 {
		return errors.New("Password Argon2 Time must be >= 1")
	}
	if c.Password.Argon2.Parallelism < 1 {
		return errors.New("Password Argon2 Parallelism must be >= 1")
	}
	if c.Password.Argon2.SaltLength < 16 {
		return errors.New("Password Argon2 SaltLength must be >= 16")
	}
	if c.Password.Argon2.KeyLength < 16 {
		return errors.New("Password Argon2 KeyLength must be >= 16")
	}
	if c.Password.MaxConcurrentHashes < 0 {
		return errors.New("Password MaxConcurrentHashes must be >= 0")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be in [6,10]")
	}
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP MaxAttempts must be > 0")
	}
	if (c.OTP.EnableIdentifierThrottle || c.OTP.EnableIPThrottle) && (c.OTP.MaxRequests <= 0 || c.OTP.RequestWindow <= 0) {
		return errors.New("OTP request throttle requires MaxRequests and RequestWindow > 0")
	}

	if err := c.Lockout.Validate(); err != nil {
		return fmt.Errorf("Lockout: %w", err)
	}

	// Two-factor
	if c.TwoFactor.BackupCodeCount <= 0 {
		return errors.New("TwoFactor BackupCodeCount must be > 0")
	}
	if c.TwoFactor.SetupTTL <= 0 {
		return errors.New("TwoFactor SetupTTL must be > 0")
	}
	if c.TwoFactor.MaxAttempts <= 0 || c.TwoFactor.Cooldown <= 0 {
		return errors.New("TwoFactor MaxAttempts and Cooldown must be > 0")
	}

	// Registration
	for _, r := range c.Registration.AllowedRoles {
		if !r.Valid() {
			return fmt.Errorf("Registration AllowedRoles contains unknown role %q", r)
		}
		if r.IsAdministrative() {
			return fmt.Errorf("Registration AllowedRoles cannot include %s", r)
		}
	}
	if (c.Registration.EnableIdentifierThrottle || c.Registration.EnableIPThrottle) &&
		(c.Registration.MaxAttempts <= 0 || c.Registration.Cooldown <= 0) {
		return errors.New("Registration throttle requires MaxAttempts and Cooldown > 0")
	}

	// Fraud
	if c.Fraud.Enabled {
		if c.Fraud.CaptchaTriggerScore <= 0 || c.Fraud.AdminReviewScore <= 0 {
			return errors.New("Fraud thresholds must be > 0")
		}
		if c.Fraud.CaptchaTriggerScore > c.Fraud.AdminReviewScore {
			return errors.New("Fraud CaptchaTriggerScore must not exceed AdminReviewScore")
		}
	}

	// Captcha
	if c.Captcha.MinScore < 0 || c.Captcha.MinScore > 1 {
		return errors.New("Captcha MinScore must be in [0,1]")
	}

	// External sign-in
	if c.External.Enabled && len(c.External.ClientIDs) == 0 {
		return errors.New("External sign-in requires at least one client id")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
