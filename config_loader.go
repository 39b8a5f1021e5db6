package charityauth

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// CHARITYAUTH_JWT_ACCESS_TTL=10m.
const EnvPrefix = "CHARITYAUTH"

// LoadConfig reads a YAML (or any viper-supported) file at path on top of
// DefaultConfig, then applies environment overrides. An empty path reads
// only the environment. jwt.private_key and jwt.public_key are base64.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	var err error
	if cfg.JWT.PrivateKey, err = decodeKey(v.GetString("jwt.private_key")); err != nil {
		return Config{}, fmt.Errorf("jwt.private_key: %w", err)
	}
	if cfg.JWT.PublicKey, err = decodeKey(v.GetString("jwt.public_key")); err != nil {
		return Config{}, fmt.Errorf("jwt.public_key: %w", err)
	}

	return cfg, nil
}

func decodeKey(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(s)
}

// setDefaults registers every key so environment overrides resolve even when
// the file omits them.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("key_prefix", d.KeyPrefix)

	v.SetDefault("jwt.access_ttl", d.JWT.AccessTTL)
	v.SetDefault("jwt.refresh_ttl", d.JWT.RefreshTTL)
	v.SetDefault("jwt.signing_method", d.JWT.SigningMethod)
	v.SetDefault("jwt.private_key", "")
	v.SetDefault("jwt.public_key", "")
	v.SetDefault("jwt.issuer", d.JWT.Issuer)
	v.SetDefault("jwt.audience", d.JWT.Audience)
	v.SetDefault("jwt.leeway", d.JWT.Leeway)
	v.SetDefault("jwt.key_id", d.JWT.KeyID)

	v.SetDefault("password.argon2.memory", d.Password.Argon2.Memory)
	v.SetDefault("password.argon2.time", d.Password.Argon2.Time)
	v.SetDefault("password.argon2.parallelism", d.Password.Argon2.Parallelism)
	v.SetDefault("password.argon2.salt_length", d.Password.Argon2.SaltLength)
	v.SetDefault("password.argon2.key_length", d.Password.Argon2.KeyLength)
	v.SetDefault("password.bcrypt_cost", d.Password.BcryptCost)
	v.SetDefault("password.light_registration", d.Password.LightRegistration)
	v.SetDefault("password.max_concurrent_hashes", d.Password.MaxConcurrentHashes)

	v.SetDefault("otp.digits", d.OTP.Digits)
	v.SetDefault("otp.ttl", d.OTP.TTL)
	v.SetDefault("otp.max_attempts", d.OTP.MaxAttempts)
	v.SetDefault("otp.message_format", d.OTP.MessageFormat)
	v.SetDefault("otp.enable_identifier_throttle", d.OTP.EnableIdentifierThrottle)
	v.SetDefault("otp.enable_ip_throttle", d.OTP.EnableIPThrottle)
	v.SetDefault("otp.max_requests", d.OTP.MaxRequests)
	v.SetDefault("otp.request_window", d.OTP.RequestWindow)

	v.SetDefault("lockout.threshold", d.Lockout.Threshold)
	v.SetDefault("lockout.duration", d.Lockout.Duration)
	v.SetDefault("lockout.min_delay", d.Lockout.MinDelay)
	v.SetDefault("lockout.max_delay", d.Lockout.MaxDelay)

	v.SetDefault("device.enabled", d.Device.Enabled)

	v.SetDefault("two_factor.issuer", d.TwoFactor.Issuer)
	v.SetDefault("two_factor.backup_code_count", d.TwoFactor.BackupCodeCount)
	v.SetDefault("two_factor.setup_ttl", d.TwoFactor.SetupTTL)
	v.SetDefault("two_factor.max_attempts", d.TwoFactor.MaxAttempts)
	v.SetDefault("two_factor.cooldown", d.TwoFactor.Cooldown)

	roles := make([]string, len(d.Registration.AllowedRoles))
	for i, r := range d.Registration.AllowedRoles {
		roles[i] = string(r)
	}
	v.SetDefault("registration.allowed_roles", roles)
	v.SetDefault("registration.enable_identifier_throttle", d.Registration.EnableIdentifierThrottle)
	v.SetDefault("registration.enable_ip_throttle", d.Registration.EnableIPThrottle)
	v.SetDefault("registration.max_attempts", d.Registration.MaxAttempts)
	v.SetDefault("registration.cooldown", d.Registration.Cooldown)
	v.SetDefault("registration.send_phone_code", d.Registration.SendPhoneCode)

	v.SetDefault("fraud.enabled", d.Fraud.Enabled)
	v.SetDefault("fraud.max_accounts_per_ip", d.Fraud.MaxAccountsPerIP)
	v.SetDefault("fraud.max_accounts_per_device", d.Fraud.MaxAccountsPerDevice)
	v.SetDefault("fraud.max_requests_per_window", d.Fraud.MaxRequestsPerWindow)
	v.SetDefault("fraud.request_window", d.Fraud.RequestWindow)
	v.SetDefault("fraud.counter_ttl", d.Fraud.CounterTTL)
	v.SetDefault("fraud.suspicious_threshold", d.Fraud.SuspiciousThreshold)
	v.SetDefault("fraud.captcha_trigger_score", d.Fraud.CaptchaTriggerScore)
	v.SetDefault("fraud.admin_review_score", d.Fraud.AdminReviewScore)
	v.SetDefault("fraud.disposable_domain_hints", d.Fraud.DisposableDomainHints)

	v.SetDefault("captcha.enabled", d.Captcha.Enabled)
	v.SetDefault("captcha.secret", d.Captcha.Secret)
	v.SetDefault("captcha.min_score", d.Captcha.MinScore)
	v.SetDefault("captcha.verify_url", d.Captcha.VerifyURL)
	v.SetDefault("captcha.timeout", d.Captcha.Timeout)
	v.SetDefault("external.enabled", d.External.Enabled)
	v.SetDefault("external.client_ids", d.External.ClientIDs)
	v.SetDefault("external.token_info_url", d.External.TokenInfoURL)
	v.SetDefault("external.timeout", d.External.Timeout)

	v.SetDefault("audit.enabled", d.Audit.Enabled)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.drop_if_full", d.Audit.DropIfFull)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.enable_latency_histograms", d.Metrics.EnableLatencyHistograms)
}
