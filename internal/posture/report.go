// Package posture summarises the security-relevant settings of an engine
// configuration so operators can audit a deployment without reading YAML.
package posture

import "time"

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// LightRegistration is true when self registration accepts the relaxed
	// policy.
	LightRegistration bool
}

type Report struct {
	SigningAlgorithm     string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	Argon2               PasswordReport
	LegacyBcryptAccepted bool

	LockoutActive    bool
	LockoutThreshold int
	LockoutDuration  time.Duration

	OTPTTL             time.Duration
	OTPMaxAttempts     int
	OTPThrottleActive  bool
	TwoFactorThrottled bool
	BackupEnabled      bool

	DeviceTrustEnabled    bool
	CaptchaEnabled        bool
	FraudScoringEnabled   bool
	RegistrationThrottled bool
	AuditEnabled          bool
	Warnings              []string
}

type ReportInput struct {
	SigningAlgorithm string
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	Password         PasswordReport
	BcryptCost       int

	LockoutThreshold int
	LockoutDuration  time.Duration

	OTPTTL                time.Duration
	OTPMaxAttempts        int
	OTPIdentifierThrottle bool
	OTPIPThrottle         bool
	TwoFactorMaxAttempts  int
	BackupCodeCount       int

	DeviceTrustEnabled     bool
	CaptchaEnabled         bool
	FraudEnabled           bool
	RegistrationIDThrottle bool
	RegistrationIPThrottle bool
	AuditEnabled           bool
}

const (
	minArgonMemoryKiB = 19 * 1024
	maxAccessTTL      = time.Hour
)

// BuildReport derives the report and flags settings weaker than the
// recommended baseline.
func BuildReport(in ReportInput) Report {
	r := Report{
		SigningAlgorithm:      in.SigningAlgorithm,
		AccessTTL:             in.AccessTTL,
		RefreshTTL:            in.RefreshTTL,
		Argon2:                in.Password,
		LegacyBcryptAccepted:  in.BcryptCost > 0,
		LockoutActive:         in.LockoutThreshold > 0 && in.LockoutDuration > 0,
		LockoutThreshold:      in.LockoutThreshold,
		LockoutDuration:       in.LockoutDuration,
		OTPTTL:                in.OTPTTL,
		OTPMaxAttempts:        in.OTPMaxAttempts,
		OTPThrottleActive:     in.OTPIdentifierThrottle || in.OTPIPThrottle,
		TwoFactorThrottled:    in.TwoFactorMaxAttempts > 0,
		BackupEnabled:         in.BackupCodeCount > 0,
		DeviceTrustEnabled:    in.DeviceTrustEnabled,
		CaptchaEnabled:        in.CaptchaEnabled,
		FraudScoringEnabled:   in.FraudEnabled,
		RegistrationThrottled: in.RegistrationIDThrottle || in.RegistrationIPThrottle,
		AuditEnabled:          in.AuditEnabled,
	}

	warn := func(msg string) { r.Warnings = append(r.Warnings, msg) }
	if in.Password.Memory < minArgonMemoryKiB {
		warn("argon2 memory below 19 MiB")
	}
	if in.Password.LightRegistration {
		warn("self registration accepts the relaxed password policy")
	}
	if !r.LockoutActive {
		warn("account lockout disabled")
	}
	if in.AccessTTL > maxAccessTTL {
		warn("access tokens live longer than one hour")
	}
	if !r.OTPThrottleActive {
		warn("one-time code requests are not throttled")
	}
	if !r.RegistrationThrottled && !in.CaptchaEnabled {
		warn("registration has neither throttling nor captcha")
	}
	if in.SigningAlgorithm == "hs256" {
		warn("hs256 shares the signing key with every verifier")
	}
	return r
}
