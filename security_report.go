package charityauth

import "github.com/MrEthical07/charityauth/internal/posture"

// SecurityReport is a read-only summary of the engine's security settings,
// returned by [Engine.SecurityReport]. Warnings lists settings weaker than
// the recommended baseline.
type SecurityReport = posture.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	cfg := e.config

	return posture.BuildReport(posture.ReportInput{
		SigningAlgorithm: cfg.JWT.SigningMethod,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		Password: posture.PasswordReport{
			Memory:            cfg.Password.Argon2.Memory,
			Time:              cfg.Password.Argon2.Time,
			Parallelism:       cfg.Password.Argon2.Parallelism,
			SaltLength:        cfg.Password.Argon2.SaltLength,
			KeyLength:         cfg.Password.Argon2.KeyLength,
			LightRegistration: cfg.Password.LightRegistration,
		},
		BcryptCost:             cfg.Password.BcryptCost,
		LockoutThreshold:       cfg.Lockout.Threshold,
		LockoutDuration:        cfg.Lockout.Duration,
		OTPTTL:                 cfg.OTP.TTL,
		OTPMaxAttempts:         cfg.OTP.MaxAttempts,
		OTPIdentifierThrottle:  cfg.OTP.EnableIdentifierThrottle,
		OTPIPThrottle:          cfg.OTP.EnableIPThrottle,
		TwoFactorMaxAttempts:   cfg.TwoFactor.MaxAttempts,
		BackupCodeCount:        cfg.TwoFactor.BackupCodeCount,
		DeviceTrustEnabled:     cfg.Device.Enabled,
		CaptchaEnabled:         cfg.Captcha.Enabled,
		FraudEnabled:           cfg.Fraud.Enabled,
		RegistrationIDThrottle: cfg.Registration.EnableIdentifierThrottle,
		RegistrationIPThrottle: cfg.Registration.EnableIPThrottle,
		AuditEnabled:           cfg.Audit.Enabled,
	})
}
