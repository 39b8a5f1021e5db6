package charityauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/charityauth/device"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/otp"
)

// checkOTPRequest applies the per-identifier and per-IP request throttle.
func (e *Engine) checkOTPRequest(ctx context.Context, purpose otp.Purpose, identifier string) error {
	err := limiterError(e.otpLimiter.CheckRequest(ctx, string(purpose), identifier, clientIPFromContext(ctx)))
	if errors.Is(err, ErrOTPRequestRateLimited) {
		e.metricInc(MetricOTPRateLimited)
		e.emitAudit(ctx, auditEventOTPRequested, false, "", err, func() map[string]string {
			return map[string]string{"purpose": string(purpose)}
		})
	}
	return err
}

// RequestLoginOTP sends a passwordless login code to phone. Unknown phones
// and codes that are still live return nil.
func (e *Engine) RequestLoginOTP(ctx context.Context, phone string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	phone = otp.Normalize(phone)
	if phone == "" {
		return ErrInvalidInput
	}
	if err := e.checkOTPRequest(ctx, otp.PurposeLogin, phone); err != nil {
		return err
	}

	acc, err := e.store.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return storeError(err)
	}
	if !acc.IsActive || acc.Status == StatusSuspended {
		return nil
	}

	if err := e.sendOTP(ctx, acc.Phone, otp.PurposeLogin); err != nil && !errors.Is(err, ErrOTPAlreadySent) {
		return err
	}
	e.emitAudit(ctx, auditEventOTPRequested, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"purpose": string(otp.PurposeLogin)}
	})
	return nil
}

// LoginWithOTP completes a passwordless login. The code proves possession of
// the account phone, so the presenting device is trusted and an SMS second
// factor counts as completed. An authenticator second factor still applies.
func (e *Engine) LoginWithOTP(ctx context.Context, phone, code, deviceID string) (*LoginOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	acc, err := e.store.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricLoginFailure)
			return nil, ErrInvalidOTP
		}
		return nil, storeError(err)
	}

	now := e.now()
	if err := e.guard.Check(lockout.State{FailedAttempts: acc.FailedLoginAttempts, LockedUntil: acc.LockedUntil}, now); err != nil {
		e.metricInc(MetricAccountLocked)
		e.emitAudit(ctx, auditEventOTPLogin, false, acc.ID, err, nil)
		return nil, err
	}

	if err := e.verifyOTP(ctx, acc.Phone, code, otp.PurposeLogin); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventOTPLogin, false, acc.ID, err, nil)
		return nil, err
	}

	if !acc.IsActive || acc.Status == StatusSuspended {
		e.metricInc(MetricAccountDisabled)
		e.emitAudit(ctx, auditEventAccountDisabled, false, acc.ID, ErrAccountDisabled, nil)
		return nil, ErrAccountDisabled
	}

	updated, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		a.PhoneVerified = true
		if e.config.Device.Enabled && device.Fingerprint(deviceID) != "" {
			a.TrustedDevices, _ = device.Trust(a.TrustedDevices, deviceID)
		}
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	if err := e.store.RecordLoginSuccess(ctx, acc.ID, clientIPFromContext(ctx), now); err != nil {
		return nil, storeError(err)
	}

	out, err := e.issueTokens(ctx, toRecord(updated), deviceID, updated.TwoFactorMethod == TwoFactorSMS)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventOTPLogin, true, acc.ID, nil, nil)
	return toLoginOutcome(out), nil
}

// RequestPhoneVerification sends a registration code to the account phone.
func (e *Engine) RequestPhoneVerification(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return storeError(err)
	}
	if acc.Phone == "" {
		return ErrPhoneRequired
	}
	if err := e.checkOTPRequest(ctx, otp.PurposeRegister, acc.Phone); err != nil {
		return err
	}
	if err := e.sendOTP(ctx, acc.Phone, otp.PurposeRegister); err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventOTPRequested, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"purpose": string(otp.PurposeRegister)}
	})
	return nil
}

// VerifyPhone confirms the registration code sent to the account phone.
func (e *Engine) VerifyPhone(ctx context.Context, accountID, code string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return storeError(err)
	}
	if acc.Phone == "" {
		return ErrPhoneRequired
	}

	if err := e.verifyOTP(ctx, acc.Phone, code, otp.PurposeRegister); err != nil {
		e.emitAudit(ctx, auditEventPhoneVerified, false, acc.ID, err, nil)
		return err
	}

	if _, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		a.PhoneVerified = true
		a.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return storeError(err)
	}
	e.emitAudit(ctx, auditEventPhoneVerified, true, acc.ID, nil, nil)
	return nil
}
