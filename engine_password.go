package charityauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/charityauth/internal/flows"
	"github.com/MrEthical07/charityauth/otp"
)

// ChangePassword replaces the password of accountID after checking the
// current one. The refresh token and every trusted device are cleared.
func (e *Engine) ChangePassword(ctx context.Context, accountID, oldPassword, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}

	return flows.RunChangePassword(ctx, accountID, oldPassword, newPassword, flows.ChangePasswordDeps{
		LoadAccount: e.loadRecord,
		VerifyPassword: func(plain, hash string) bool {
			return e.verifyPassword(ctx, plain, hash)
		},
		ValidatePassword: e.changePolicy.Validate,
		HashPassword: func(plain string) (string, error) {
			return e.hashPassword(ctx, plain)
		},
		ReplaceCredentials: e.replaceCredentials,
		NotifyChanged: func(ctx context.Context, acc flows.AccountRecord) error {
			return e.deliver(ctx, Notification{
				Kind:      NotifyPasswordChanged,
				Audience:  AudienceAccount,
				AccountID: acc.ID,
				Email:     acc.Email,
				Phone:     acc.Phone,
			})
		},
		MetricInc: e.flowMetric,
		EmitAudit: e.flowAudit,
		Warn:      e.warn,
		Metrics: flows.ChangePasswordMetrics{
			Success:    int(MetricPasswordChangeSuccess),
			InvalidOld: int(MetricPasswordChangeInvalidOld),
		},
		Events: flows.ChangePasswordEvents{
			Success: auditEventPasswordChanged,
			Failure: auditEventPasswordChangeFailure,
		},
		Errors: flows.ChangePasswordErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
		},
	})
}

// replaceCredentials stores hash and signs the account out everywhere.
func (e *Engine) replaceCredentials(ctx context.Context, accountID, hash string) error {
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		a.PasswordHash = hash
		a.RefreshToken = ""
		a.RefreshTokenExpires = nil
		a.TrustedDevices = nil
		a.UpdatedAt = e.now()
		return nil
	})
	return storeError(err)
}

// RequestPasswordReset sends a reset code to phone. It returns nil for
// unknown phones so callers cannot enumerate accounts; only throttling and
// backend failures surface.
func (e *Engine) RequestPasswordReset(ctx context.Context, phone string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	phone = otp.Normalize(phone)
	if phone == "" {
		return ErrInvalidInput
	}

	if err := limiterError(e.otpLimiter.CheckRequest(ctx, string(otp.PurposePasswordReset), phone, clientIPFromContext(ctx))); err != nil {
		if errors.Is(err, ErrOTPRequestRateLimited) {
			e.metricInc(MetricOTPRateLimited)
		}
		e.emitAudit(ctx, auditEventPasswordResetRequested, false, "", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetRequest)
	acc, err := e.store.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequested, false, "", err, nil)
			return nil
		}
		return storeError(err)
	}

	err = e.sendOTP(ctx, acc.Phone, otp.PurposePasswordReset)
	switch {
	case err == nil:
	case errors.Is(err, ErrOTPAlreadySent), errors.Is(err, ErrOTPDelivery):
		e.warn("password reset code not sent", "account_id", acc.ID, "error", err)
	default:
		return err
	}

	e.emitAudit(ctx, auditEventPasswordResetRequested, true, acc.ID, nil, nil)
	return nil
}

// ResetPassword sets a new password using a code from RequestPasswordReset.
// An unknown phone fails like a wrong code.
func (e *Engine) ResetPassword(ctx context.Context, phone, code, newPassword string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.changePolicy.Validate(newPassword); err != nil {
		return err
	}

	fail := func(accountID string, err error) error {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, accountID, err, nil)
		return err
	}

	acc, err := e.store.GetByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return fail("", ErrInvalidOTP)
		}
		return storeError(err)
	}

	if err := e.verifyOTP(ctx, acc.Phone, code, otp.PurposePasswordReset); err != nil {
		return fail(acc.ID, err)
	}

	hash, err := e.hashPassword(ctx, newPassword)
	if err != nil {
		return err
	}
	if _, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		a.PasswordHash = hash
		a.RefreshToken = ""
		a.RefreshTokenExpires = nil
		a.TrustedDevices = nil
		a.FailedLoginAttempts = 0
		a.LockedUntil = nil
		a.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return storeError(err)
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetCompleted, true, acc.ID, nil, nil)
	e.notify(ctx, Notification{
		Kind:      NotifyPasswordReset,
		Audience:  AudienceAccount,
		AccountID: acc.ID,
		Email:     acc.Email,
		Phone:     acc.Phone,
	})
	return nil
}
