package charityauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MrEthical07/charityauth/kv"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/otp"
	"github.com/MrEthical07/charityauth/twofactor"
)

func twoFactorSetupKey(accountID string) string { return "tfa_setup:" + accountID }
func twoFactorLoginKey(accountID string) string { return "tfa_login:" + accountID }

// pendingTwoFactor is a setup awaiting confirmation.
type pendingTwoFactor struct {
	Method      TwoFactorMethod        `json:"method"`
	Secret      string                 `json:"secret,omitempty"`
	BackupCodes []twofactor.BackupCode `json:"backup_codes"`
}

// SetupTwoFactor starts enrollment. Nothing changes on the account until
// ConfirmTwoFactor succeeds. For the sms method a confirmation code is sent to
// the account phone.
func (e *Engine) SetupTwoFactor(ctx context.Context, accountID string, method TwoFactorMethod) (*TwoFactorSetup, error) {
	if !e.ready() || e.totp == nil {
		return nil, ErrEngineNotReady
	}
	if method != TwoFactorApp && method != TwoFactorSMS {
		return nil, ErrInvalidInput
	}

	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}
	if acc.TwoFactorEnabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if method == TwoFactorSMS && acc.Phone == "" {
		return nil, ErrPhoneRequired
	}

	setup := &TwoFactorSetup{Method: method, ExpiresAt: e.now().Add(e.config.TwoFactor.SetupTTL)}
	pending := pendingTwoFactor{Method: method}

	if method == TwoFactorApp {
		key, err := e.totp.Generate(firstNonEmpty(acc.Email, acc.Phone, acc.ID))
		if err != nil {
			return nil, err
		}
		setup.Secret, setup.URI = key.Secret, key.URI
		pending.Secret = key.Secret
	}

	plain, stored, err := twofactor.GenerateBackupCodes(acc.ID, e.config.TwoFactor.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	setup.BackupCodes = plain
	pending.BackupCodes = stored

	raw, err := json.Marshal(pending)
	if err != nil {
		return nil, err
	}
	if err := e.kv.Set(ctx, twoFactorSetupKey(acc.ID), string(raw), e.config.TwoFactor.SetupTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKVUnavailable, err)
	}

	if method == TwoFactorSMS {
		if err := e.sendOTP(ctx, acc.Phone, otp.PurposeTwoFactor); err != nil && !errors.Is(err, ErrOTPAlreadySent) {
			return nil, err
		}
	}

	e.emitAudit(ctx, auditEventTwoFactorSetup, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return setup, nil
}

func (e *Engine) loadPendingTwoFactor(ctx context.Context, accountID string) (pendingTwoFactor, error) {
	raw, err := e.kv.Get(ctx, twoFactorSetupKey(accountID))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return pendingTwoFactor{}, ErrTwoFactorSetupMissing
		}
		return pendingTwoFactor{}, fmt.Errorf("%w: %v", ErrKVUnavailable, err)
	}
	var p pendingTwoFactor
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return pendingTwoFactor{}, ErrTwoFactorSetupMissing
	}
	return p, nil
}

// ConfirmTwoFactor finishes enrollment with a code from the new factor.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, accountID, code string) error {
	if !e.ready() || e.totp == nil {
		return ErrEngineNotReady
	}

	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return storeError(err)
	}
	if acc.TwoFactorEnabled {
		return ErrTwoFactorAlreadyEnabled
	}
	pending, err := e.loadPendingTwoFactor(ctx, acc.ID)
	if err != nil {
		return err
	}
	if err := limiterError(e.twoFactorLimiter.Check(ctx, acc.ID)); err != nil {
		return err
	}

	var step int64
	switch pending.Method {
	case TwoFactorApp:
		var ok bool
		if step, ok = e.totp.Verify(pending.Secret, code, e.now()); !ok {
			err = ErrInvalidTwoFactorCode
		}
	case TwoFactorSMS:
		err = e.verifyOTP(ctx, acc.Phone, code, otp.PurposeTwoFactor)
	default:
		err = ErrTwoFactorSetupMissing
	}
	if err != nil {
		return e.twoFactorFailed(ctx, acc.ID, err)
	}

	if _, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		a.TwoFactorEnabled = true
		a.TwoFactorMethod = pending.Method
		a.TwoFactorSecret = pending.Secret
		a.TwoFactorLastStep = step
		a.BackupCodes = pending.BackupCodes
		a.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return storeError(err)
	}

	if err := e.kv.Delete(ctx, twoFactorSetupKey(acc.ID)); err != nil {
		e.warn("clear two-factor setup", "account_id", acc.ID, "error", err)
	}
	e.resetTwoFactorLimiter(ctx, acc.ID)

	e.metricInc(MetricTwoFactorEnabled)
	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"method": string(pending.Method)}
	})
	e.notify(ctx, Notification{
		Kind:      NotifyTwoFactorEnabled,
		Audience:  AudienceAccount,
		AccountID: acc.ID,
		Email:     acc.Email,
		Phone:     acc.Phone,
	})
	return nil
}

// DisableTwoFactor turns the second factor off. code may be any accepted
// second factor, including a backup code.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, code string) error {
	if !e.ready() || e.totp == nil {
		return ErrEngineNotReady
	}

	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return storeError(err)
	}
	if !acc.TwoFactorEnabled {
		return ErrTwoFactorNotEnabled
	}
	if err := limiterError(e.twoFactorLimiter.Check(ctx, acc.ID)); err != nil {
		return err
	}
	if err := e.verifySecondFactor(ctx, acc, code); err != nil {
		return e.twoFactorFailed(ctx, acc.ID, err)
	}

	if _, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		a.TwoFactorEnabled = false
		a.TwoFactorMethod = ""
		a.TwoFactorSecret = ""
		a.TwoFactorLastStep = 0
		a.BackupCodes = nil
		a.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return storeError(err)
	}
	e.resetTwoFactorLimiter(ctx, acc.ID)

	e.metricInc(MetricTwoFactorDisabled)
	e.emitAudit(ctx, auditEventTwoFactorDisabled, true, acc.ID, nil, nil)
	e.notify(ctx, Notification{
		Kind:      NotifyTwoFactorDisabled,
		Audience:  AudienceAccount,
		AccountID: acc.ID,
		Email:     acc.Email,
		Phone:     acc.Phone,
	})
	return nil
}

// RegenerateBackupCodes replaces every backup code. code must come from the
// primary factor; a backup code cannot mint new backup codes.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, code string) ([]string, error) {
	if !e.ready() || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}
	if !acc.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}
	if err := limiterError(e.twoFactorLimiter.Check(ctx, acc.ID)); err != nil {
		return nil, err
	}
	if err := e.verifyPrimaryFactor(ctx, acc, code); err != nil {
		return nil, e.twoFactorFailed(ctx, acc.ID, err)
	}

	plain, stored, err := twofactor.GenerateBackupCodes(acc.ID, e.config.TwoFactor.BackupCodeCount)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		a.BackupCodes = stored
		a.UpdatedAt = e.now()
		return nil
	}); err != nil {
		return nil, storeError(err)
	}
	e.resetTwoFactorLimiter(ctx, acc.ID)

	e.metricInc(MetricBackupCodeRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesRegenerated, true, acc.ID, nil, nil)
	return plain, nil
}

// CompleteTwoFactorLogin finishes a login that ended in
// OutcomeRequiresTwoFactor. It accepts the SMS code, an authenticator code or
// a backup code. The verification gate still applies afterwards.
func (e *Engine) CompleteTwoFactorLogin(ctx context.Context, in TwoFactorLoginInput) (*LoginOutcome, error) {
	if !e.ready() || e.totp == nil {
		return nil, ErrEngineNotReady
	}

	acc, err := e.store.FindByEmailOrPhone(ctx, strings.TrimSpace(in.Identifier))
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, ErrTwoFactorNotPending
		}
		return nil, storeError(err)
	}
	if !acc.TwoFactorEnabled {
		return nil, ErrTwoFactorNotEnabled
	}

	challengeKey := twoFactorLoginKey(acc.ID)
	if _, err := e.kv.Get(ctx, challengeKey); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrTwoFactorNotPending
		}
		return nil, fmt.Errorf("%w: %v", ErrKVUnavailable, err)
	}

	now := e.now()
	if err := e.guard.Check(lockout.State{FailedAttempts: acc.FailedLoginAttempts, LockedUntil: acc.LockedUntil}, now); err != nil {
		return nil, err
	}
	if !acc.IsActive || acc.Status == StatusSuspended {
		return nil, ErrAccountDisabled
	}
	if err := limiterError(e.twoFactorLimiter.Check(ctx, acc.ID)); err != nil {
		return nil, err
	}

	if err := e.verifySecondFactor(ctx, acc, in.Code); err != nil {
		return nil, e.twoFactorFailed(ctx, acc.ID, err)
	}

	if err := e.kv.Delete(ctx, challengeKey); err != nil {
		e.warn("clear two-factor challenge", "account_id", acc.ID, "error", err)
	}
	e.resetTwoFactorLimiter(ctx, acc.ID)
	if err := e.store.RecordLoginSuccess(ctx, acc.ID, clientIPFromContext(ctx), now); err != nil {
		return nil, storeError(err)
	}

	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventTwoFactorSuccess, true, acc.ID, nil, nil)

	fresh, err := e.store.GetByID(ctx, acc.ID)
	if err != nil {
		return nil, storeError(err)
	}
	out, err := e.issueTokens(ctx, toRecord(fresh), in.DeviceID, true)
	if err != nil {
		return nil, err
	}
	return toLoginOutcome(out), nil
}

// verifyPrimaryFactor checks the enrolled method only.
func (e *Engine) verifyPrimaryFactor(ctx context.Context, acc *Account, code string) error {
	code = strings.TrimSpace(code)
	switch acc.TwoFactorMethod {
	case TwoFactorApp:
		step, ok := e.totp.Verify(acc.TwoFactorSecret, code, e.now())
		if !ok {
			return ErrInvalidTwoFactorCode
		}
		return e.claimTOTPStep(ctx, acc.ID, step)
	case TwoFactorSMS:
		if acc.Phone == "" {
			return ErrPhoneRequired
		}
		return e.verifyOTP(ctx, acc.Phone, code, otp.PurposeTwoFactor)
	default:
		return ErrTwoFactorNotEnabled
	}
}

// claimTOTPStep records step as the newest accepted authenticator step. A step
// at or below the stored one is a replay.
func (e *Engine) claimTOTPStep(ctx context.Context, accountID string, step int64) error {
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		if step <= a.TwoFactorLastStep {
			return ErrTwoFactorCodeReused
		}
		a.TwoFactorLastStep = step
		a.UpdatedAt = e.now()
		return nil
	})
	if errors.Is(err, ErrTwoFactorCodeReused) {
		e.metricInc(MetricTwoFactorReplay)
	}
	return storeError(err)
}

// verifySecondFactor accepts the enrolled method or, for input that is not a
// numeric code, an unused backup code. A matched backup code is consumed.
func (e *Engine) verifySecondFactor(ctx context.Context, acc *Account, code string) error {
	if isNumericCode(code) {
		return e.verifyPrimaryFactor(ctx, acc, code)
	}

	var remaining int
	_, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		if !twofactor.ConsumeBackupCode(a.ID, a.BackupCodes, code, e.now()) {
			return ErrInvalidTwoFactorCode
		}
		a.UpdatedAt = e.now()
		remaining = twofactor.RemainingBackupCodes(a.BackupCodes)
		return nil
	})
	if err != nil {
		return storeError(err)
	}

	e.metricInc(MetricBackupCodeUsed)
	e.emitAudit(ctx, auditEventBackupCodeUsed, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"remaining": fmt.Sprint(remaining)}
	})
	if remaining == 0 {
		e.warn("last backup code used", "account_id", acc.ID)
	}
	return nil
}

func (e *Engine) twoFactorFailed(ctx context.Context, accountID string, err error) error {
	e.metricInc(MetricTwoFactorFailure)
	e.emitAudit(ctx, auditEventTwoFactorFailure, false, accountID, err, nil)
	if lerr := limiterError(e.twoFactorLimiter.RecordFailure(ctx, accountID)); lerr != nil && !errors.Is(lerr, ErrTwoFactorRateLimited) {
		e.warn("record two-factor failure", "account_id", accountID, "error", lerr)
	}
	return err
}

func (e *Engine) resetTwoFactorLimiter(ctx context.Context, accountID string) {
	if err := e.twoFactorLimiter.Reset(ctx, accountID); err != nil {
		e.warn("reset two-factor limiter", "account_id", accountID, "error", err)
	}
}

func isNumericCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || len(code) > 8 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
