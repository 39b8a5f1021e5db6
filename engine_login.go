package charityauth

import (
	"context"
	"time"

	"github.com/MrEthical07/charityauth/device"
	"github.com/MrEthical07/charityauth/internal/flows"
	"github.com/MrEthical07/charityauth/lockout"
)

// Login authenticates an email or phone with a password.
//
// Unknown identifiers and wrong passwords both return ErrInvalidCredentials.
// Every failure waits a randomized delay before returning. A correct password
// may still end in a non-success outcome: two-factor, verification or device
// elevation.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*LoginOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()
	}

	var upgrade bool
	clientIP := firstNonEmpty(in.ClientIP, clientIPFromContext(ctx))

	out, err := flows.RunLogin(ctx, flows.LoginInput{
		Identifier: in.Identifier,
		Password:   in.Password,
		DeviceID:   in.DeviceID,
		ClientIP:   clientIP,
	}, flows.LoginDeps{
		DeviceTrustEnabled: e.config.Device.Enabled,
		Now:                e.now,
		DummyHash:          e.dummyHash,
		FindAccount: func(ctx context.Context, identifier string) (flows.AccountRecord, error) {
			acc, err := e.store.FindByEmailOrPhone(ctx, identifier)
			if err != nil {
				return flows.AccountRecord{}, storeError(err)
			}
			return toRecord(acc), nil
		},
		CheckLocked: func(acc flows.AccountRecord, now time.Time) error {
			return e.guard.Check(lockout.State{FailedAttempts: acc.FailedAttempts, LockedUntil: acc.LockedUntil}, now)
		},
		VerifyPassword: func(plain, hash string) bool {
			if !e.verifyPassword(ctx, plain, hash) {
				return false
			}
			upgrade, _ = e.hasher.NeedsUpgrade(hash)
			return true
		},
		RecordFailure: func(ctx context.Context, accountID string, now time.Time) (bool, error) {
			acc, err := e.store.RecordLoginFailure(ctx, accountID, e.guard.Policy(), now)
			if err != nil {
				return false, storeError(err)
			}
			return acc.LockedUntil != nil && acc.LockedUntil.After(now), nil
		},
		RecordSuccess: func(ctx context.Context, accountID, ip string, now time.Time) error {
			return storeError(e.store.RecordLoginSuccess(ctx, accountID, ip, now))
		},
		Delay: func(ctx context.Context) {
			_ = e.guard.Delay(ctx)
		},
		IsTrustedDevice:    device.IsTrusted,
		StartDeviceElevate: e.startDeviceElevation,
		IssueTokens: func(ctx context.Context, acc flows.AccountRecord, deviceID string) (flows.Outcome, error) {
			return e.issueTokens(ctx, acc, deviceID, false)
		},
		MetricInc: e.flowMetric,
		EmitAudit: e.flowAudit,
		Warn:      e.warn,
		Metrics: flows.LoginMetrics{
			LoginSuccess:          int(MetricLoginSuccess),
			LoginFailure:          int(MetricLoginFailure),
			AccountLocked:         int(MetricAccountLocked),
			AccountDisabled:       int(MetricAccountDisabled),
			DeviceVerificationReq: int(MetricDeviceVerificationRequired),
		},
		Events: flows.LoginEvents{
			LoginSuccess:          auditEventLoginSuccess,
			LoginFailure:          auditEventLoginFailure,
			AccountLocked:         auditEventAccountLocked,
			AccountDisabled:       auditEventAccountDisabled,
			DeviceVerificationReq: auditEventDeviceVerificationPending,
		},
		Errors: flows.LoginErrors{
			EngineNotReady:     ErrEngineNotReady,
			InvalidCredentials: ErrInvalidCredentials,
			AccountLocked:      ErrAccountLocked,
			AccountDisabled:    ErrAccountDisabled,
			AccountNotFound:    ErrAccountNotFound,
			OTPAlreadySent:     ErrOTPAlreadySent,
		},
	})
	if err != nil {
		return nil, err
	}

	if upgrade {
		e.upgradePasswordHash(ctx, out.AccountID, in.Password)
	}
	return toLoginOutcome(out), nil
}

// upgradePasswordHash rehashes a legacy or under-parameterized hash after a
// successful verification. Failures leave the old hash in place.
func (e *Engine) upgradePasswordHash(ctx context.Context, accountID, plain string) {
	hash, err := e.hashPassword(ctx, plain)
	if err != nil {
		e.warn("password rehash failed", "account_id", accountID, "error", err)
		return
	}
	if _, err := e.store.Update(ctx, accountID, func(a *Account) error {
		a.PasswordHash = hash
		a.UpdatedAt = e.now()
		return nil
	}); err != nil {
		e.warn("password rehash not stored", "account_id", accountID, "error", err)
	}
}
