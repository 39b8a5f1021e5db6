package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

type LoginInput struct {
	Identifier string
	Password   string
	DeviceID   string
	ClientIP   string
}

type LoginMetrics struct {
	LoginSuccess          int
	LoginFailure          int
	AccountLocked         int
	AccountDisabled       int
	DeviceVerificationReq int
}

type LoginEvents struct {
	LoginSuccess          string
	LoginFailure          string
	AccountLocked         string
	AccountDisabled       string
	DeviceVerificationReq string
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady     error
	InvalidCredentials error
	AccountLocked      error
	AccountDisabled    error
	AccountNotFound    error
	OTPAlreadySent     error
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	DeviceTrustEnabled bool
	Now                func() time.Time

	// DummyHash is verified against when no real hash exists, so unknown
	// identifiers cost the same hashing work as wrong passwords.
	DummyHash string

	FindAccount    func(ctx context.Context, identifier string) (AccountRecord, error)
	CheckLocked    func(acc AccountRecord, now time.Time) error
	VerifyPassword func(password, hash string) bool
	// RecordFailure counts one failure atomically. It returns the
	// AccountLocked error, counting nothing, when a lock is already in force.
	RecordFailure func(ctx context.Context, accountID string, now time.Time) (locked bool, err error)
	// RecordSuccess returns the AccountLocked error when a concurrent failure
	// locked the account after it was read.
	RecordSuccess      func(ctx context.Context, accountID, ip string, now time.Time) error
	Delay              func(ctx context.Context)
	IsTrustedDevice    func(trusted []string, deviceID string) bool
	StartDeviceElevate func(ctx context.Context, acc AccountRecord, deviceID string) error
	IssueTokens        func(ctx context.Context, acc AccountRecord, deviceID string) (Outcome, error)

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics LoginMetrics
	Events  LoginEvents
	Errors  LoginErrors
}

// RunLogin authenticates a password login. Every failure path waits for the
// randomized delay before returning, and unknown identifiers fail exactly like
// wrong passwords.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (Outcome, error) {
	deps = normalizeLoginDeps(deps)
	if deps.FindAccount == nil || deps.VerifyPassword == nil || deps.RecordFailure == nil ||
		deps.RecordSuccess == nil || deps.IssueTokens == nil {
		return Outcome{}, deps.Errors.EngineNotReady
	}

	fail := func(accountID string, event string, metric int, err error) (Outcome, error) {
		deps.MetricInc(metric)
		deps.EmitAudit(ctx, event, false, accountID, err, nil)
		deps.Delay(ctx)
		return Outcome{}, err
	}

	identifier := strings.TrimSpace(in.Identifier)
	if identifier == "" || in.Password == "" {
		return fail("", deps.Events.LoginFailure, deps.Metrics.LoginFailure, deps.Errors.InvalidCredentials)
	}

	acc, err := deps.FindAccount(ctx, identifier)
	if err != nil {
		if errors.Is(err, deps.Errors.AccountNotFound) {
			deps.burnHash(in.Password)
			return fail("", deps.Events.LoginFailure, deps.Metrics.LoginFailure, deps.Errors.InvalidCredentials)
		}
		return Outcome{}, err
	}

	now := deps.Now()
	if err := deps.CheckLocked(acc, now); err != nil {
		return fail(acc.ID, deps.Events.AccountLocked, deps.Metrics.AccountLocked, err)
	}

	var verified bool
	if acc.PasswordHash == "" {
		deps.burnHash(in.Password)
	} else {
		verified = deps.VerifyPassword(in.Password, acc.PasswordHash)
	}
	if !verified {
		locked, err := deps.RecordFailure(ctx, acc.ID, now)
		if errors.Is(err, deps.Errors.AccountLocked) {
			return fail(acc.ID, deps.Events.AccountLocked, deps.Metrics.AccountLocked, deps.Errors.AccountLocked)
		}
		if err != nil {
			deps.Warn("record login failure", "account_id", acc.ID, "error", err)
		}
		if locked {
			deps.MetricInc(deps.Metrics.AccountLocked)
			deps.EmitAudit(ctx, deps.Events.AccountLocked, true, acc.ID, nil, nil)
		}
		return fail(acc.ID, deps.Events.LoginFailure, deps.Metrics.LoginFailure, deps.Errors.InvalidCredentials)
	}

	if !acc.Active || acc.Status == StatusSuspended {
		return fail(acc.ID, deps.Events.AccountDisabled, deps.Metrics.AccountDisabled, deps.Errors.AccountDisabled)
	}

	if deps.DeviceTrustEnabled && strings.TrimSpace(in.DeviceID) != "" && acc.Phone != "" &&
		deps.IsTrustedDevice != nil && !deps.IsTrustedDevice(acc.TrustedDevices, in.DeviceID) &&
		deps.StartDeviceElevate != nil {
		if err := deps.StartDeviceElevate(ctx, acc, in.DeviceID); err != nil && !errors.Is(err, deps.Errors.OTPAlreadySent) {
			return Outcome{}, err
		}
		deps.MetricInc(deps.Metrics.DeviceVerificationReq)
		deps.EmitAudit(ctx, deps.Events.DeviceVerificationReq, true, acc.ID, nil, nil)
		return Outcome{
			Kind:      OutcomeDeviceVerificationRequired,
			AccountID: acc.ID,
			Roles:     append([]string(nil), acc.Roles...),
			Status:    acc.Status,
		}, nil
	}

	if err := deps.RecordSuccess(ctx, acc.ID, in.ClientIP, now); err != nil {
		if errors.Is(err, deps.Errors.AccountLocked) {
			return fail(acc.ID, deps.Events.AccountLocked, deps.Metrics.AccountLocked, deps.Errors.AccountLocked)
		}
		return Outcome{}, err
	}
	acc.FailedAttempts = 0
	acc.LockedUntil = nil

	out, err := deps.IssueTokens(ctx, acc, in.DeviceID)
	if err != nil {
		return Outcome{}, err
	}
	deps.MetricInc(deps.Metrics.LoginSuccess)
	deps.EmitAudit(ctx, deps.Events.LoginSuccess, true, acc.ID, nil, nil)
	return out, nil
}

func (deps LoginDeps) burnHash(password string) {
	if deps.DummyHash != "" {
		_ = deps.VerifyPassword(password, deps.DummyHash)
	}
}

func normalizeLoginDeps(deps LoginDeps) LoginDeps {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.CheckLocked == nil {
		deps.CheckLocked = func(AccountRecord, time.Time) error { return nil }
	}
	if deps.Delay == nil {
		deps.Delay = noopDelay
	}
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.Warn == nil {
		deps.Warn = noopWarn
	}
	if deps.Errors.EngineNotReady == nil {
		deps.Errors.EngineNotReady = errors.New("engine not initialized")
	}
	if deps.Errors.InvalidCredentials == nil {
		deps.Errors.InvalidCredentials = errors.New("invalid credentials")
	}
	if deps.Errors.AccountDisabled == nil {
		deps.Errors.AccountDisabled = errors.New("account disabled")
	}
	if deps.Errors.AccountLocked == nil {
		deps.Errors.AccountLocked = errors.New("account locked")
	}
	return deps
}
