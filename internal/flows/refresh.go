package flows

import (
	"context"
	"errors"
	"time"
)

type RefreshMetrics struct {
	Success int
	Failure int
}

type RefreshEvents struct {
	Success string
	Failure string
}

type RefreshErrors struct {
	EngineNotReady      error
	InvalidRefreshToken error
	AccountDisabled     error
}

// RefreshDeps captures refresh rotation dependencies.
type RefreshDeps struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time

	// ParseRefresh returns the account and the device the session was
	// opened on; the device carries into every rotated pair.
	ParseRefresh func(token string) (accountID, deviceID string, err error)
	IssueAccess  func(acc AccountRecord, deviceID string, ttl time.Duration) (string, error)
	IssueRefresh func(accountID, deviceID string, ttl time.Duration) (string, time.Time, error)
	// Rotate swaps old for next only while old is the stored, unexpired
	// token, and returns the account as of the swap.
	Rotate func(ctx context.Context, accountID, old, next string, nextExpiry, now time.Time) (AccountRecord, error)
	// Revoke clears a rotated token when the account can no longer use it.
	Revoke func(ctx context.Context, accountID, token string) error

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics RefreshMetrics
	Events  RefreshEvents
	Errors  RefreshErrors
}

// RunRefresh rotates a refresh token. Exactly one caller presenting a given
// token can succeed; every failure is reported as InvalidRefreshToken.
//
// The two-factor gate is not re-applied: holding a valid refresh token means
// the second factor was already completed when it was issued.
func RunRefresh(ctx context.Context, token string, deps RefreshDeps) (Outcome, error) {
	deps = normalizeRefreshDeps(deps)
	if deps.ParseRefresh == nil || deps.IssueAccess == nil || deps.IssueRefresh == nil || deps.Rotate == nil {
		return Outcome{}, deps.Errors.EngineNotReady
	}

	fail := func(accountID string, err error) (Outcome, error) {
		deps.MetricInc(deps.Metrics.Failure)
		deps.EmitAudit(ctx, deps.Events.Failure, false, accountID, err, nil)
		return Outcome{}, deps.Errors.InvalidRefreshToken
	}

	accountID, deviceID, err := deps.ParseRefresh(token)
	if err != nil || accountID == "" {
		return fail("", err)
	}

	now := deps.Now()
	next, nextExp, err := deps.IssueRefresh(accountID, deviceID, deps.RefreshTTL)
	if err != nil {
		return Outcome{}, err
	}

	acc, err := deps.Rotate(ctx, accountID, token, next, nextExp, now)
	if err != nil {
		return fail(accountID, err)
	}

	if !acc.Active || acc.Status == StatusSuspended || acc.Status == StatusNeedVerification {
		if deps.Revoke != nil {
			if rerr := deps.Revoke(ctx, acc.ID, next); rerr != nil {
				deps.Warn("revoke refresh token", "account_id", acc.ID, "error", rerr)
			}
		}
		return fail(acc.ID, deps.Errors.AccountDisabled)
	}

	access, err := deps.IssueAccess(acc, deviceID, deps.AccessTTL)
	if err != nil {
		return Outcome{}, err
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, acc.ID, nil, nil)
	return Outcome{
		Kind:             OutcomeSuccess,
		AccountID:        acc.ID,
		Roles:            append([]string(nil), acc.Roles...),
		Status:           acc.Status,
		AccessToken:      access,
		RefreshToken:     next,
		AccessExpiresAt:  now.Add(deps.AccessTTL),
		RefreshExpiresAt: nextExp,
	}, nil
}

func normalizeRefreshDeps(deps RefreshDeps) RefreshDeps {
	if deps.Now == nil {
		deps.Now = time.Now
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
	if deps.Errors.InvalidRefreshToken == nil {
		deps.Errors.InvalidRefreshToken = errors.New("invalid refresh token")
	}
	return deps
}
