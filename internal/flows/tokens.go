package flows

import (
	"context"
	"errors"
	"time"
)

type IssueTokensInput struct {
	Account  AccountRecord
	DeviceID string
	// SecondFactorVerified skips the two-factor gate after a completed
	// second factor.
	SecondFactorVerified bool
}

type IssueTokensMetrics struct {
	TwoFactorRequired    int
	VerificationRequired int
	TokensIssued         int
}

type IssueTokensEvents struct {
	TwoFactorRequired    string
	VerificationRequired string
	TokensIssued         string
}

type IssueTokensErrors struct {
	EngineNotReady error
	OTPAlreadySent error
}

// IssueTokensDeps captures token creation dependencies.
type IssueTokensDeps struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time

	SendTwoFactorCode func(ctx context.Context, phone string) error
	IssueAccess       func(acc AccountRecord, deviceID string, ttl time.Duration) (string, error)
	IssueRefresh      func(accountID, deviceID string, ttl time.Duration) (string, time.Time, error)
	StoreRefresh      func(ctx context.Context, accountID, token string, expires time.Time) error

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics IssueTokensMetrics
	Events  IssueTokensEvents
	Errors  IssueTokensErrors
}

// RunIssueTokens applies the two-factor and verification gates and, when both
// pass, issues a pair and persists the refresh token over any prior one.
func RunIssueTokens(ctx context.Context, in IssueTokensInput, deps IssueTokensDeps) (Outcome, error) {
	deps = normalizeIssueTokensDeps(deps)
	if deps.IssueAccess == nil || deps.IssueRefresh == nil || deps.StoreRefresh == nil {
		return Outcome{}, deps.Errors.EngineNotReady
	}

	acc := in.Account
	out := Outcome{
		AccountID: acc.ID,
		Roles:     append([]string(nil), acc.Roles...),
		Status:    acc.Status,
	}

	if acc.TwoFactorEnabled && !in.SecondFactorVerified {
		out.Kind = OutcomeRequiresTwoFactor
		out.TwoFactorMethod = acc.TwoFactorMethod
		if acc.TwoFactorMethod == TwoFactorSMS && acc.Phone != "" && deps.SendTwoFactorCode != nil {
			if err := deps.SendTwoFactorCode(ctx, acc.Phone); err != nil && !errors.Is(err, deps.Errors.OTPAlreadySent) {
				deps.Warn("two-factor code delivery failed", "account_id", acc.ID, "error", err)
			}
		}
		deps.MetricInc(deps.Metrics.TwoFactorRequired)
		deps.EmitAudit(ctx, deps.Events.TwoFactorRequired, true, acc.ID, nil, func() map[string]string {
			return map[string]string{"method": acc.TwoFactorMethod}
		})
		return out, nil
	}

	if acc.Status == StatusNeedVerification {
		out.Kind = OutcomeRequiresVerification
		deps.MetricInc(deps.Metrics.VerificationRequired)
		deps.EmitAudit(ctx, deps.Events.VerificationRequired, true, acc.ID, nil, nil)
		return out, nil
	}

	now := deps.Now()
	access, err := deps.IssueAccess(acc, in.DeviceID, deps.AccessTTL)
	if err != nil {
		return Outcome{}, err
	}
	refresh, refreshExp, err := deps.IssueRefresh(acc.ID, in.DeviceID, deps.RefreshTTL)
	if err != nil {
		return Outcome{}, err
	}
	if err := deps.StoreRefresh(ctx, acc.ID, refresh, refreshExp); err != nil {
		return Outcome{}, err
	}

	out.Kind = OutcomeSuccess
	out.AccessToken = access
	out.RefreshToken = refresh
	out.AccessExpiresAt = now.Add(deps.AccessTTL)
	out.RefreshExpiresAt = refreshExp

	deps.MetricInc(deps.Metrics.TokensIssued)
	deps.EmitAudit(ctx, deps.Events.TokensIssued, true, acc.ID, nil, nil)
	return out, nil
}

func normalizeIssueTokensDeps(deps IssueTokensDeps) IssueTokensDeps {
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
	return deps
}
