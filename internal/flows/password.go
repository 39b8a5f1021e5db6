package flows

import (
	"context"
	"errors"
)

type ChangePasswordMetrics struct {
	Success    int
	InvalidOld int
}

type ChangePasswordEvents struct {
	Success string
	Failure string
}

type ChangePasswordErrors struct {
	EngineNotReady     error
	InvalidCredentials error
}

// ChangePasswordDeps captures change-password dependencies.
type ChangePasswordDeps struct {
	LoadAccount      func(ctx context.Context, accountID string) (AccountRecord, error)
	VerifyPassword   func(password, hash string) bool
	ValidatePassword func(password string) error
	HashPassword     func(password string) (string, error)
	// ReplaceCredentials stores the new hash and clears the refresh token and
	// every trusted device in one update.
	ReplaceCredentials func(ctx context.Context, accountID, hash string) error
	NotifyChanged      func(ctx context.Context, acc AccountRecord) error

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics ChangePasswordMetrics
	Events  ChangePasswordEvents
	Errors  ChangePasswordErrors
}

// RunChangePassword replaces the password after verifying the current one
// and signs the account out everywhere.
func RunChangePassword(ctx context.Context, accountID, oldPassword, newPassword string, deps ChangePasswordDeps) error {
	deps = normalizeChangePasswordDeps(deps)
	if deps.LoadAccount == nil || deps.VerifyPassword == nil || deps.ValidatePassword == nil ||
		deps.HashPassword == nil || deps.ReplaceCredentials == nil {
		return deps.Errors.EngineNotReady
	}

	acc, err := deps.LoadAccount(ctx, accountID)
	if err != nil {
		return err
	}

	if acc.PasswordHash == "" || !deps.VerifyPassword(oldPassword, acc.PasswordHash) {
		deps.MetricInc(deps.Metrics.InvalidOld)
		deps.EmitAudit(ctx, deps.Events.Failure, false, acc.ID, deps.Errors.InvalidCredentials, nil)
		return deps.Errors.InvalidCredentials
	}

	if err := deps.ValidatePassword(newPassword); err != nil {
		deps.EmitAudit(ctx, deps.Events.Failure, false, acc.ID, err, nil)
		return err
	}

	hash, err := deps.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := deps.ReplaceCredentials(ctx, acc.ID, hash); err != nil {
		return err
	}

	if deps.NotifyChanged != nil {
		if err := deps.NotifyChanged(ctx, acc); err != nil {
			deps.Warn("password change notification failed", "account_id", acc.ID, "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, acc.ID, nil, nil)
	return nil
}

func normalizeChangePasswordDeps(deps ChangePasswordDeps) ChangePasswordDeps {
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
	return deps
}
