package flows

import (
	"context"
	"time"
)

// Account status values shared with the host package.
const (
	StatusPending          = "PENDING"
	StatusActive           = "ACTIVE"
	StatusNeedVerification = "NEED_VERIFICATION"
	StatusSuspended        = "SUSPENDED"
	StatusRejected         = "REJECTED"
)

// Two-factor methods shared with the host package.
const (
	TwoFactorApp = "app"
	TwoFactorSMS = "sms"
)

// AccountRecord is the flow-local view of an account.
type AccountRecord struct {
	ID               string
	Email            string
	Phone            string
	Username         string
	PasswordHash     string
	Roles            []string
	Status           string
	Active           bool
	FailedAttempts   int
	LockedUntil      *time.Time
	TwoFactorEnabled bool
	TwoFactorMethod  string
	TrustedDevices   []string
	CreatedAt        time.Time
}

// OutcomeKind tags the result of a successful authentication step. The host
// package mirrors these values one to one.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeRequiresTwoFactor
	OutcomeRequiresVerification
	OutcomeDeviceVerificationRequired
)

// Outcome is the flow-local authentication result. Tokens are only set for
// OutcomeSuccess.
type Outcome struct {
	Kind             OutcomeKind
	AccountID        string
	Roles            []string
	Status           string
	TwoFactorMethod  string
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// AuditFunc emits one audit event. meta is evaluated lazily.
type AuditFunc func(ctx context.Context, event string, success bool, accountID string, err error, meta func() map[string]string)

func noopMetric(int) {}

func noopAudit(context.Context, string, bool, string, error, func() map[string]string) {}

func noopWarn(string, ...any) {}

func noopDelay(context.Context) {}
