package charityauth

import (
	"context"

	"github.com/MrEthical07/charityauth/identity"
)

// NotificationKind names a notification template owned by the host.
type NotificationKind string

const (
	NotifyPasswordChanged       NotificationKind = "password_changed"
	NotifyPasswordReset         NotificationKind = "password_reset"
	NotifyVerificationSubmitted NotificationKind = "verification_submitted"
	NotifyVerificationApproved  NotificationKind = "verification_approved"
	NotifyVerificationRejected  NotificationKind = "verification_rejected"
	NotifyTwoFactorEnabled      NotificationKind = "two_factor_enabled"
	NotifyTwoFactorDisabled     NotificationKind = "two_factor_disabled"
	NotifyAccountCreated        NotificationKind = "account_created"
)

// Audience says who a notification is for.
type Audience string

const (
	AudienceAccount Audience = "account"
	AudienceAdmins  Audience = "admins"
)

// Notification is handed to the Notifier. Delivery is best effort: the engine
// logs failures and never fails an operation because of them.
type Notification struct {
	Kind      NotificationKind
	Audience  Audience
	AccountID string
	Email     string
	Phone     string
	Data      map[string]string
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// CaptchaVerifier checks a captcha token. A false result with a nil error is
// a failed challenge.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, clientIP string) (bool, error)
}

// IdentityVerifier checks an ID token from an external provider.
// identity.Google is the stock implementation.
type IdentityVerifier interface {
	VerifyIDToken(ctx context.Context, token string) (identity.Identity, error)
}
