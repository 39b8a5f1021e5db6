package charityauth

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const (
	auditEventRegisterSuccess           = "register_success"
	auditEventRegisterFailure           = "register_failure"
	auditEventRegisterDuplicate         = "register_duplicate"
	auditEventRegisterRateLimited       = "register_rate_limited"
	auditEventRegisterFlagged           = "register_flagged"
	auditEventLoginSuccess              = "login_success"
	auditEventLoginFailure              = "login_failure"
	auditEventAccountLocked             = "account_locked"
	auditEventAccountDisabled           = "account_disabled"
	auditEventDeviceVerificationPending = "device_verification_pending"
	auditEventDeviceTrusted             = "device_trusted"
	auditEventDeviceRevoked             = "device_revoked"
	auditEventTwoFactorRequired         = "two_factor_required"
	auditEventTwoFactorSuccess          = "two_factor_success"
	auditEventTwoFactorFailure          = "two_factor_failure"
	auditEventTwoFactorSetup            = "two_factor_setup_requested"
	auditEventTwoFactorEnabled          = "two_factor_enabled"
	auditEventTwoFactorDisabled         = "two_factor_disabled"
	auditEventBackupCodeUsed            = "backup_code_used"
	auditEventBackupCodesRegenerated    = "backup_codes_regenerated"
	auditEventVerificationRequired      = "verification_required"
	auditEventTokensIssued              = "tokens_issued"
	auditEventRefreshSuccess            = "refresh_success"
	auditEventRefreshFailure            = "refresh_failure"
	auditEventLogout                    = "logout"
	auditEventOTPRequested              = "otp_requested"
	auditEventOTPLogin                  = "otp_login"
	auditEventPhoneVerified             = "phone_verified"
	auditEventPasswordChanged           = "password_changed"
	auditEventPasswordChangeFailure     = "password_change_failure"
	auditEventPasswordResetRequested    = "password_reset_requested"
	auditEventPasswordResetCompleted    = "password_reset_completed"
	auditEventPasswordResetFailure      = "password_reset_failure"
	auditEventDocumentsSubmitted        = "verification_submitted"
	auditEventVerificationApproved      = "verification_approved"
	auditEventVerificationRejected      = "verification_rejected"
	auditEventAccountStatusChange       = "account_status_change"
	auditEventBulkCreate                = "bulk_create"
	auditEventExternalLogin             = "external_login"
	auditEventExternalLoginFailure      = "external_login_failure"
	auditEventExternalAccountCreated    = "external_account_created"
)

// AuditErrorCode is the stable error label written to audit events in place
// of raw error text.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrAccountNotFound    AuditErrorCode = "account_not_found"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrCaptcha            AuditErrorCode = "captcha_failed"
	auditErrRoleNotAllowed     AuditErrorCode = "role_not_allowed"
	auditErrOTPExpired         AuditErrorCode = "otp_expired"
	auditErrOTPInvalid         AuditErrorCode = "otp_invalid"
	auditErrAttemptsExceeded   AuditErrorCode = "attempts_exceeded"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTwoFactorInvalid   AuditErrorCode = "two_factor_invalid"
	auditErrTwoFactorReused    AuditErrorCode = "two_factor_reused"
	auditErrExternalIdentity   AuditErrorCode = "external_identity_rejected"
	auditErrStatusTransition   AuditErrorCode = "invalid_status_transition"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	kind string,
	success bool,
	accountID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: e.now().UTC(),
		Kind:      kind,
		AccountID: accountID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrAccountNotFound):
		return auditErrAccountNotFound
	case errors.Is(err, ErrWeakPassword):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrDuplicateAccount):
		return auditErrDuplicate
	case errors.Is(err, ErrRegistrationRateLimited),
		errors.Is(err, ErrOTPRequestRateLimited),
		errors.Is(err, ErrTwoFactorRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrCaptchaFailed):
		return auditErrCaptcha
	case errors.Is(err, ErrRoleNotAllowed):
		return auditErrRoleNotAllowed
	case errors.Is(err, ErrOTPExpired):
		return auditErrOTPExpired
	case errors.Is(err, ErrInvalidOTP):
		return auditErrOTPInvalid
	case errors.Is(err, ErrTooManyAttempts):
		return auditErrAttemptsExceeded
	case errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrInvalidToken):
		return auditErrInvalidToken
	case errors.Is(err, ErrTwoFactorCodeReused):
		return auditErrTwoFactorReused
	case errors.Is(err, ErrInvalidTwoFactorCode),
		errors.Is(err, ErrTwoFactorNotPending):
		return auditErrTwoFactorInvalid
	case errors.Is(err, ErrInvalidStatusTransition):
		return auditErrStatusTransition
	case errors.Is(err, ErrExternalIdentityRejected):
		return auditErrExternalIdentity
	case errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, ErrKVUnavailable),
		errors.Is(err, ErrOTPDelivery),
		errors.Is(err, ErrExternalAuthUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

// flowAudit adapts emitAudit to the flow callback shape.
func (e *Engine) flowAudit(ctx context.Context, event string, success bool, accountID string, err error, meta func() map[string]string) {
	e.emitAudit(ctx, event, success, accountID, err, meta)
}

// warn logs a best-effort failure. kv pairs alternate key and value.
func (e *Engine) warn(msg string, kv ...any) {
	if e == nil || e.logger == nil {
		return
	}
	e.logger.Sugar().Warnw(msg, kv...)
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

// deliver hands n to the notifier and returns its error for callers that log
// it themselves.
func (e *Engine) deliver(ctx context.Context, n Notification) error {
	if e.notifier == nil {
		return nil
	}
	return e.notifier.Notify(ctx, n)
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if err := e.deliver(ctx, n); err != nil {
		e.logger.Warn("notification failed",
			zap.String("kind", string(n.Kind)),
			zap.String("account_id", n.AccountID),
			zap.Error(err),
		)
	}
}
