package internaldefs

import (
	"github.com/MrEthical07/charityauth"
)

// CounterDef binds a counter to its exported name.
type CounterDef struct {
	ID   charityauth.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   charityauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: charityauth.MetricRegisterSuccess, Name: "charityauth_register_success_total", Help: "Successful self registrations."},
	{ID: charityauth.MetricRegisterDuplicate, Name: "charityauth_register_duplicate_total", Help: "Registrations rejected as duplicate."},
	{ID: charityauth.MetricRegisterRateLimited, Name: "charityauth_register_rate_limited_total", Help: "Rate-limited registration attempts."},
	{ID: charityauth.MetricRegisterCaptchaFailed, Name: "charityauth_register_captcha_failed_total", Help: "Registrations rejected by captcha."},
	{ID: charityauth.MetricRegisterFlagged, Name: "charityauth_register_flagged_total", Help: "Registrations with a non-zero fraud score."},
	{ID: charityauth.MetricLoginSuccess, Name: "charityauth_login_success_total", Help: "Successful password logins."},
	{ID: charityauth.MetricLoginFailure, Name: "charityauth_login_failure_total", Help: "Failed password logins."},
	{ID: charityauth.MetricAccountLocked, Name: "charityauth_account_locked_total", Help: "Logins refused or accounts locked by the lockout guard."},
	{ID: charityauth.MetricAccountDisabled, Name: "charityauth_account_disabled_total", Help: "Logins refused for disabled or suspended accounts."},
	{ID: charityauth.MetricDeviceVerificationRequired, Name: "charityauth_device_verification_required_total", Help: "Logins escalated to device verification."},
	{ID: charityauth.MetricDeviceTrusted, Name: "charityauth_device_trusted_total", Help: "Devices added to a trusted set."},
	{ID: charityauth.MetricDeviceRevoked, Name: "charityauth_device_revoked_total", Help: "Devices removed from a trusted set."},
	{ID: charityauth.MetricTwoFactorRequired, Name: "charityauth_two_factor_required_total", Help: "Logins stopped at the two-factor gate."},
	{ID: charityauth.MetricTwoFactorSuccess, Name: "charityauth_two_factor_success_total", Help: "Completed two-factor logins."},
	{ID: charityauth.MetricTwoFactorFailure, Name: "charityauth_two_factor_failure_total", Help: "Failed two-factor login attempts."},
	{ID: charityauth.MetricTwoFactorEnabled, Name: "charityauth_two_factor_enabled_total", Help: "Two-factor enrolments confirmed."},
	{ID: charityauth.MetricTwoFactorDisabled, Name: "charityauth_two_factor_disabled_total", Help: "Two-factor disable operations."},
	{ID: charityauth.MetricBackupCodeUsed, Name: "charityauth_backup_code_used_total", Help: "Backup codes consumed."},
	{ID: charityauth.MetricBackupCodeRegenerated, Name: "charityauth_backup_code_regenerated_total", Help: "Backup code regenerations."},
	{ID: charityauth.MetricVerificationRequired, Name: "charityauth_verification_required_total", Help: "Logins stopped at the verification gate."},
	{ID: charityauth.MetricTokensIssued, Name: "charityauth_tokens_issued_total", Help: "Token pairs issued."},
	{ID: charityauth.MetricRefreshSuccess, Name: "charityauth_refresh_success_total", Help: "Successful refresh rotations."},
	{ID: charityauth.MetricRefreshFailure, Name: "charityauth_refresh_failure_total", Help: "Rejected refresh rotations."},
	{ID: charityauth.MetricLogout, Name: "charityauth_logout_total", Help: "Logout operations."},
	{ID: charityauth.MetricOTPSent, Name: "charityauth_otp_sent_total", Help: "One-time codes issued."},
	{ID: charityauth.MetricOTPVerified, Name: "charityauth_otp_verified_total", Help: "One-time codes verified."},
	{ID: charityauth.MetricOTPFailure, Name: "charityauth_otp_failure_total", Help: "Failed one-time code verifications."},
	{ID: charityauth.MetricOTPRateLimited, Name: "charityauth_otp_rate_limited_total", Help: "Rate-limited one-time code requests."},
	{ID: charityauth.MetricPasswordChangeSuccess, Name: "charityauth_password_change_success_total", Help: "Successful password changes."},
	{ID: charityauth.MetricPasswordChangeInvalidOld, Name: "charityauth_password_change_invalid_old_total", Help: "Password changes with a wrong current password."},
	{ID: charityauth.MetricPasswordResetRequest, Name: "charityauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: charityauth.MetricPasswordResetSuccess, Name: "charityauth_password_reset_success_total", Help: "Completed password resets."},
	{ID: charityauth.MetricPasswordResetFailure, Name: "charityauth_password_reset_failure_total", Help: "Failed password reset confirmations."},
	{ID: charityauth.MetricVerificationSubmitted, Name: "charityauth_verification_submitted_total", Help: "Verification document batches submitted."},
	{ID: charityauth.MetricVerificationApproved, Name: "charityauth_verification_approved_total", Help: "Verification reviews approved."},
	{ID: charityauth.MetricVerificationRejected, Name: "charityauth_verification_rejected_total", Help: "Verification reviews rejected."},
	{ID: charityauth.MetricBulkAccountsCreated, Name: "charityauth_bulk_accounts_created_total", Help: "Accounts created by administrators."},
	{ID: charityauth.MetricTwoFactorReplay, Name: "charityauth_two_factor_replay_total", Help: "Authenticator codes refused for reusing an accepted time step."},
	{ID: charityauth.MetricExternalLoginSuccess, Name: "charityauth_external_login_success_total", Help: "Successful external identity sign-ins."},
	{ID: charityauth.MetricExternalLoginFailure, Name: "charityauth_external_login_failure_total", Help: "Rejected external identity sign-ins."},
}

var HistogramDefs = []HistogramDef{
	{ID: charityauth.MetricLoginLatency, Name: "charityauth_login_latency_seconds", Help: "Password login latency, including failure delays."},
}

// HistogramBounds are the upper bounds in seconds, matching the engine's
// bucket layout.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"1.5",
	"2.5",
	"+Inf",
}

// NormalizeBuckets pads or truncates raw to the fixed bucket count.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into the le-style running totals
// both exporters publish.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
