package charityauth

import (
	"errors"
	"fmt"

	"github.com/MrEthical07/charityauth/identity"
	"github.com/MrEthical07/charityauth/internal/limiters"
	"github.com/MrEthical07/charityauth/jwt"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/otp"
	"github.com/MrEthical07/charityauth/password"
)

var (
	// ErrInvalidCredentials covers both an unknown identifier and a wrong
	// password. Callers cannot tell the two apart.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = lockout.ErrLocked
	// ErrAccountDisabled is returned for soft-disabled and suspended accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrWeakPassword is returned when a password fails the policy.
	ErrWeakPassword = password.ErrWeakPassword
	// ErrDuplicateAccount is returned when an email or phone is already registered.
	ErrDuplicateAccount = errors.New("account already exists")
	// ErrDeviceVerificationRequired signals that a device code was sent and
	// must be confirmed before the login can complete.
	ErrDeviceVerificationRequired = errors.New("device verification required")

	ErrOTPExpired      = otp.ErrExpired
	ErrInvalidOTP      = otp.ErrInvalid
	ErrTooManyAttempts = otp.ErrTooManyAttempts
	ErrOTPAlreadySent  = otp.ErrAlreadySent
	ErrOTPDelivery     = otp.ErrDelivery

	// ErrInvalidRefreshToken covers rotation mismatch, expiry and signature failure.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	// ErrInvalidToken is returned for access tokens that fail validation.
	ErrInvalidToken = jwt.ErrInvalidToken

	ErrCaptchaFailed  = errors.New("captcha verification failed")
	ErrRoleNotAllowed = errors.New("role not allowed for self registration")

	ErrExternalAuthDisabled     = errors.New("external sign-in not configured")
	ErrExternalIdentityRejected = identity.ErrRejected
	ErrExternalAuthUnavailable  = identity.ErrUnavailable

	ErrAccountNotFound         = errors.New("account not found")
	ErrTwoFactorNotEnabled     = errors.New("two-factor authentication not enabled")
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor authentication already enabled")
	ErrTwoFactorSetupMissing   = errors.New("two-factor setup not started")
	ErrTwoFactorNotPending     = errors.New("no two-factor login in progress")
	ErrInvalidTwoFactorCode    = errors.New("invalid two-factor code")
	// ErrTwoFactorCodeReused matches ErrInvalidTwoFactorCode as well.
	ErrTwoFactorCodeReused     = fmt.Errorf("%w: code already used", ErrInvalidTwoFactorCode)
	ErrNoPendingDocuments      = errors.New("no pending verification documents")
	ErrInvalidStatusTransition = errors.New("invalid account status transition")
	ErrInvalidInput            = errors.New("invalid input")
	ErrRegistrationRateLimited = limiters.ErrRegistrationRateLimited
	ErrOTPRequestRateLimited   = limiters.ErrOTPRequestRateLimited
	ErrTwoFactorRateLimited    = limiters.ErrTwoFactorRateLimited
	ErrPhoneRequired           = errors.New("account has no phone number")
	ErrEngineNotReady          = errors.New("engine not initialized")
	ErrStoreUnavailable        = errors.New("account store unavailable")
	ErrKVUnavailable           = errors.New("kv store unavailable")
)
