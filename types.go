package charityauth

import (
	"time"

	"github.com/MrEthical07/charityauth/twofactor"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	StatusPending          AccountStatus = "PENDING"
	StatusActive           AccountStatus = "ACTIVE"
	StatusNeedVerification AccountStatus = "NEED_VERIFICATION"
	StatusSuspended        AccountStatus = "SUSPENDED"
	StatusRejected         AccountStatus = "REJECTED"
)

// TwoFactorMethod selects where second-factor codes come from.
type TwoFactorMethod string

const (
	TwoFactorApp TwoFactorMethod = "app"
	TwoFactorSMS TwoFactorMethod = "sms"
)

// Account is the persisted account record. Stores hand out copies; mutate
// through AccountStore.Update.
type Account struct {
	ID           string
	Email        string
	Phone        string
	Username     string
	PasswordHash string
	Roles        RoleSet
	Status       AccountStatus
	// IsActive is the soft-disable flag, independent of Status.
	IsActive bool

	FailedLoginAttempts int
	LockedUntil         *time.Time

	TwoFactorEnabled bool
	TwoFactorSecret  string
	TwoFactorMethod  TwoFactorMethod
	BackupCodes      []twofactor.BackupCode
	// TwoFactorLastStep is the newest authenticator time step accepted.
	// Codes from this step or older are rejected.
	TwoFactorLastStep int64

	// TrustedDevices holds device fingerprints, never raw device ids.
	TrustedDevices []string

	RefreshToken        string
	RefreshTokenExpires *time.Time

	PhoneVerified bool
	LastLoginAt   *time.Time
	LastLoginIP   string
	VerifiedAt    *time.Time
	VerifiedBy    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	out := *a
	out.Roles = append(RoleSet(nil), a.Roles...)
	out.BackupCodes = append([]twofactor.BackupCode(nil), a.BackupCodes...)
	for i := range out.BackupCodes {
		out.BackupCodes[i].UsedAt = cloneTime(a.BackupCodes[i].UsedAt)
	}
	out.TrustedDevices = append([]string(nil), a.TrustedDevices...)
	out.LockedUntil = cloneTime(a.LockedUntil)
	out.RefreshTokenExpires = cloneTime(a.RefreshTokenExpires)
	out.LastLoginAt = cloneTime(a.LastLoginAt)
	out.VerifiedAt = cloneTime(a.VerifiedAt)
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// DocumentType is the kind of identity evidence submitted for review.
type DocumentType string

const (
	DocumentNationalID      DocumentType = "national_id"
	DocumentCharityCert     DocumentType = "charity_cert"
	DocumentBusinessLicense DocumentType = "business_license"
	DocumentLetterOfRequest DocumentType = "letter_of_request"
)

func (t DocumentType) Valid() bool {
	switch t {
	case DocumentNationalID, DocumentCharityCert, DocumentBusinessLicense, DocumentLetterOfRequest:
		return true
	}
	return false
}

type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "PENDING"
	DocumentApproved DocumentStatus = "APPROVED"
	DocumentRejected DocumentStatus = "REJECTED"
)

// VerificationDocument is one submitted piece of evidence. FileURL points to
// storage owned by the host application.
type VerificationDocument struct {
	ID          string
	AccountID   string
	Type        DocumentType
	Number      string
	FileURL     string
	Status      DocumentStatus
	ReviewedBy  string
	ReviewedAt  *time.Time
	AdminNote   string
	SubmittedAt time.Time
}

// DocumentInput is one document of a submission batch.
type DocumentInput struct {
	Type    DocumentType
	Number  string
	FileURL string
}

// TokenPair is a freshly issued access and refresh token.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// OutcomeKind tags a non-error authentication result.
type OutcomeKind int

const (
	// OutcomeSuccess carries tokens.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeRequiresTwoFactor means the password was correct and a second
	// factor must be completed with CompleteTwoFactorLogin.
	OutcomeRequiresTwoFactor
	// OutcomeRequiresVerification means the account awaits document review.
	OutcomeRequiresVerification
	// OutcomeDeviceVerificationRequired means a code was sent to the account
	// phone and must be confirmed with VerifyDevice.
	OutcomeDeviceVerificationRequired
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeRequiresTwoFactor:
		return "requires_two_factor"
	case OutcomeRequiresVerification:
		return "requires_verification"
	case OutcomeDeviceVerificationRequired:
		return "device_verification_required"
	default:
		return "unknown"
	}
}

// LoginOutcome is the result of every operation that may end in tokens.
// Tokens is nil unless Kind is OutcomeSuccess.
type LoginOutcome struct {
	Kind            OutcomeKind
	AccountID       string
	Tokens          *TokenPair
	Roles           RoleSet
	Status          AccountStatus
	TwoFactorMethod TwoFactorMethod
	Message         string
}

func (o *LoginOutcome) RequiresTwoFactor() bool {
	return o != nil && o.Kind == OutcomeRequiresTwoFactor
}

func (o *LoginOutcome) RequiresVerification() bool {
	return o != nil && o.Kind == OutcomeRequiresVerification
}

func (o *LoginOutcome) RequiresDeviceVerification() bool {
	return o != nil && o.Kind == OutcomeDeviceVerificationRequired
}

// Err maps a device escalation to ErrDeviceVerificationRequired for callers
// that prefer error handling. Other kinds return nil.
func (o *LoginOutcome) Err() error {
	if o.RequiresDeviceVerification() {
		return ErrDeviceVerificationRequired
	}
	return nil
}

type RegisterInput struct {
	Email    string
	Phone    string
	Username string
	Password string
	Role     Role
	// CaptchaToken is required when captcha is enabled or the fraud score
	// crosses the captcha trigger.
	CaptchaToken string
	DeviceID     string
	// ClientIP and UserAgent fall back to the values attached with
	// WithClientIP and WithUserAgent.
	ClientIP  string
	UserAgent string
}

type LoginInput struct {
	// Identifier is an email address or phone number.
	Identifier string
	Password   string
	DeviceID   string
	ClientIP   string
}

// ExternalLoginInput signs in with an ID token from an external identity
// provider. Role applies only when the sign-in creates the account.
type ExternalLoginInput struct {
	IDToken  string
	Role     Role
	DeviceID string
	ClientIP string
}

type TwoFactorLoginInput struct {
	Identifier string
	// Code is an SMS code, an authenticator code or a backup code.
	Code     string
	DeviceID string
}

type ReviewInput struct {
	AccountID  string
	ReviewerID string
	Approve    bool
	Note       string
}

type ReviewResult struct {
	AccountID string
	Status    AccountStatus
	Reviewed  int
}

// TwoFactorSetup is returned once by SetupTwoFactor. BackupCodes are
// plaintext and never retrievable again.
type TwoFactorSetup struct {
	Method      TwoFactorMethod
	Secret      string
	URI         string
	BackupCodes []string
	ExpiresAt   time.Time
}

type BulkAccountInput struct {
	Email    string
	Phone    string
	Username string
}

// BulkAccountResult reports one row of BulkCreateAccounts. Password is the
// generated plaintext and is only set on success.
type BulkAccountResult struct {
	Index     int
	AccountID string
	Email     string
	Phone     string
	Password  string
	Err       error
}
