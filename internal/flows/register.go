package flows

import (
	"context"
	"errors"
	"strings"
	"time"
)

type RegisterInput struct {
	Email        string
	Phone        string
	Username     string
	Password     string
	Role         string
	CaptchaToken string
	DeviceID     string
	ClientIP     string
	UserAgent    string
}

// FraudResult is the flow-local view of a fraud assessment.
type FraudResult struct {
	Score               int
	Reasons             []string
	RequiresCaptcha     bool
	RequiresAdminReview bool
}

type RegisterMetrics struct {
	Success     int
	Duplicate   int
	RateLimited int
	Captcha     int
	Flagged     int
}

type RegisterEvents struct {
	Success     string
	Failure     string
	Duplicate   string
	RateLimited string
	Flagged     string
}

type RegisterErrors struct {
	EngineNotReady   error
	CaptchaFailed    error
	RoleNotAllowed   error
	DuplicateAccount error
	RateLimited      error
	InvalidInput     error
}

// RegisterDeps captures self-registration dependencies.
type RegisterDeps struct {
	CaptchaEnabled bool
	Now            func() time.Time

	RoleAllowed       func(role string) bool
	AssessFraud       func(ctx context.Context, in RegisterInput) (FraudResult, error)
	VerifyCaptcha     func(ctx context.Context, token, ip string) (bool, error)
	EnforceRateLimit  func(ctx context.Context, identifier, ip string) error
	IsDuplicate       func(ctx context.Context, email, phone string) (bool, error)
	ValidatePassword  func(password string) error
	HashPassword      func(password string) (string, error)
	NewID             func() string
	CreateAccount     func(ctx context.Context, acc AccountRecord) error
	RecordCreated     func(ctx context.Context, ip, deviceID string) error
	SendPhoneCode     func(ctx context.Context, phone string) error
	IssueTokens       func(ctx context.Context, acc AccountRecord, deviceID string) (Outcome, error)
	NormalizeEmail    func(string) string
	NormalizePhone    func(string) string
	RequiresVerifying func(role string) bool

	MetricInc func(int)
	EmitAudit AuditFunc
	Warn      func(string, ...any)

	Metrics RegisterMetrics
	Events  RegisterEvents
	Errors  RegisterErrors
}

// RunRegister creates a self-registered account and hands it to token
// creation. Checks run in a fixed order: fraud scoring, captcha, role,
// throttle, duplicates, password strength.
func RunRegister(ctx context.Context, in RegisterInput, deps RegisterDeps) (Outcome, error) {
	deps = normalizeRegisterDeps(deps)
	if deps.RoleAllowed == nil || deps.IsDuplicate == nil || deps.ValidatePassword == nil ||
		deps.HashPassword == nil || deps.NewID == nil || deps.CreateAccount == nil || deps.IssueTokens == nil {
		return Outcome{}, deps.Errors.EngineNotReady
	}

	in.Email = deps.NormalizeEmail(in.Email)
	in.Phone = deps.NormalizePhone(in.Phone)
	in.Role = strings.ToUpper(strings.TrimSpace(in.Role))
	if in.Email == "" && in.Phone == "" {
		return Outcome{}, deps.Errors.InvalidInput
	}

	var fraud FraudResult
	if deps.AssessFraud != nil {
		res, err := deps.AssessFraud(ctx, in)
		if err != nil {
			deps.Warn("fraud assessment degraded", "ip", in.ClientIP, "error", err)
		}
		fraud = res
		if fraud.Score > 0 {
			deps.MetricInc(deps.Metrics.Flagged)
			deps.EmitAudit(ctx, deps.Events.Flagged, true, "", nil, func() map[string]string {
				return map[string]string{"reasons": strings.Join(fraud.Reasons, ",")}
			})
		}
	}

	if (deps.CaptchaEnabled || fraud.RequiresCaptcha) && deps.VerifyCaptcha != nil {
		ok, err := deps.VerifyCaptcha(ctx, in.CaptchaToken, in.ClientIP)
		if err != nil {
			deps.Warn("captcha verification failed", "ip", in.ClientIP, "error", err)
		}
		if err != nil || !ok {
			deps.MetricInc(deps.Metrics.Captcha)
			deps.EmitAudit(ctx, deps.Events.Failure, false, "", deps.Errors.CaptchaFailed, nil)
			return Outcome{}, deps.Errors.CaptchaFailed
		}
	}

	if !deps.RoleAllowed(in.Role) {
		deps.EmitAudit(ctx, deps.Events.Failure, false, "", deps.Errors.RoleNotAllowed, func() map[string]string {
			return map[string]string{"role": in.Role}
		})
		return Outcome{}, deps.Errors.RoleNotAllowed
	}

	if deps.EnforceRateLimit != nil {
		identifier := in.Email
		if identifier == "" {
			identifier = in.Phone
		}
		if err := deps.EnforceRateLimit(ctx, identifier, in.ClientIP); err != nil {
			if errors.Is(err, deps.Errors.RateLimited) {
				deps.MetricInc(deps.Metrics.RateLimited)
				deps.EmitAudit(ctx, deps.Events.RateLimited, false, "", err, nil)
			}
			return Outcome{}, err
		}
	}

	dup, err := deps.IsDuplicate(ctx, in.Email, in.Phone)
	if err != nil {
		return Outcome{}, err
	}
	if dup {
		deps.MetricInc(deps.Metrics.Duplicate)
		deps.EmitAudit(ctx, deps.Events.Duplicate, false, "", deps.Errors.DuplicateAccount, nil)
		return Outcome{}, deps.Errors.DuplicateAccount
	}

	if err := deps.ValidatePassword(in.Password); err != nil {
		return Outcome{}, err
	}

	hash, err := deps.HashPassword(in.Password)
	if err != nil {
		return Outcome{}, err
	}

	status := StatusActive
	switch {
	case deps.RequiresVerifying(in.Role):
		status = StatusNeedVerification
	case fraud.RequiresAdminReview:
		status = StatusPending
	}

	acc := AccountRecord{
		ID:           deps.NewID(),
		Email:        in.Email,
		Phone:        in.Phone,
		Username:     strings.TrimSpace(in.Username),
		PasswordHash: hash,
		Roles:        []string{in.Role},
		Status:       status,
		Active:       true,
		CreatedAt:    deps.Now(),
	}
	if err := deps.CreateAccount(ctx, acc); err != nil {
		if errors.Is(err, deps.Errors.DuplicateAccount) {
			deps.MetricInc(deps.Metrics.Duplicate)
		}
		return Outcome{}, err
	}

	if deps.RecordCreated != nil {
		if err := deps.RecordCreated(ctx, in.ClientIP, in.DeviceID); err != nil {
			deps.Warn("record account creation", "account_id", acc.ID, "error", err)
		}
	}
	if acc.Phone != "" && deps.SendPhoneCode != nil {
		if err := deps.SendPhoneCode(ctx, acc.Phone); err != nil {
			deps.Warn("phone verification code not delivered", "account_id", acc.ID, "error", err)
		}
	}

	deps.MetricInc(deps.Metrics.Success)
	deps.EmitAudit(ctx, deps.Events.Success, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"role": in.Role, "status": status}
	})

	return deps.IssueTokens(ctx, acc, in.DeviceID)
}

func normalizeRegisterDeps(deps RegisterDeps) RegisterDeps {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NormalizeEmail == nil {
		deps.NormalizeEmail = func(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
	}
	if deps.NormalizePhone == nil {
		deps.NormalizePhone = strings.TrimSpace
	}
	if deps.RequiresVerifying == nil {
		deps.RequiresVerifying = func(string) bool { return false }
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
	if deps.Errors.InvalidInput == nil {
		deps.Errors.InvalidInput = errors.New("email or phone is required")
	}
	return deps
}
