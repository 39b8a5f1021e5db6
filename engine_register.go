package charityauth

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/charityauth/fraud"
	"github.com/MrEthical07/charityauth/internal/flows"
	"github.com/MrEthical07/charityauth/otp"
)

// Register creates a self-registered account. NEEDY and VENDOR accounts
// start in NEED_VERIFICATION and receive OutcomeRequiresVerification instead
// of tokens.
func (e *Engine) Register(ctx context.Context, in RegisterInput) (*LoginOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	role := in.Role
	if role == "" {
		role = RoleUser
	}

	deps := flows.RegisterDeps{
		CaptchaEnabled: e.captcha != nil && e.config.Captcha.Enabled,
		Now:            e.now,
		RoleAllowed: func(name string) bool {
			r, err := ParseRole(name)
			if err != nil {
				return false
			}
			_, ok := e.allowedRoles[r]
			return ok
		},
		EnforceRateLimit: func(ctx context.Context, identifier, ip string) error {
			return limiterError(e.registrationLimiter.Enforce(ctx, identifier, ip))
		},
		IsDuplicate:      e.isDuplicate,
		ValidatePassword: e.registerPolicy.Validate,
		HashPassword: func(plain string) (string, error) {
			return e.hashPassword(ctx, plain)
		},
		NewID: e.newID,
		CreateAccount: func(ctx context.Context, rec flows.AccountRecord) error {
			return storeError(e.store.Create(ctx, fromRecord(rec)))
		},
		IssueTokens: func(ctx context.Context, acc flows.AccountRecord, deviceID string) (flows.Outcome, error) {
			return e.issueTokens(ctx, acc, deviceID, false)
		},
		NormalizeEmail: func(s string) string { return strings.ToLower(strings.TrimSpace(s)) },
		NormalizePhone: otp.Normalize,
		RequiresVerifying: func(name string) bool {
			r, err := ParseRole(name)
			return err == nil && r.RequiresVerification()
		},
		MetricInc: e.flowMetric,
		EmitAudit: e.flowAudit,
		Warn:      e.warn,
		Metrics: flows.RegisterMetrics{
			Success:     int(MetricRegisterSuccess),
			Duplicate:   int(MetricRegisterDuplicate),
			RateLimited: int(MetricRegisterRateLimited),
			Captcha:     int(MetricRegisterCaptchaFailed),
			Flagged:     int(MetricRegisterFlagged),
		},
		Events: flows.RegisterEvents{
			Success:     auditEventRegisterSuccess,
			Failure:     auditEventRegisterFailure,
			Duplicate:   auditEventRegisterDuplicate,
			RateLimited: auditEventRegisterRateLimited,
			Flagged:     auditEventRegisterFlagged,
		},
		Errors: flows.RegisterErrors{
			EngineNotReady:   ErrEngineNotReady,
			CaptchaFailed:    ErrCaptchaFailed,
			RoleNotAllowed:   ErrRoleNotAllowed,
			DuplicateAccount: ErrDuplicateAccount,
			RateLimited:      ErrRegistrationRateLimited,
			InvalidInput:     ErrInvalidInput,
		},
	}
	if e.captcha != nil {
		deps.VerifyCaptcha = e.captcha.Verify
	}
	if e.fraud != nil {
		deps.AssessFraud = e.assessFraud
		deps.RecordCreated = e.fraud.RecordAccount
	}
	if e.config.Registration.SendPhoneCode {
		deps.SendPhoneCode = func(ctx context.Context, phone string) error {
			return e.sendOTP(ctx, phone, otp.PurposeRegister)
		}
	}

	out, err := flows.RunRegister(ctx, flows.RegisterInput{
		Email:        in.Email,
		Phone:        in.Phone,
		Username:     in.Username,
		Password:     in.Password,
		Role:         string(role),
		CaptchaToken: in.CaptchaToken,
		DeviceID:     in.DeviceID,
		ClientIP:     firstNonEmpty(in.ClientIP, clientIPFromContext(ctx)),
		UserAgent:    firstNonEmpty(in.UserAgent, userAgentFromContext(ctx)),
	}, deps)
	if err != nil {
		return nil, err
	}
	return toLoginOutcome(out), nil
}

func (e *Engine) assessFraud(ctx context.Context, in flows.RegisterInput) (flows.FraudResult, error) {
	a, err := e.fraud.Assess(ctx, fraud.Request{
		IP:        in.ClientIP,
		UserAgent: in.UserAgent,
		DeviceID:  in.DeviceID,
		Email:     in.Email,
	})
	reasons := make([]string, 0, len(a.Reasons))
	for _, r := range a.Reasons {
		reasons = append(reasons, string(r))
	}
	return flows.FraudResult{
		Score:               a.Score,
		Reasons:             reasons,
		RequiresCaptcha:     a.RequiresCaptcha,
		RequiresAdminReview: a.RequiresAdminReview,
	}, err
}

// isDuplicate reports whether email or phone already belongs to an account.
func (e *Engine) isDuplicate(ctx context.Context, email, phone string) (bool, error) {
	if email != "" {
		if _, err := e.store.GetByEmail(ctx, email); err == nil {
			return true, nil
		} else if !errors.Is(err, ErrAccountNotFound) {
			return false, storeError(err)
		}
	}
	if phone != "" {
		if _, err := e.store.GetByPhone(ctx, phone); err == nil {
			return true, nil
		} else if !errors.Is(err, ErrAccountNotFound) {
			return false, storeError(err)
		}
	}
	return false, nil
}
