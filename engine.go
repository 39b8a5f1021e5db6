package charityauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/charityauth/fraud"
	"github.com/MrEthical07/charityauth/internal/flows"
	"github.com/MrEthical07/charityauth/internal/limiters"
	"github.com/MrEthical07/charityauth/jwt"
	"github.com/MrEthical07/charityauth/kv"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/MrEthical07/charityauth/otp"
	"github.com/MrEthical07/charityauth/password"
	"github.com/MrEthical07/charityauth/twofactor"
	"go.uber.org/zap"
)

// Engine runs every authentication operation. It is built once by Builder
// and is safe for concurrent use.
type Engine struct {
	config Config
	store  AccountStore
	kv     kv.Store

	hasher         *password.Multi
	dummyHash      string
	hashSem        chan struct{}
	changePolicy   password.Policy
	registerPolicy password.Policy

	jwtManager *jwt.Manager
	otp        *otp.Channel
	guard      *lockout.Guard
	totp       *twofactor.TOTP
	fraud      *fraud.Assessor
	captcha    CaptchaVerifier
	identity   IdentityVerifier
	notifier   Notifier

	registrationLimiter *limiters.RegistrationLimiter
	otpLimiter          *limiters.OTPRequestLimiter
	twoFactorLimiter    *limiters.TwoFactorLimiter
	allowedRoles        map[Role]struct{}

	audit   *auditDispatcher
	metrics *Metrics
	logger  *zap.Logger
	clock   func() time.Time
	newID   func() string
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports audit events discarded because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) flowMetric(id int) {
	e.metricInc(MetricID(id))
}

func (e *Engine) ready() bool {
	return e != nil && e.store != nil && e.jwtManager != nil && e.hasher != nil && e.otp != nil
}

// -------- CREDENTIALS --------

func (e *Engine) acquireHash(ctx context.Context) error {
	if e.hashSem == nil {
		return nil
	}
	select {
	case e.hashSem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) releaseHash() {
	if e.hashSem != nil {
		<-e.hashSem
	}
}

func (e *Engine) hashPassword(ctx context.Context, plain string) (string, error) {
	if err := e.acquireHash(ctx); err != nil {
		return "", err
	}
	defer e.releaseHash()
	return e.hasher.Hash(plain)
}

// verifyPassword treats malformed hashes and cancelled waits as a mismatch.
func (e *Engine) verifyPassword(ctx context.Context, plain, hash string) bool {
	if err := e.acquireHash(ctx); err != nil {
		return false
	}
	defer e.releaseHash()
	ok, err := e.hasher.Verify(plain, hash)
	if err != nil && !errors.Is(err, password.ErrMalformedHash) {
		e.warn("password verification failed", "error", err)
	}
	return err == nil && ok
}

// -------- CONVERSIONS --------

func toRecord(acc *Account) flows.AccountRecord {
	if acc == nil {
		return flows.AccountRecord{}
	}
	return flows.AccountRecord{
		ID:               acc.ID,
		Email:            acc.Email,
		Phone:            acc.Phone,
		Username:         acc.Username,
		PasswordHash:     acc.PasswordHash,
		Roles:            acc.Roles.Strings(),
		Status:           string(acc.Status),
		Active:           acc.IsActive,
		FailedAttempts:   acc.FailedLoginAttempts,
		LockedUntil:      cloneTime(acc.LockedUntil),
		TwoFactorEnabled: acc.TwoFactorEnabled,
		TwoFactorMethod:  string(acc.TwoFactorMethod),
		TrustedDevices:   append([]string(nil), acc.TrustedDevices...),
		CreatedAt:        acc.CreatedAt,
	}
}

func fromRecord(rec flows.AccountRecord) *Account {
	return &Account{
		ID:                  rec.ID,
		Email:               rec.Email,
		Phone:               rec.Phone,
		Username:            rec.Username,
		PasswordHash:        rec.PasswordHash,
		Roles:               RoleSetFromStrings(rec.Roles),
		Status:              AccountStatus(rec.Status),
		IsActive:            rec.Active,
		FailedLoginAttempts: rec.FailedAttempts,
		LockedUntil:         cloneTime(rec.LockedUntil),
		TwoFactorEnabled:    rec.TwoFactorEnabled,
		TwoFactorMethod:     TwoFactorMethod(rec.TwoFactorMethod),
		TrustedDevices:      append([]string(nil), rec.TrustedDevices...),
		CreatedAt:           rec.CreatedAt,
		UpdatedAt:           rec.CreatedAt,
	}
}

func toLoginOutcome(out flows.Outcome) *LoginOutcome {
	res := &LoginOutcome{
		Kind:            OutcomeKind(out.Kind),
		AccountID:       out.AccountID,
		Roles:           RoleSetFromStrings(out.Roles),
		Status:          AccountStatus(out.Status),
		TwoFactorMethod: TwoFactorMethod(out.TwoFactorMethod),
	}
	switch res.Kind {
	case OutcomeSuccess:
		res.Tokens = &TokenPair{
			AccessToken:      out.AccessToken,
			RefreshToken:     out.RefreshToken,
			AccessExpiresAt:  out.AccessExpiresAt,
			RefreshExpiresAt: out.RefreshExpiresAt,
		}
		res.Message = "authenticated"
	case OutcomeRequiresTwoFactor:
		res.Message = "two-factor authentication required"
	case OutcomeRequiresVerification:
		res.Message = "account awaiting verification"
	case OutcomeDeviceVerificationRequired:
		res.Message = "verification code sent to the account phone"
	}
	return res
}

func (e *Engine) loadRecord(ctx context.Context, accountID string) (flows.AccountRecord, error) {
	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return flows.AccountRecord{}, storeError(err)
	}
	return toRecord(acc), nil
}

// otpError keeps otp sentinels intact and folds backend failures into
// ErrKVUnavailable.
func otpError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, otp.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrKVUnavailable, err)
	}
	return err
}

// limiterError folds limiter backend failures into ErrKVUnavailable.
func limiterError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, limiters.ErrUnavailable) {
		return fmt.Errorf("%w: %v", ErrKVUnavailable, err)
	}
	return err
}

func (e *Engine) sendOTP(ctx context.Context, identifier string, purpose otp.Purpose) error {
	if _, err := e.otp.Send(ctx, identifier, purpose); err != nil {
		return otpError(err)
	}
	e.metricInc(MetricOTPSent)
	return nil
}

func (e *Engine) verifyOTP(ctx context.Context, identifier, code string, purpose otp.Purpose) error {
	if err := e.otp.Verify(ctx, identifier, code, purpose); err != nil {
		e.metricInc(MetricOTPFailure)
		return otpError(err)
	}
	e.metricInc(MetricOTPVerified)
	return nil
}

// -------- TOKENS --------

func (e *Engine) issueAccess(acc flows.AccountRecord, deviceID string, ttl time.Duration) (string, error) {
	return e.jwtManager.IssueAccess(acc.ID, jwt.AccessExtras{
		Email:    acc.Email,
		Roles:    append([]string(nil), acc.Roles...),
		DeviceID: deviceID,
	}, ttl)
}

func (e *Engine) issueRefresh(accountID, deviceID string, ttl time.Duration) (string, time.Time, error) {
	token, claims, err := e.jwtManager.IssueRefresh(accountID, deviceID, ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

func (e *Engine) storeRefresh(ctx context.Context, accountID, token string, expires time.Time) error {
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		a.RefreshToken = token
		exp := expires
		a.RefreshTokenExpires = &exp
		a.UpdatedAt = e.now()
		return nil
	})
	return storeError(err)
}

// issueTokens runs token creation. A two-factor outcome opens a challenge
// that CompleteTwoFactorLogin must find.
func (e *Engine) issueTokens(ctx context.Context, acc flows.AccountRecord, deviceID string, secondFactorVerified bool) (flows.Outcome, error) {
	out, err := flows.RunIssueTokens(ctx, flows.IssueTokensInput{
		Account:              acc,
		DeviceID:             deviceID,
		SecondFactorVerified: secondFactorVerified,
	}, flows.IssueTokensDeps{
		AccessTTL:  e.config.JWT.AccessTTL,
		RefreshTTL: e.config.JWT.RefreshTTL,
		Now:        e.now,
		SendTwoFactorCode: func(ctx context.Context, phone string) error {
			return e.sendOTP(ctx, phone, otp.PurposeTwoFactor)
		},
		IssueAccess:  e.issueAccess,
		IssueRefresh: e.issueRefresh,
		StoreRefresh: e.storeRefresh,
		MetricInc:    e.flowMetric,
		EmitAudit:    e.flowAudit,
		Warn:         e.warn,
		Metrics: flows.IssueTokensMetrics{
			TwoFactorRequired:    int(MetricTwoFactorRequired),
			VerificationRequired: int(MetricVerificationRequired),
			TokensIssued:         int(MetricTokensIssued),
		},
		Events: flows.IssueTokensEvents{
			TwoFactorRequired:    auditEventTwoFactorRequired,
			VerificationRequired: auditEventVerificationRequired,
			TokensIssued:         auditEventTokensIssued,
		},
		Errors: flows.IssueTokensErrors{
			EngineNotReady: ErrEngineNotReady,
			OTPAlreadySent: ErrOTPAlreadySent,
		},
	})
	if err != nil {
		return flows.Outcome{}, err
	}
	if out.Kind == flows.OutcomeRequiresTwoFactor {
		if err := e.kv.Set(ctx, twoFactorLoginKey(acc.ID), "1", e.otp.TTL()); err != nil {
			return flows.Outcome{}, fmt.Errorf("%w: %v", ErrKVUnavailable, err)
		}
	}
	return out, nil
}

// Refresh rotates refreshToken and returns a new pair. Exactly one of several
// concurrent calls with the same token succeeds; every failure is
// ErrInvalidRefreshToken.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	out, err := flows.RunRefresh(ctx, refreshToken, flows.RefreshDeps{
		AccessTTL:  e.config.JWT.AccessTTL,
		RefreshTTL: e.config.JWT.RefreshTTL,
		Now:        e.now,
		ParseRefresh: func(token string) (string, string, error) {
			claims, err := e.jwtManager.ParseRefresh(token)
			if err != nil {
				return "", "", err
			}
			return claims.Subject, claims.DeviceID, nil
		},
		IssueAccess:  e.issueAccess,
		IssueRefresh: e.issueRefresh,
		Rotate: func(ctx context.Context, accountID, old, next string, nextExpiry, now time.Time) (flows.AccountRecord, error) {
			acc, err := e.store.RotateRefreshToken(ctx, accountID, old, next, nextExpiry, now)
			if err != nil {
				return flows.AccountRecord{}, storeError(err)
			}
			return toRecord(acc), nil
		},
		Revoke: func(ctx context.Context, accountID, token string) error {
			_, err := e.store.Update(ctx, accountID, func(a *Account) error {
				if a.RefreshToken == token {
					a.RefreshToken = ""
					a.RefreshTokenExpires = nil
				}
				return nil
			})
			return storeError(err)
		},
		MetricInc: e.flowMetric,
		EmitAudit: e.flowAudit,
		Warn:      e.warn,
		Metrics: flows.RefreshMetrics{
			Success: int(MetricRefreshSuccess),
			Failure: int(MetricRefreshFailure),
		},
		Events: flows.RefreshEvents{
			Success: auditEventRefreshSuccess,
			Failure: auditEventRefreshFailure,
		},
		Errors: flows.RefreshErrors{
			EngineNotReady:      ErrEngineNotReady,
			InvalidRefreshToken: ErrInvalidRefreshToken,
			AccountDisabled:     ErrAccountDisabled,
		},
	})
	if err != nil {
		return nil, err
	}
	return toLoginOutcome(out).Tokens, nil
}

// Logout clears the stored refresh token. Access tokens stay valid until
// they expire.
func (e *Engine) Logout(ctx context.Context, accountID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		a.RefreshToken = ""
		a.RefreshTokenExpires = nil
		a.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return storeError(err)
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, accountID, nil, nil)
	return nil
}

// AccessResult is the verified content of an access token.
type AccessResult struct {
	AccountID string
	Email     string
	Roles     RoleSet
	DeviceID  string
	ExpiresAt time.Time
}

// ValidateAccess verifies an access token without a store lookup.
func (e *Engine) ValidateAccess(tokenStr string) (*AccessResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrInvalidToken
	}
	res := &AccessResult{
		AccountID: claims.Subject,
		Email:     claims.Email,
		Roles:     RoleSetFromStrings(claims.Roles),
		DeviceID:  claims.DeviceID,
	}
	if claims.ExpiresAt != nil {
		res.ExpiresAt = claims.ExpiresAt.Time
	}
	return res, nil
}
