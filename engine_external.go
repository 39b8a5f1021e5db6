package charityauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/charityauth/device"
	"github.com/MrEthical07/charityauth/internal/flows"
	"github.com/MrEthical07/charityauth/lockout"
)

// LoginWithExternal signs in with a provider ID token. The provider's
// verified email selects the account; an unknown email creates one with
// in.Role (RoleUser when empty) and no password. Lockout, soft-disable,
// device trust and two-factor apply exactly as for a password login.
//
// Returns ErrExternalAuthDisabled when no verifier is configured.
func (e *Engine) LoginWithExternal(ctx context.Context, in ExternalLoginInput) (*LoginOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	if e.identity == nil {
		return nil, ErrExternalAuthDisabled
	}
	if e.metrics != nil && e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()
	}

	fail := func(accountID string, err error) (*LoginOutcome, error) {
		e.metricInc(MetricExternalLoginFailure)
		e.emitAudit(ctx, auditEventExternalLoginFailure, false, accountID, err, nil)
		return nil, err
	}

	id, err := e.identity.VerifyIDToken(ctx, in.IDToken)
	if err != nil {
		if !errors.Is(err, ErrExternalIdentityRejected) && !errors.Is(err, ErrExternalAuthUnavailable) {
			err = fmt.Errorf("%w: %v", ErrExternalAuthUnavailable, err)
		}
		return fail("", err)
	}
	email := strings.ToLower(strings.TrimSpace(id.Email))
	if email == "" || !id.EmailVerified {
		return fail("", ErrExternalIdentityRejected)
	}

	acc, created, err := e.externalAccount(ctx, email, id.Name, in.Role)
	if err != nil {
		return fail("", err)
	}
	rec := toRecord(acc)
	if created {
		e.emitAudit(ctx, auditEventExternalAccountCreated, true, acc.ID, nil, func() map[string]string {
			return map[string]string{"provider": id.Provider, "role": strings.Join(rec.Roles, ",")}
		})
	}

	now := e.now()
	if err := e.guard.Check(lockout.State{FailedAttempts: acc.FailedLoginAttempts, LockedUntil: acc.LockedUntil}, now); err != nil {
		e.metricInc(MetricAccountLocked)
		return fail(acc.ID, err)
	}
	if !acc.IsActive || acc.Status == StatusSuspended {
		e.metricInc(MetricAccountDisabled)
		return fail(acc.ID, ErrAccountDisabled)
	}

	if e.config.Device.Enabled && strings.TrimSpace(in.DeviceID) != "" && acc.Phone != "" &&
		!device.IsTrusted(acc.TrustedDevices, in.DeviceID) {
		if err := e.startDeviceElevation(ctx, rec, in.DeviceID); err != nil && !errors.Is(err, ErrOTPAlreadySent) {
			return nil, err
		}
		e.metricInc(MetricDeviceVerificationRequired)
		e.emitAudit(ctx, auditEventDeviceVerificationPending, true, acc.ID, nil, nil)
		return toLoginOutcome(flows.Outcome{
			Kind:      flows.OutcomeDeviceVerificationRequired,
			AccountID: acc.ID,
			Roles:     rec.Roles,
			Status:    rec.Status,
		}), nil
	}

	ip := firstNonEmpty(in.ClientIP, clientIPFromContext(ctx))
	if err := storeError(e.store.RecordLoginSuccess(ctx, acc.ID, ip, now)); err != nil {
		if errors.Is(err, ErrAccountLocked) {
			e.metricInc(MetricAccountLocked)
			return fail(acc.ID, err)
		}
		return nil, err
	}
	rec.FailedAttempts = 0
	rec.LockedUntil = nil

	out, err := e.issueTokens(ctx, rec, in.DeviceID, false)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricExternalLoginSuccess)
	e.emitAudit(ctx, auditEventExternalLogin, true, acc.ID, nil, func() map[string]string {
		return map[string]string{"provider": id.Provider}
	})
	return toLoginOutcome(out), nil
}

// externalAccount finds the account for a provider-verified email or creates
// a passwordless one. created is false when a concurrent sign-in won the race.
func (e *Engine) externalAccount(ctx context.Context, email, name string, role Role) (*Account, bool, error) {
	acc, err := e.store.GetByEmail(ctx, email)
	if err == nil {
		return acc, false, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, false, storeError(err)
	}

	if role == "" {
		role = RoleUser
	}
	if _, ok := e.allowedRoles[role]; !ok {
		return nil, false, ErrRoleNotAllowed
	}
	status := StatusActive
	if role.RequiresVerification() {
		status = StatusNeedVerification
	}

	now := e.now()
	acc = &Account{
		ID:        e.newID(),
		Email:     email,
		Username:  strings.TrimSpace(name),
		Roles:     RoleSet{role},
		Status:    status,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.store.Create(ctx, acc); err != nil {
		if !errors.Is(err, ErrDuplicateAccount) {
			return nil, false, storeError(err)
		}
		acc, err = e.store.GetByEmail(ctx, email)
		if err != nil {
			return nil, false, storeError(err)
		}
		return acc, false, nil
	}
	return acc, true, nil
}
