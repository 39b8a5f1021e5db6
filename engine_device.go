package charityauth

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/charityauth/device"
	"github.com/MrEthical07/charityauth/internal/flows"
	"github.com/MrEthical07/charityauth/kv"
	"github.com/MrEthical07/charityauth/otp"
)

func devicePendingKey(accountID, fingerprint string) string {
	return "dev_pending:" + accountID + ":" + fingerprint
}

// startDeviceElevation sends a device code to the account phone and records
// the pending elevation for the fingerprint. A code that is still live is
// reused.
func (e *Engine) startDeviceElevation(ctx context.Context, acc flows.AccountRecord, deviceID string) error {
	fp := device.Fingerprint(deviceID)
	if fp == "" {
		return ErrInvalidInput
	}

	sendErr := e.sendOTP(ctx, acc.Phone, otp.PurposeDevice)
	if sendErr != nil && !errors.Is(sendErr, ErrOTPAlreadySent) {
		return sendErr
	}
	if err := e.kv.Set(ctx, devicePendingKey(acc.ID, fp), "1", e.otp.TTL()); err != nil {
		return fmt.Errorf("%w: %v", ErrKVUnavailable, err)
	}
	return sendErr
}

// VerifyDevice completes a device elevation started by Login. On success the
// device is trusted and token creation runs as if the login had passed the
// device gate.
func (e *Engine) VerifyDevice(ctx context.Context, accountID, deviceID, code string) (*LoginOutcome, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	fp := device.Fingerprint(deviceID)
	if fp == "" || accountID == "" {
		return nil, ErrInvalidInput
	}

	acc, err := e.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError(err)
	}

	pendingKey := devicePendingKey(acc.ID, fp)
	if _, err := e.kv.Get(ctx, pendingKey); err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, ErrDeviceVerificationRequired
		}
		return nil, fmt.Errorf("%w: %v", ErrKVUnavailable, err)
	}

	if err := e.verifyOTP(ctx, acc.Phone, code, otp.PurposeDevice); err != nil {
		e.emitAudit(ctx, auditEventDeviceVerificationPending, false, acc.ID, err, nil)
		return nil, err
	}
	if err := e.kv.Delete(ctx, pendingKey); err != nil {
		e.warn("clear device elevation", "account_id", acc.ID, "error", err)
	}

	if !acc.IsActive || acc.Status == StatusSuspended {
		return nil, ErrAccountDisabled
	}

	updated, err := e.store.Update(ctx, acc.ID, func(a *Account) error {
		a.TrustedDevices, _ = device.Trust(a.TrustedDevices, deviceID)
		a.UpdatedAt = e.now()
		return nil
	})
	if err != nil {
		return nil, storeError(err)
	}
	e.metricInc(MetricDeviceTrusted)
	e.emitAudit(ctx, auditEventDeviceTrusted, true, acc.ID, nil, nil)

	if err := e.store.RecordLoginSuccess(ctx, acc.ID, clientIPFromContext(ctx), e.now()); err != nil {
		return nil, storeError(err)
	}

	out, err := e.issueTokens(ctx, toRecord(updated), deviceID, false)
	if err != nil {
		return nil, err
	}
	return toLoginOutcome(out), nil
}

// TrustDevice adds deviceID to the account's trusted set. Trusting a device
// twice is a no-op.
func (e *Engine) TrustDevice(ctx context.Context, accountID, deviceID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if device.Fingerprint(deviceID) == "" {
		return ErrInvalidInput
	}

	var changed bool
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		a.TrustedDevices, changed = device.Trust(a.TrustedDevices, deviceID)
		if changed {
			a.UpdatedAt = e.now()
		}
		return nil
	})
	if err != nil {
		return storeError(err)
	}
	if changed {
		e.metricInc(MetricDeviceTrusted)
		e.emitAudit(ctx, auditEventDeviceTrusted, true, accountID, nil, nil)
	}
	return nil
}

// RevokeDevice removes deviceID from the trusted set. The next login from it
// goes through elevation again.
func (e *Engine) RevokeDevice(ctx context.Context, accountID, deviceID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if device.Fingerprint(deviceID) == "" {
		return ErrInvalidInput
	}

	var changed bool
	_, err := e.store.Update(ctx, accountID, func(a *Account) error {
		a.TrustedDevices, changed = device.Revoke(a.TrustedDevices, deviceID)
		if changed {
			a.UpdatedAt = e.now()
		}
		return nil
	})
	if err != nil {
		return storeError(err)
	}
	if changed {
		e.metricInc(MetricDeviceRevoked)
		e.emitAudit(ctx, auditEventDeviceRevoked, true, accountID, nil, nil)
	}
	return nil
}
