package charityauth

import (
	"context"
	"errors"
	"testing"

	"github.com/MrEthical07/charityauth/device"
)

func TestDeviceGateElevatesUntrustedDevice(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	const phone = "+15550100002"
	reg := env.register(t, "dev@example.org", phone, RoleDonor)

	out, err := env.login("dev@example.org", testPassword, "laptop-1")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if !out.RequiresDeviceVerification() || out.Tokens != nil {
		t.Fatalf("expected device verification outcome, got %+v", out)
	}
	if !errors.Is(out.Err(), ErrDeviceVerificationRequired) {
		t.Fatalf("expected Err() to map to ErrDeviceVerificationRequired, got %v", out.Err())
	}

	code := env.transport.lastCode(t, phone, "device")
	if _, err := env.engine.VerifyDevice(ctx, reg.AccountID, "laptop-2", code); !errors.Is(err, ErrDeviceVerificationRequired) {
		t.Fatalf("expected other device to have no pending elevation, got %v", err)
	}

	verified, err := env.engine.VerifyDevice(ctx, reg.AccountID, "laptop-1", code)
	if err != nil {
		t.Fatalf("verify device: %v", err)
	}
	if verified.Kind != OutcomeSuccess || verified.Tokens == nil {
		t.Fatalf("expected tokens after device verification, got %+v", verified)
	}
	if !device.IsTrusted(env.account(t, reg.AccountID).TrustedDevices, "laptop-1") {
		t.Fatal("expected device to be trusted")
	}

	out, err = env.login("dev@example.org", testPassword, "laptop-1")
	if err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("expected trusted device to pass, got %+v err=%v", out, err)
	}

	if err := env.engine.RevokeDevice(ctx, reg.AccountID, "laptop-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	out, err = env.login("dev@example.org", testPassword, "laptop-1")
	if err != nil || !out.RequiresDeviceVerification() {
		t.Fatalf("expected revoked device to be elevated again, got %+v err=%v", out, err)
	}
}

func TestDeviceGateReusesLiveCode(t *testing.T) {
	env := newTestEnv(t, nil)
	const phone = "+15550100003"
	env.register(t, "twice@example.org", phone, RoleDonor)

	for i := 0; i < 2; i++ {
		out, err := env.login("twice@example.org", testPassword, "tablet")
		if err != nil || !out.RequiresDeviceVerification() {
			t.Fatalf("attempt %d: expected device outcome, got %+v err=%v", i, out, err)
		}
	}
	if got := env.transport.count(phone); got != 2 {
		t.Fatalf("expected register code plus one device code, got %d messages", got)
	}
}

func TestDeviceGateSkippedWithoutPhoneOrWhenDisabled(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "nophone@example.org", "", RoleDonor)
	out, err := env.login("nophone@example.org", testPassword, "any-device")
	if err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("expected account without phone to pass, got %+v err=%v", out, err)
	}

	off := newTestEnv(t, func(c *Config) { c.Device.Enabled = false })
	off.register(t, "off@example.org", "+15550100004", RoleDonor)
	out, err = off.login("off@example.org", testPassword, "any-device")
	if err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("expected disabled device trust to pass, got %+v err=%v", out, err)
	}
}

func TestTrustAndRevokeAreIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "idem@example.org", "", RoleDonor)

	for i := 0; i < 2; i++ {
		if err := env.engine.TrustDevice(ctx, reg.AccountID, "phone-1"); err != nil {
			t.Fatalf("trust: %v", err)
		}
	}
	if n := len(env.account(t, reg.AccountID).TrustedDevices); n != 1 {
		t.Fatalf("expected one trusted device, got %d", n)
	}
	for i := 0; i < 2; i++ {
		if err := env.engine.RevokeDevice(ctx, reg.AccountID, "phone-1"); err != nil {
			t.Fatalf("revoke: %v", err)
		}
	}
	if n := len(env.account(t, reg.AccountID).TrustedDevices); n != 0 {
		t.Fatalf("expected no trusted devices, got %d", n)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricDeviceTrusted]; got != 1 {
		t.Fatalf("expected one trust metric, got %d", got)
	}
	if err := env.engine.TrustDevice(ctx, reg.AccountID, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected blank device to be rejected, got %v", err)
	}
}
