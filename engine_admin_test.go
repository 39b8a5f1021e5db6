package charityauth

import (
	"context"
	"errors"
	"testing"
)

func TestBulkCreateAccounts(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	env.register(t, "exists@example.org", "", RoleDonor)

	rows := []BulkAccountInput{
		{Email: "Vol1@Example.org", Username: "vol1"},
		{Phone: "+1 555 010 0050"},
		{Email: "exists@example.org"},
		{},
	}
	results, err := env.engine.BulkCreateAccounts(ctx, RoleVolunteer, rows, true)
	if err != nil {
		t.Fatalf("bulk create: %v", err)
	}
	if len(results) != len(rows) {
		t.Fatalf("expected one result per row, got %d", len(results))
	}

	for i := 0; i < 2; i++ {
		res := results[i]
		if res.Err != nil || res.AccountID == "" || len(res.Password) != 12 {
			t.Fatalf("row %d: unexpected result %+v", i, res)
		}
		acc := env.account(t, res.AccountID)
		if acc.Status != StatusActive || !acc.Roles.Has(RoleVolunteer) {
			t.Fatalf("row %d: unexpected account %+v", i, acc)
		}
	}
	if results[0].Email != "vol1@example.org" || results[1].Phone != "+15550100050" {
		t.Fatalf("expected normalized identifiers, got %+v", results[:2])
	}
	if !errors.Is(results[2].Err, ErrDuplicateAccount) {
		t.Fatalf("expected duplicate row to fail, got %v", results[2].Err)
	}
	if !errors.Is(results[3].Err, ErrInvalidInput) {
		t.Fatalf("expected empty row to fail, got %v", results[3].Err)
	}

	out, err := env.login("vol1@example.org", results[0].Password, "")
	if err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("expected generated password to work, got %+v err=%v", out, err)
	}

	created := 0
	for _, n := range env.notifier.sent {
		if n.Kind == NotifyAccountCreated {
			created++
			if n.Data["temporary_password"] == "" || n.Data["role"] != string(RoleVolunteer) {
				t.Fatalf("unexpected notification data: %+v", n.Data)
			}
		}
	}
	if created != 2 {
		t.Fatalf("expected two account notifications, got %d", created)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricBulkAccountsCreated]; got != 2 {
		t.Fatalf("expected bulk metric 2, got %d", got)
	}
}

func TestBulkCreateRejectsPrivilegedRoles(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for _, role := range []Role{RoleSuperAdmin, "NOBODY"} {
		if _, err := env.engine.BulkCreateAccounts(ctx, role, []BulkAccountInput{{Email: "x@example.org"}}, false); !errors.Is(err, ErrRoleNotAllowed) {
			t.Fatalf("%s: expected ErrRoleNotAllowed, got %v", role, err)
		}
	}
}

func TestSetAccountStatusTransitions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "status@example.org", "", RoleDonor)

	if err := env.engine.SetAccountStatus(ctx, reg.AccountID, StatusRejected, "admin-1"); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected ACTIVE -> REJECTED to fail, got %v", err)
	}
	if err := env.engine.SetAccountStatus(ctx, reg.AccountID, StatusActive, "admin-1"); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("expected same status to fail, got %v", err)
	}

	if err := env.engine.SetAccountStatus(ctx, reg.AccountID, StatusSuspended, "admin-1"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if env.account(t, reg.AccountID).RefreshToken != "" {
		t.Fatal("expected suspension to sign the account out")
	}
	if _, err := env.login("status@example.org", testPassword, ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected suspended login to fail, got %v", err)
	}

	if err := env.engine.SetAccountStatus(ctx, reg.AccountID, StatusActive, "admin-1"); err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if out, err := env.login("status@example.org", testPassword, ""); err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("expected login after reactivation, got %+v err=%v", out, err)
	}

	if err := env.engine.SetAccountStatus(ctx, "missing", StatusSuspended, "admin-1"); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestSetAccountActive(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	reg := env.register(t, "soft@example.org", "", RoleDonor)

	if err := env.engine.SetAccountActive(ctx, reg.AccountID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, reg.Tokens.RefreshToken); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected refresh to fail once disabled, got %v", err)
	}
	if _, err := env.login("soft@example.org", testPassword, ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected disabled login to fail, got %v", err)
	}

	if err := env.engine.SetAccountActive(ctx, reg.AccountID, true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	acc, err := env.engine.GetAccount(ctx, reg.AccountID)
	if err != nil || !acc.IsActive {
		t.Fatalf("expected active account, got %+v err=%v", acc, err)
	}
}
