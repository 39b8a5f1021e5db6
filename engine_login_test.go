package charityauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/charityauth/password"
)

func TestLoginSuccessIssuesTokens(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := env.register(t, "donor@example.org", "", RoleDonor)
	if reg.Kind != OutcomeSuccess || reg.Tokens == nil {
		t.Fatalf("expected registration to issue tokens, got %+v", reg)
	}

	out, err := env.login("DONOR@example.org", testPassword, "")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if out.Kind != OutcomeSuccess || out.Tokens == nil {
		t.Fatalf("expected success outcome, got %+v", out)
	}
	if !out.Roles.Has(RoleDonor) {
		t.Fatalf("expected DONOR role, got %v", out.Roles)
	}

	res, err := env.engine.ValidateAccess(out.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if res.AccountID != reg.AccountID || res.Email != "donor@example.org" {
		t.Fatalf("unexpected access claims: %+v", res)
	}

	acc := env.account(t, reg.AccountID)
	if acc.RefreshToken != out.Tokens.RefreshToken {
		t.Fatal("expected the latest refresh token to be stored")
	}
	if acc.LastLoginAt == nil || !acc.LastLoginAt.Equal(env.clock.Now()) {
		t.Fatalf("expected last login stamp, got %v", acc.LastLoginAt)
	}
	if env.delayCount() != 0 {
		t.Fatalf("expected no failure delay on success, got %d", env.delayCount())
	}
}

func TestLoginUnknownAndWrongPasswordAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t, nil)
	env.register(t, "a@example.org", "", RoleDonor)

	_, errUnknown := env.login("nobody@example.org", testPassword, "")
	_, errWrong := env.login("a@example.org", "Wr0ng!Pass", "")

	if !errors.Is(errUnknown, ErrInvalidCredentials) || !errors.Is(errWrong, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for both, got %v / %v", errUnknown, errWrong)
	}
	if errUnknown.Error() != errWrong.Error() {
		t.Fatalf("expected identical messages, got %q / %q", errUnknown, errWrong)
	}
	if env.delayCount() != 2 {
		t.Fatalf("expected a delay on both failures, got %d", env.delayCount())
	}
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := env.register(t, "lock@example.org", "", RoleDonor)

	for i := 0; i < 5; i++ {
		if _, err := env.login("lock@example.org", "Wr0ng!Pass", ""); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i+1, err)
		}
	}

	acc := env.account(t, reg.AccountID)
	if acc.LockedUntil == nil || !acc.LockedUntil.Equal(env.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("expected 30 minute lock, got %v", acc.LockedUntil)
	}
	if acc.FailedLoginAttempts != 0 {
		t.Fatalf("expected counter reset on lock, got %d", acc.FailedLoginAttempts)
	}

	if _, err := env.login("lock@example.org", testPassword, ""); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected ErrAccountLocked with the right password, got %v", err)
	}

	env.clock.Advance(30*time.Minute + time.Second)
	out, err := env.login("lock@example.org", testPassword, "")
	if err != nil || out.Kind != OutcomeSuccess {
		t.Fatalf("expected login after lock expiry, got %+v err=%v", out, err)
	}

	acc = env.account(t, reg.AccountID)
	if acc.LockedUntil != nil || acc.FailedLoginAttempts != 0 {
		t.Fatalf("expected lock state cleared, got %+v", acc)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricAccountLocked]; got < 1 {
		t.Fatalf("expected account locked metric, got %d", got)
	}
}

// staleLookupStore serves a frozen account snapshot to login lookups, the
// view every request in a burst gets when all reads land before any write.
type staleLookupStore struct {
	*MemoryAccountStore
	mu       sync.Mutex
	snapshot *Account
}

func (s *staleLookupStore) freeze(t *testing.T, id string) {
	t.Helper()
	acc, err := s.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("snapshot %s: %v", id, err)
	}
	s.mu.Lock()
	s.snapshot = acc
	s.mu.Unlock()
}

func (s *staleLookupStore) FindByEmailOrPhone(ctx context.Context, identifier string) (*Account, error) {
	s.mu.Lock()
	snap := s.snapshot
	s.mu.Unlock()
	if snap != nil {
		return snap.Clone(), nil
	}
	return s.MemoryAccountStore.FindByEmailOrPhone(ctx, identifier)
}

func TestLoginBurstFromStaleReadsLocksOnce(t *testing.T) {
	store := &staleLookupStore{MemoryAccountStore: NewMemoryAccountStore()}
	env := newTestEnv(t, nil, func(b *Builder) { b.WithAccountStore(store) })
	reg := env.register(t, "burst@example.org", "", RoleDonor)
	store.freeze(t, reg.AccountID)

	const wrong = 11
	var wg sync.WaitGroup
	results := make(chan error, wrong)
	for i := 0; i < wrong; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.login("burst@example.org", "Wr0ng!Pass", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	counted, refused := 0, 0
	for err := range results {
		switch {
		case errors.Is(err, ErrInvalidCredentials):
			counted++
		case errors.Is(err, ErrAccountLocked):
			refused++
		default:
			t.Fatalf("unexpected login error: %v", err)
		}
	}
	if counted != 5 || refused != wrong-5 {
		t.Fatalf("expected 5 counted and %d refused failures, got %d / %d", wrong-5, counted, refused)
	}

	out, err := env.login("burst@example.org", testPassword, "")
	if !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected the correct password to be refused once locked, got %+v err=%v", out, err)
	}

	acc, err := store.GetByID(context.Background(), reg.AccountID)
	if err != nil {
		t.Fatalf("load account: %v", err)
	}
	if acc.LockedUntil == nil || !acc.LockedUntil.Equal(env.clock.Now().Add(30*time.Minute)) {
		t.Fatalf("expected a single 30 minute lock, got %v", acc.LockedUntil)
	}
	if acc.LastLoginAt != nil && acc.LastLoginAt.Equal(env.clock.Now()) {
		t.Fatal("expected the refused login not to be stamped")
	}
}

func TestLoginUnknownIdentifierVerifiesAHash(t *testing.T) {
	env := newTestEnv(t, nil)
	if env.engine.dummyHash == "" {
		t.Fatal("expected a dummy hash to be prepared at build")
	}
	if ok, err := env.engine.hasher.Verify(testPassword, env.engine.dummyHash); err != nil || ok {
		t.Fatalf("expected the dummy hash to be well-formed and never match, got ok=%v err=%v", ok, err)
	}
}

func TestLoginSuccessResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := env.register(t, "reset@example.org", "", RoleDonor)

	for i := 0; i < 4; i++ {
		_, _ = env.login("reset@example.org", "Wr0ng!Pass", "")
	}
	if _, err := env.login("reset@example.org", testPassword, ""); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if got := env.account(t, reg.AccountID).FailedLoginAttempts; got != 0 {
		t.Fatalf("expected counter reset, got %d", got)
	}

	for i := 0; i < 4; i++ {
		_, _ = env.login("reset@example.org", "Wr0ng!Pass", "")
	}
	if _, err := env.login("reset@example.org", testPassword, ""); err != nil {
		t.Fatalf("expected four fresh failures not to lock, got %v", err)
	}
}

func TestLoginDisabledAndSuspended(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	a := env.register(t, "off@example.org", "", RoleDonor)
	b := env.register(t, "susp@example.org", "", RoleDonor)

	if err := env.engine.SetAccountActive(ctx, a.AccountID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if err := env.engine.SetAccountStatus(ctx, b.AccountID, StatusSuspended, "admin-1"); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	if _, err := env.login("off@example.org", testPassword, ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled, got %v", err)
	}
	if _, err := env.login("susp@example.org", testPassword, ""); !errors.Is(err, ErrAccountDisabled) {
		t.Fatalf("expected ErrAccountDisabled for suspended, got %v", err)
	}
	if env.delayCount() != 2 {
		t.Fatalf("expected delay on disabled paths, got %d", env.delayCount())
	}
	if _, err := env.login("off@example.org", "Wr0ng!Pass", ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected wrong password to win over disabled, got %v", err)
	}
}

func TestLoginByPhone(t *testing.T) {
	env := newTestEnv(t, nil)
	reg := env.register(t, "", "+15550100001", RoleDonor)

	out, err := env.login("+1 555-010-0001", testPassword, "")
	if err != nil || out.AccountID != reg.AccountID {
		t.Fatalf("expected phone login, got %+v err=%v", out, err)
	}
}

func TestLoginUpgradesLegacyBcryptHash(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	legacy, err := password.NewBcrypt(4)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	hash, err := legacy.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if err := env.store.Create(ctx, &Account{
		ID:           "legacy-1",
		Email:        "old@example.org",
		PasswordHash: hash,
		Roles:        RoleSet{RoleDonor},
		Status:       StatusActive,
		IsActive:     true,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := env.login("old@example.org", testPassword, ""); err != nil {
		t.Fatalf("legacy login failed: %v", err)
	}
	upgraded := env.account(t, "legacy-1").PasswordHash
	if upgraded == hash || upgraded[:len("$argon2id$")] != "$argon2id$" {
		t.Fatalf("expected argon2id rehash, got %q", upgraded)
	}
	if _, err := env.login("old@example.org", testPassword, ""); err != nil {
		t.Fatalf("login after upgrade failed: %v", err)
	}
}

func TestLoginLatencyHistogram(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Metrics.EnableLatencyHistograms = true
	})
	env.register(t, "lat@example.org", "", RoleDonor)
	_, _ = env.login("lat@example.org", testPassword, "")

	buckets := env.engine.MetricsSnapshot().Histograms[MetricLoginLatency]
	var total uint64
	for _, b := range buckets {
		total += b
	}
	if total != 1 {
		t.Fatalf("expected one latency observation, got %v", buckets)
	}
}
