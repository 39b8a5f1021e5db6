// Package storetest holds the behavioural suite every AccountStore
// implementation must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/charityauth"
	"github.com/MrEthical07/charityauth/lockout"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store. It is called once per subtest.
type Factory func(t *testing.T) charityauth.AccountStore

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// Run exercises store semantics the engine relies on.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndLookup", func(t *testing.T) { testCreateAndLookup(t, newStore(t)) })
	t.Run("DuplicateIdentifiers", func(t *testing.T) { testDuplicates(t, newStore(t)) })
	t.Run("UpdateRollsBackOnError", func(t *testing.T) { testUpdateRollback(t, newStore(t)) })
	t.Run("LoginFailureLocks", func(t *testing.T) { testLoginFailure(t, newStore(t)) })
	t.Run("LoginFailureBurstLocksOnce", func(t *testing.T) { testLoginFailureBurst(t, newStore(t)) })
	t.Run("RotateRefreshToken", func(t *testing.T) { testRotate(t, newStore(t)) })
	t.Run("RotateRefreshTokenSingleWinner", func(t *testing.T) { testRotateRace(t, newStore(t)) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newStore(t)) })
	t.Run("ListPendingVerifications", func(t *testing.T) { testListPending(t, newStore(t)) })
}

func newAccount(id, email, phone string) *charityauth.Account {
	return &charityauth.Account{
		ID:           id,
		Email:        email,
		Phone:        phone,
		PasswordHash: "$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$aGFzaGhhc2hoYXNoaGFzaGhhc2hoYXNoaGFzaGhhc2g",
		Roles:        charityauth.RoleSet{charityauth.RoleDonor},
		Status:       charityauth.StatusActive,
		IsActive:     true,
		CreatedAt:    base,
		UpdatedAt:    base,
	}
}

func mustCreate(t *testing.T, s charityauth.AccountStore, acc *charityauth.Account) {
	t.Helper()
	require.NoError(t, s.Create(context.Background(), acc))
}

func testCreateAndLookup(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acc-1", "donor@example.org", "+15550100001"))

	byID, err := s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "donor@example.org", byID.Email)
	assert.True(t, byID.Roles.Has(charityauth.RoleDonor))

	byEmail, err := s.GetByEmail(ctx, "DONOR@example.org")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", byEmail.ID)

	byPhone, err := s.FindByEmailOrPhone(ctx, "+15550100001")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", byPhone.ID)

	_, err = s.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, charityauth.ErrAccountNotFound)
	_, err = s.FindByEmailOrPhone(ctx, "nobody@example.org")
	assert.ErrorIs(t, err, charityauth.ErrAccountNotFound)

	byID.Email = "mutated@example.org"
	again, err := s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "donor@example.org", again.Email, "returned accounts must be copies")
}

func testDuplicates(t *testing.T, s charityauth.AccountStore) {
	mustCreate(t, s, newAccount("acc-1", "a@example.org", "+15550100001"))
	mustCreate(t, s, newAccount("acc-2", "b@example.org", ""))

	err := s.Create(context.Background(), newAccount("acc-3", "A@example.org", ""))
	assert.ErrorIs(t, err, charityauth.ErrDuplicateAccount)
	err = s.Create(context.Background(), newAccount("acc-4", "c@example.org", "+15550100001"))
	assert.ErrorIs(t, err, charityauth.ErrDuplicateAccount)

	_, err = s.Update(context.Background(), "acc-2", func(a *charityauth.Account) error {
		a.Email = "a@example.org"
		return nil
	})
	assert.ErrorIs(t, err, charityauth.ErrDuplicateAccount)
}

func testUpdateRollback(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acc-1", "a@example.org", ""))

	boom := errors.New("boom")
	_, err := s.Update(ctx, "acc-1", func(a *charityauth.Account) error {
		a.Status = charityauth.StatusSuspended
		return boom
	})
	require.ErrorIs(t, err, boom)

	acc, err := s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, charityauth.StatusActive, acc.Status)

	updated, err := s.Update(ctx, "acc-1", func(a *charityauth.Account) error {
		a.TrustedDevices = []string{"fp-1"}
		a.PhoneVerified = true
		a.TwoFactorLastStep = 56_666_667
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"fp-1"}, updated.TrustedDevices)
	assert.True(t, updated.PhoneVerified)

	reloaded, err := s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(56_666_667), reloaded.TwoFactorLastStep)

	_, err = s.Update(ctx, "missing", func(*charityauth.Account) error { return nil })
	assert.ErrorIs(t, err, charityauth.ErrAccountNotFound)
}

func testLoginFailure(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acc-1", "a@example.org", ""))
	policy := lockout.DefaultPolicy()

	var acc *charityauth.Account
	var err error
	for i := 0; i < policy.Threshold; i++ {
		acc, err = s.RecordLoginFailure(ctx, "acc-1", policy, base)
		require.NoError(t, err)
	}
	assert.Zero(t, acc.FailedLoginAttempts, "the counter restarts once the lock is set")
	require.NotNil(t, acc.LockedUntil)
	assert.True(t, acc.LockedUntil.Equal(base.Add(policy.Duration)))

	during := base.Add(time.Minute)
	_, err = s.RecordLoginFailure(ctx, "acc-1", policy, during)
	assert.ErrorIs(t, err, charityauth.ErrAccountLocked, "failures are not counted while locked")
	assert.ErrorIs(t, s.RecordLoginSuccess(ctx, "acc-1", "198.51.100.7", during), charityauth.ErrAccountLocked)
	acc, err = s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, acc.LockedUntil, "a refused success keeps the lock")
	assert.Nil(t, acc.LastLoginAt)

	assert.ErrorIs(t, s.RecordLoginSuccess(ctx, "missing", "198.51.100.7", base), charityauth.ErrAccountNotFound)

	require.NoError(t, s.RecordLoginSuccess(ctx, "acc-1", "198.51.100.7", base.Add(time.Hour)))
	acc, err = s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Zero(t, acc.FailedLoginAttempts)
	assert.Nil(t, acc.LockedUntil)
	assert.Equal(t, "198.51.100.7", acc.LastLoginIP)
	require.NotNil(t, acc.LastLoginAt)
}

func testLoginFailureBurst(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acc-1", "a@example.org", ""))
	policy := lockout.DefaultPolicy()

	const n = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	counted, refused := 0, 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.RecordLoginFailure(ctx, "acc-1", policy, base)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				counted++
			case errors.Is(err, charityauth.ErrAccountLocked):
				refused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, policy.Threshold, counted, "exactly threshold failures are counted")
	assert.Equal(t, n-policy.Threshold, refused)

	acc, err := s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, acc.LockedUntil)
	assert.True(t, acc.LockedUntil.Equal(base.Add(policy.Duration)), "the lock is set once and never extended")
	assert.ErrorIs(t, s.RecordLoginSuccess(ctx, "acc-1", "198.51.100.7", base), charityauth.ErrAccountLocked)
}

func setRefresh(t *testing.T, s charityauth.AccountStore, id, token string, exp time.Time) {
	t.Helper()
	_, err := s.Update(context.Background(), id, func(a *charityauth.Account) error {
		a.RefreshToken = token
		a.RefreshTokenExpires = &exp
		return nil
	})
	require.NoError(t, err)
}

func testRotate(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acc-1", "a@example.org", ""))
	setRefresh(t, s, "acc-1", "r1", base.Add(time.Hour))

	acc, err := s.RotateRefreshToken(ctx, "acc-1", "r1", "r2", base.Add(2*time.Hour), base)
	require.NoError(t, err)
	assert.Equal(t, "r2", acc.RefreshToken)

	_, err = s.RotateRefreshToken(ctx, "acc-1", "r1", "r3", base.Add(2*time.Hour), base)
	assert.ErrorIs(t, err, charityauth.ErrInvalidRefreshToken)

	_, err = s.RotateRefreshToken(ctx, "acc-1", "r2", "r3", base.Add(3*time.Hour), base.Add(3*time.Hour))
	assert.ErrorIs(t, err, charityauth.ErrInvalidRefreshToken, "expired token must not rotate")

	_, err = s.RotateRefreshToken(ctx, "acc-1", "", "r3", base.Add(time.Hour), base)
	assert.ErrorIs(t, err, charityauth.ErrInvalidRefreshToken)
}

func testRotateRace(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acc-1", "a@example.org", ""))
	setRefresh(t, s, "acc-1", "seed", base.Add(time.Hour))

	const n = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.RotateRefreshToken(ctx, "acc-1", "seed", fmt.Sprintf("next-%d", i), base.Add(2*time.Hour), base)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, charityauth.ErrInvalidRefreshToken)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func docs(accountID string, at time.Time, types ...charityauth.DocumentType) []charityauth.VerificationDocument {
	out := make([]charityauth.VerificationDocument, 0, len(types))
	for i, typ := range types {
		out = append(out, charityauth.VerificationDocument{
			ID:          fmt.Sprintf("%s-doc-%d-%d", accountID, at.Unix(), i),
			AccountID:   accountID,
			Type:        typ,
			FileURL:     "https://files.example.org/" + string(typ),
			Status:      charityauth.DocumentPending,
			SubmittedAt: at,
		})
	}
	return out
}

func testDocuments(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	mustCreate(t, s, newAccount("acc-1", "a@example.org", ""))

	_, _, err := s.ReviewPendingDocuments(ctx, "acc-1", "admin", true, "", base)
	assert.ErrorIs(t, err, charityauth.ErrNoPendingDocuments)

	require.NoError(t, s.AddDocuments(ctx, "acc-1", docs("acc-1", base, charityauth.DocumentNationalID, charityauth.DocumentLetterOfRequest)))
	acc, err := s.GetByID(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, charityauth.StatusNeedVerification, acc.Status)

	pending, err := s.PendingDocuments(ctx, "acc-1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	acc, n, err := s.ReviewPendingDocuments(ctx, "acc-1", "admin-1", false, "unreadable", base.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, charityauth.StatusRejected, acc.Status)

	pending, err = s.PendingDocuments(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, s.AddDocuments(ctx, "acc-1", docs("acc-1", base.Add(time.Hour), charityauth.DocumentNationalID)))
	acc, n, err = s.ReviewPendingDocuments(ctx, "acc-1", "admin-2", true, "", base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "earlier rejected documents stay reviewed")
	assert.Equal(t, charityauth.StatusActive, acc.Status)
	assert.Equal(t, "admin-2", acc.VerifiedBy)
	require.NotNil(t, acc.VerifiedAt)

	err = s.AddDocuments(ctx, "missing", docs("missing", base, charityauth.DocumentNationalID))
	assert.ErrorIs(t, err, charityauth.ErrAccountNotFound)
}

func testListPending(t *testing.T, s charityauth.AccountStore) {
	ctx := context.Background()
	for i, id := range []string{"acc-1", "acc-2", "acc-3"} {
		mustCreate(t, s, newAccount(id, id+"@example.org", ""))
		at := base.Add(time.Duration(3-i) * time.Hour)
		require.NoError(t, s.AddDocuments(ctx, id, docs(id, at, charityauth.DocumentCharityCert)))
	}
	_, _, err := s.ReviewPendingDocuments(ctx, "acc-2", "admin", true, "", base.Add(4*time.Hour))
	require.NoError(t, err)

	list, err := s.ListPendingVerifications(ctx, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "acc-3", list[0].ID)
	assert.Equal(t, "acc-1", list[1].ID)

	list, err = s.ListPendingVerifications(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "acc-3", list[0].ID)
}
