package charityauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/charityauth/lockout"
)

// AccountStore persists accounts and verification documents. Implementations
// must make RecordLoginFailure, RecordLoginSuccess, RotateRefreshToken and
// ReviewPendingDocuments atomic per account.
//
// Lookups return ErrAccountNotFound for unknown accounts; Create returns
// ErrDuplicateAccount when the email or phone is taken. Returned accounts are
// copies owned by the caller.
type AccountStore interface {
	Create(ctx context.Context, acc *Account) error
	GetByID(ctx context.Context, id string) (*Account, error)
	GetByEmail(ctx context.Context, email string) (*Account, error)
	GetByPhone(ctx context.Context, phone string) (*Account, error)
	// FindByEmailOrPhone matches identifier against both columns.
	FindByEmailOrPhone(ctx context.Context, identifier string) (*Account, error)
	// Update applies fn to the stored account under the store's per-account
	// lock and persists the result unless fn returns an error.
	Update(ctx context.Context, id string, fn func(*Account) error) (*Account, error)

	// RecordLoginFailure applies one failed attempt under policy and returns
	// the account after the change. While a lock is in force at now it
	// returns ErrAccountLocked and counts nothing.
	RecordLoginFailure(ctx context.Context, id string, policy lockout.Policy, now time.Time) (*Account, error)
	// RecordLoginSuccess resets the failure counter and stamps the last
	// login. It returns ErrAccountLocked, changing nothing, when a lock is in
	// force at now, so a login checked against a stale snapshot cannot clear
	// a lock set by a concurrent failure.
	RecordLoginSuccess(ctx context.Context, id, ip string, now time.Time) error
	// RotateRefreshToken replaces old with next only when old is the stored
	// token and has not expired at now. Any mismatch returns
	// ErrInvalidRefreshToken and changes nothing.
	RotateRefreshToken(ctx context.Context, id, old, next string, nextExpiry, now time.Time) (*Account, error)

	// AddDocuments stores a PENDING batch and sets the account status to
	// NEED_VERIFICATION.
	AddDocuments(ctx context.Context, id string, docs []VerificationDocument) error
	PendingDocuments(ctx context.Context, id string) ([]VerificationDocument, error)
	// ReviewPendingDocuments flips every PENDING document of id together with
	// the account status. No pending documents returns ErrNoPendingDocuments.
	ReviewPendingDocuments(ctx context.Context, id, reviewerID string, approve bool, note string, now time.Time) (*Account, int, error)
	// ListPendingVerifications returns accounts that have PENDING documents,
	// oldest submission first.
	ListPendingVerifications(ctx context.Context, limit int) ([]*Account, error)
}

// storeError passes domain sentinels through and marks anything else as a
// backend failure.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAccountNotFound),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrDuplicateAccount),
		errors.Is(err, ErrInvalidRefreshToken),
		errors.Is(err, ErrNoPendingDocuments),
		errors.Is(err, ErrInvalidStatusTransition),
		errors.Is(err, ErrInvalidTwoFactorCode),
		errors.Is(err, ErrTwoFactorNotEnabled),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrStoreUnavailable),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}
