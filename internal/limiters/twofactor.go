package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/charityauth/kv"
)

const (
	defaultTwoFactorMaxAttempts = 5
	defaultTwoFactorCooldown    = time.Minute
)

// ErrTwoFactorRateLimited is returned once the failure budget is spent.
var ErrTwoFactorRateLimited = errors.New("two-factor rate limited")

// TwoFactorConfig holds configurable thresholds for the second-factor limiter.
type TwoFactorConfig struct {
	MaxAttempts int
	Cooldown    time.Duration
}

// TwoFactorLimiter counts failed TOTP and backup code attempts per account.
type TwoFactorLimiter struct {
	store       kv.Store
	maxAttempts int64
	cooldown    time.Duration
}

// NewTwoFactorLimiter creates a limiter. Zero-value fields in cfg fall back
// to 5 attempts per minute.
func NewTwoFactorLimiter(store kv.Store, cfg TwoFactorConfig) *TwoFactorLimiter {
	max := cfg.MaxAttempts
	if max <= 0 {
		max = defaultTwoFactorMaxAttempts
	}
	cd := cfg.Cooldown
	if cd <= 0 {
		cd = defaultTwoFactorCooldown
	}
	return &TwoFactorLimiter{store: store, maxAttempts: int64(max), cooldown: cd}
}

func (l *TwoFactorLimiter) key(accountID string) string {
	return "tfa:" + accountID
}

func (l *TwoFactorLimiter) Check(ctx context.Context, accountID string) error {
	if l == nil || l.store == nil {
		return nil
	}
	count, err := peek(ctx, l.store, l.key(accountID))
	if err != nil {
		return err
	}
	if count >= l.maxAttempts {
		return ErrTwoFactorRateLimited
	}
	return nil
}

func (l *TwoFactorLimiter) RecordFailure(ctx context.Context, accountID string) error {
	if l == nil || l.store == nil {
		return nil
	}
	count, err := l.store.Incr(ctx, l.key(accountID), l.cooldown)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count >= l.maxAttempts {
		return ErrTwoFactorRateLimited
	}
	return nil
}

func (l *TwoFactorLimiter) Reset(ctx context.Context, accountID string) error {
	if l == nil || l.store == nil {
		return nil
	}
	if err := l.store.Delete(ctx, l.key(accountID)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
