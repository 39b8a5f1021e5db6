package limiters

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/charityauth/kv"
)

// ErrRegistrationRateLimited is returned once a sign-up budget is spent.
var ErrRegistrationRateLimited = errors.New("registration rate limited")

type RegistrationConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	MaxAttempts              int
	Cooldown                 time.Duration
}

type RegistrationLimiter struct {
	store  kv.Store
	config RegistrationConfig
}

func NewRegistrationLimiter(store kv.Store, cfg RegistrationConfig) *RegistrationLimiter {
	return &RegistrationLimiter{
		store:  store,
		config: cfg,
	}
}

// Enforce counts one sign-up attempt against identifier and ip.
func (l *RegistrationLimiter) Enforce(ctx context.Context, identifier, ip string) error {
	if l == nil || l.store == nil {
		return nil
	}

	if l.config.EnableIdentifierThrottle && identifier != "" {
		if err := l.enforceKey(ctx, "reg:id:"+strings.ToLower(identifier)); err != nil {
			return err
		}
	}

	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforceKey(ctx, "reg:ip:"+ip); err != nil {
			return err
		}
	}

	return nil
}

func (l *RegistrationLimiter) enforceKey(ctx context.Context, key string) error {
	exceeded, err := hit(ctx, l.store, key, l.config.MaxAttempts, l.config.Cooldown)
	if err != nil {
		return err
	}
	if exceeded {
		return ErrRegistrationRateLimited
	}
	return nil
}
