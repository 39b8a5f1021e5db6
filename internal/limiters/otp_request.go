package limiters

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/charityauth/kv"
)

// ErrOTPRequestRateLimited is returned once a code request budget is spent.
var ErrOTPRequestRateLimited = errors.New("otp request rate limited")

type OTPRequestConfig struct {
	EnableIdentifierThrottle bool
	EnableIPThrottle         bool
	MaxRequests              int
	Window                   time.Duration
}

// OTPRequestLimiter bounds how often codes can be requested. The OTP channel
// already refuses a second live code; this caps requests across code
// lifetimes.
type OTPRequestLimiter struct {
	store  kv.Store
	config OTPRequestConfig
}

func NewOTPRequestLimiter(store kv.Store, cfg OTPRequestConfig) *OTPRequestLimiter {
	return &OTPRequestLimiter{store: store, config: cfg}
}

func (l *OTPRequestLimiter) CheckRequest(ctx context.Context, purpose, identifier, ip string) error {
	if l == nil || l.store == nil {
		return nil
	}
	if l.config.EnableIdentifierThrottle && identifier != "" {
		if err := l.enforce(ctx, "otpr:"+purpose+":"+identifier); err != nil {
			return err
		}
	}
	if l.config.EnableIPThrottle && ip != "" {
		if err := l.enforce(ctx, "otprip:"+purpose+":"+ip); err != nil {
			return err
		}
	}
	return nil
}

func (l *OTPRequestLimiter) enforce(ctx context.Context, key string) error {
	exceeded, err := hit(ctx, l.store, key, l.config.MaxRequests, l.config.Window)
	if err != nil {
		return err
	}
	if exceeded {
		return ErrOTPRequestRateLimited
	}
	return nil
}
