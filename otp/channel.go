// Package otp issues and verifies short numeric one-time passcodes keyed by
// (purpose, identifier). Codes live in a [kv.Store] with a TTL and an attempt
// counter that is incremented before every comparison.
package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/charityauth/internal"
	"github.com/MrEthical07/charityauth/kv"
)

var (
	ErrExpired         = errors.New("otp expired or not requested")
	ErrInvalid         = errors.New("invalid otp")
	ErrTooManyAttempts = errors.New("too many otp attempts")
	ErrAlreadySent     = errors.New("otp already sent")
	ErrDelivery        = errors.New("otp delivery failed")
	ErrUnavailable     = errors.New("otp backend unavailable")
)

// Purpose scopes a code to one flow so a login code cannot reset a password.
type Purpose string

const (
	PurposeRegister      Purpose = "register"
	PurposeLogin         Purpose = "login"
	PurposeDevice        Purpose = "device"
	PurposeTwoFactor     Purpose = "2fa"
	PurposePasswordReset Purpose = "password_reset"
)

// Config tunes code shape and lifetime.
type Config struct {
	Digits      int
	TTL         time.Duration
	MaxAttempts int
	// MessageFormat receives the purpose and the code, in that order.
	MessageFormat string
}

// DefaultConfig returns 6 digit codes valid for 5 minutes with 3 guesses.
func DefaultConfig() Config {
	return Config{
		Digits:        6,
		TTL:           5 * time.Minute,
		MaxAttempts:   3,
		MessageFormat: "Your %s verification code is %s",
	}
}

// Receipt describes a dispatched code without revealing it.
type Receipt struct {
	Destination string
	Purpose     Purpose
	ExpiresAt   time.Time
}

// Channel generates, stores, dispatches and verifies codes.
type Channel struct {
	store     kv.Store
	transport Transport
	config    Config
	now       func() time.Time
	generate  func(digits int) (string, error)
}

// New builds a Channel. A nil transport discards messages.
func New(store kv.Store, transport Transport, cfg Config) (*Channel, error) {
	if store == nil {
		return nil, errors.New("otp store is required")
	}
	if cfg.Digits < 6 || cfg.Digits > 10 {
		return nil, errors.New("otp digits must be in [6,10]")
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("otp ttl must be > 0")
	}
	if cfg.MaxAttempts <= 0 {
		return nil, errors.New("otp max attempts must be > 0")
	}
	if cfg.MessageFormat == "" {
		cfg.MessageFormat = DefaultConfig().MessageFormat
	}
	if transport == nil {
		transport = TransportFunc(func(context.Context, string, string) error { return nil })
	}

	return &Channel{
		store:     store,
		transport: transport,
		config:    cfg,
		now:       time.Now,
		generate:  internal.NewOTP,
	}, nil
}

// Normalize canonicalizes an identifier: emails are lower-cased and phone
// numbers lose spaces, dashes and parentheses.
func Normalize(identifier string) string {
	id := strings.TrimSpace(identifier)
	if strings.Contains(id, "@") {
		return strings.ToLower(id)
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '(', ')', '.':
			return -1
		}
		return r
	}, id)
}

func codeKey(purpose Purpose, id string) string {
	return "otp:" + string(purpose) + ":" + id
}

func attemptsKey(purpose Purpose, id string) string {
	return "otp_attempts:" + string(purpose) + ":" + id
}

// Send stores a fresh code and dispatches it. A live code for the same key
// is never replaced: the call fails with ErrAlreadySent.
//
// When the transport fails the code stays stored and the returned error wraps
// ErrDelivery, so callers that do not require delivery can log and continue.
func (c *Channel) Send(ctx context.Context, identifier string, purpose Purpose) (Receipt, error) {
	id := Normalize(identifier)
	if id == "" {
		return Receipt{}, errors.New("otp identifier is required")
	}

	code, err := c.generate(c.config.Digits)
	if err != nil {
		return Receipt{}, err
	}

	stored, err := c.store.SetIfAbsent(ctx, codeKey(purpose, id), code, c.config.TTL)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !stored {
		return Receipt{}, ErrAlreadySent
	}
	if err := c.store.Delete(ctx, attemptsKey(purpose, id)); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	receipt := Receipt{
		Destination: id,
		Purpose:     purpose,
		ExpiresAt:   c.now().Add(c.config.TTL),
	}

	message := fmt.Sprintf(c.config.MessageFormat, purpose, code)
	if err := c.transport.Send(ctx, id, message); err != nil {
		return receipt, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return receipt, nil
}

// Verify consumes the code on success. The attempt counter is incremented
// before the comparison; once it exceeds MaxAttempts every call fails with
// ErrTooManyAttempts until the code expires, even when the code is right.
func (c *Channel) Verify(ctx context.Context, identifier, code string, purpose Purpose) error {
	id := Normalize(identifier)
	if id == "" {
		return ErrExpired
	}

	attempts, err := c.store.Incr(ctx, attemptsKey(purpose, id), c.config.TTL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	stored, err := c.store.Get(ctx, codeKey(purpose, id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			_ = c.store.Delete(ctx, attemptsKey(purpose, id))
			return ErrExpired
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if attempts > int64(c.config.MaxAttempts) {
		return ErrTooManyAttempts
	}

	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(code))) != 1 {
		return ErrInvalid
	}

	if err := c.store.Delete(ctx, codeKey(purpose, id), attemptsKey(purpose, id)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Pending reports whether a live code exists for the key.
func (c *Channel) Pending(ctx context.Context, identifier string, purpose Purpose) (bool, error) {
	_, err := c.store.Get(ctx, codeKey(purpose, Normalize(identifier)))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return true, nil
}

// TTL returns the configured code lifetime.
func (c *Channel) TTL() time.Duration {
	return c.config.TTL
}
