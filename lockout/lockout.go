// Package lockout implements the failed-login lockout policy and the
// randomized delay applied to failed authentication attempts.
package lockout

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/charityauth/internal"
)

// ErrLocked is returned by [Guard.Check] while a lock is in force.
var ErrLocked = errors.New("account locked")

// Policy configures when an account locks and for how long.
type Policy struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
	MinDelay  time.Duration `mapstructure:"min_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
}

// DefaultPolicy locks after 5 consecutive failures for 30 minutes and delays
// failures by 0.5 to 1.2 seconds.
func DefaultPolicy() Policy {
	return Policy{
		Threshold: 5,
		Duration:  30 * time.Minute,
		MinDelay:  500 * time.Millisecond,
		MaxDelay:  1200 * time.Millisecond,
	}
}

// Validate rejects unusable policies.
func (p Policy) Validate() error {
	if p.Threshold <= 0 {
		return errors.New("lockout threshold must be > 0")
	}
	if p.Duration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	if p.MinDelay < 0 || p.MaxDelay < p.MinDelay {
		return errors.New("lockout delay range is invalid")
	}
	return nil
}

// State is the per-account lockout bookkeeping.
type State struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked reports whether the lock is still in force at now.
func (s State) Locked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// Apply returns the state after one more failure. Reaching the threshold sets
// LockedUntil and resets the counter.
func Apply(s State, p Policy, now time.Time) State {
	next := State{FailedAttempts: s.FailedAttempts + 1, LockedUntil: s.LockedUntil}
	if next.FailedAttempts >= p.Threshold {
		until := now.Add(p.Duration)
		next.LockedUntil = &until
		next.FailedAttempts = 0
	}
	return next
}

// Reset returns the state after a successful login.
func Reset() State {
	return State{}
}

// Guard enforces a Policy.
type Guard struct {
	policy Policy
	sleep  func(context.Context, time.Duration) error
}

// NewGuard returns a Guard for p.
func NewGuard(p Policy) (*Guard, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Guard{policy: p, sleep: sleepContext}, nil
}

// Policy returns the guard's policy.
func (g *Guard) Policy() Policy {
	return g.policy
}

// WithSleeper replaces the delay implementation. Intended for tests.
func (g *Guard) WithSleeper(sleep func(context.Context, time.Duration) error) *Guard {
	if sleep != nil {
		g.sleep = sleep
	}
	return g
}

// Check returns ErrLocked while s is locked at now.
func (g *Guard) Check(s State, now time.Time) error {
	if s.Locked(now) {
		return ErrLocked
	}
	return nil
}

// Fail applies one failure to s.
func (g *Guard) Fail(s State, now time.Time) State {
	return Apply(s, g.policy, now)
}

// Delay sleeps for a uniformly random duration in [MinDelay, MaxDelay]. It
// returns early with the context error when ctx is done.
func (g *Guard) Delay(ctx context.Context) error {
	d, err := internal.RandomDuration(g.policy.MinDelay, g.policy.MaxDelay)
	if err != nil {
		d = g.policy.MinDelay
	}
	return g.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
