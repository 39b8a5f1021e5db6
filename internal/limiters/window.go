package limiters

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/charityauth/kv"
)

// ErrUnavailable indicates the counter backend failed.
var ErrUnavailable = errors.New("limiter backend unavailable")

// hit counts one event in a fixed window and reports whether the budget is
// now exceeded.
func hit(ctx context.Context, store kv.Store, key string, max int, window time.Duration) (bool, error) {
	count, err := store.Incr(ctx, key, window)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count > int64(max), nil
}

// peek returns the current count without incrementing.
func peek(ctx context.Context, store kv.Store, key string) (int64, error) {
	v, err := store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: corrupt counter %q", ErrUnavailable, key)
	}
	return n, nil
}
