// Package kv defines the small TTL key-value contract behind one-time codes,
// attempt counters and pending device elevations.
//
// Production deployments use [Redis], which is shared and atomic across
// instances. [Memory] keeps everything in process and is only valid for a
// single instance or for tests.
package kv

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get when the key is absent or expired.
	ErrNotFound = errors.New("kv: key not found")
	// ErrUnavailable wraps backend failures.
	ErrUnavailable = errors.New("kv: backend unavailable")
)

// Store is a string key-value store with per-key expiry.
//
// Incr must be atomic: concurrent callers observe distinct values. When Incr
// creates the key it applies ttl; an existing key keeps its expiry.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	Delete(ctx context.Context, keys ...string) error
}
