// Package kv holds the small persistence contracts shared by the credential store and the rate limiter,
// plus their in-memory, file, Redis and Postgres implementations.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("kv: key not found")

// KV is a string key-value store. Set replaces the whole value atomically.
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Reset(ctx context.Context) error
}

// Counter is a fixed-window counter keyed by caller identity.
// Incr records one hit and returns the number of hits inside the current window, this one included.
// A window that has expired is replaced by a fresh one in the same operation.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}
