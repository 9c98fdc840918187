// Package ratelimit provides keyed sliding-window hit counters. Results are
// advisory: callers that need a durable decision keep their own ledger.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

var ErrStoreUnavailable = errors.New("rate limit store unavailable")

type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type Store interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
	Sweep(ctx context.Context) error
}

func minRetry(d time.Duration) time.Duration {
	if d < time.Second {
		return time.Second
	}
	return d
}
