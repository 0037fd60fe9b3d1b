// Package counterstore provides the atomic counter operations behind rate
// limiting: a token bucket and a sliding window, each executed as a single
// atomic step. The Redis implementation runs Lua scripts server-side; the
// local implementation is correct for a single node only.
package counterstore

import (
	"context"
	"time"
)

// Store is the counter store contract. Both operations are linearisable:
// concurrent calls on the same key observe a total order.
type Store interface {
	// TokenBucket refills the bucket at refillRate tokens/sec up to
	// maxTokens, then attempts to consume requested tokens. It reports
	// whether the consume succeeded and how many tokens remain.
	TokenBucket(ctx context.Context, key string, requested int, maxTokens, refillRate float64, now time.Time) (allowed bool, remaining float64, err error)

	// SlidingWindow trims events older than window, counts the rest, and
	// admits the call iff the count is below limit. Remaining is the
	// admission headroom after this call.
	SlidingWindow(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (allowed bool, remaining int64, err error)

	// Ping reports reachability for health checks.
	Ping(ctx context.Context) error

	Close() error
}
