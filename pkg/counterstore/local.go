package counterstore

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalStore keeps counter state in-process. It is correct for a single
// node; a multi-replica deployment must use the Redis store so all replicas
// share the authoritative copy.
type LocalStore struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	windows map[string][]time.Time
}

type localBucket struct {
	lim   *rate.Limiter
	burst int
}

// NewLocalStore builds the in-process fallback.
func NewLocalStore() *LocalStore {
	return &LocalStore{
		buckets: make(map[string]*localBucket),
		windows: make(map[string][]time.Time),
	}
}

func (s *LocalStore) TokenBucket(_ context.Context, key string, requested int, maxTokens, refillRate float64, now time.Time) (bool, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	burst := int(maxTokens)
	b, ok := s.buckets[key]
	if !ok {
		b = &localBucket{lim: rate.NewLimiter(rate.Limit(refillRate), burst), burst: burst}
		s.buckets[key] = b
	}
	if b.lim.Limit() != rate.Limit(refillRate) {
		b.lim.SetLimitAt(now, rate.Limit(refillRate))
	}
	if b.burst != burst {
		b.lim.SetBurstAt(now, burst)
		b.burst = burst
	}

	allowed := b.lim.AllowN(now, requested)
	remaining := b.lim.TokensAt(now)
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, nil
}

func (s *LocalStore) SlidingWindow(_ context.Context, key string, now time.Time, window time.Duration, limit int64) (bool, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-window)
	kept := s.windows[key][:0]
	for _, t := range s.windows[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if int64(len(kept)) >= limit {
		s.windows[key] = kept
		return false, 0, nil
	}
	s.windows[key] = append(kept, now)
	return true, limit - int64(len(kept)) - 1, nil
}

func (s *LocalStore) Ping(context.Context) error { return nil }

func (s *LocalStore) Close() error { return nil }
