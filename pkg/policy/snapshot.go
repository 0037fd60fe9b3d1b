package policy

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arguslabs/argus/core/pkg/contracts"
	"github.com/arguslabs/argus/core/pkg/errcode"
)

// snapshot is one immutable view of the active policy set. Evaluations hold
// a snapshot pointer for their whole duration, so a concurrent refresh
// never changes the rules mid-decision.
type snapshot struct {
	policies  []*contracts.PolicyDefinition // rules pre-sorted by descending priority
	fetchedAt time.Time
}

// snapshotCache publishes snapshots through an atomic pointer: readers
// never block, refreshes serialise on refreshMu.
type snapshotCache struct {
	current   atomic.Pointer[snapshot]
	refreshMu sync.Mutex
	ttl       time.Duration
	clock     func() time.Time
}

func newSnapshotCache(ttl time.Duration, clock func() time.Time) *snapshotCache {
	return &snapshotCache{ttl: ttl, clock: clock}
}

// get returns a current snapshot, refreshing from the store when the TTL
// has expired or the cache was invalidated.
func (sc *snapshotCache) get(ctx context.Context, load func(context.Context) ([]*contracts.PolicyDefinition, error)) (*snapshot, error) {
	if snap := sc.current.Load(); snap != nil && sc.clock().Sub(snap.fetchedAt) < sc.ttl {
		return snap, nil
	}

	sc.refreshMu.Lock()
	defer sc.refreshMu.Unlock()

	// another refresher may have won the race
	if snap := sc.current.Load(); snap != nil && sc.clock().Sub(snap.fetchedAt) < sc.ttl {
		return snap, nil
	}

	policies, err := load(ctx)
	if err != nil {
		// serve the stale snapshot rather than failing the evaluation
		if snap := sc.current.Load(); snap != nil {
			return snap, nil
		}
		return nil, errcode.Wrap(errcode.CodePolicyCacheError, "refresh active policy set", err)
	}

	for _, p := range policies {
		rules := append([]contracts.PolicyRule(nil), p.Rules...)
		sort.SliceStable(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
		p.Rules = rules
	}
	snap := &snapshot{policies: policies, fetchedAt: sc.clock()}
	sc.current.Store(snap)
	return snap, nil
}

// invalidate drops the published snapshot; the next evaluation refreshes.
// In-flight evaluations keep the snapshot pointer they already hold (I6).
func (sc *snapshotCache) invalidate() {
	sc.current.Store(nil)
}
