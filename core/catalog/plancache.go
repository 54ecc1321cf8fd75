package catalog

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/ristretto"

	"github.com/wbrown/querycore/core/query"
)

// Winner is a PlanCacheEntry value (spec.md §3): either a winning
// IndexSpec or the table-scan plan.
type Winner struct {
	TableScan bool
	Index     query.IndexSpec
}

// PlanCache is the process-wide `{namespace -> {pattern -> winner}}`
// mapping of spec.md §9, grounded on datalog/planner/cache.go's
// PlanCache (RWMutex-guarded map, atomic hit/miss counters) but backed
// by Ristretto instead of a hand-rolled TTL map, and invalidated by the
// spec's triggers (index create/drop, ~1000 writes, namespace drop)
// rather than by time.
//
// Invalidation is O(1): each namespace has a generation counter, cache
// keys embed the generation current at Set time, and bumping the
// counter on invalidation makes every previously-set entry
// unreachable on lookup without needing a range delete (which Ristretto
// does not support). Stale entries simply age out under Ristretto's own
// eviction policy.
type PlanCache struct {
	rc *ristretto.Cache

	mu          sync.Mutex
	generations map[string]uint64

	hits, misses int64
}

// NewPlanCache creates a PlanCache able to hold roughly maxEntries
// plans.
func NewPlanCache(maxEntries int) *PlanCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	rc, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: int64(maxEntries) * 10,
		MaxCost:     int64(maxEntries),
		BufferItems: 64,
	})
	if err != nil {
		// Ristretto only errors on invalid config; the defaults above
		// are always valid, so this would indicate a programming
		// error rather than a runtime condition worth propagating.
		panic(fmt.Sprintf("catalog: building plan cache: %v", err))
	}
	return &PlanCache{rc: rc, generations: make(map[string]uint64)}
}

func (c *PlanCache) key(ns string, pattern query.Pattern) string {
	c.mu.Lock()
	gen := c.generations[ns]
	c.mu.Unlock()
	return fmt.Sprintf("%s\x00%d\x00%s", ns, gen, pattern.String())
}

// Get returns the cached winner for (ns, pattern), if any.
func (c *PlanCache) Get(ns string, pattern query.Pattern) (Winner, bool) {
	v, ok := c.rc.Get(c.key(ns, pattern))
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return Winner{}, false
	}
	atomic.AddInt64(&c.hits, 1)
	return v.(Winner), true
}

// Set records the winner for (ns, pattern).
func (c *PlanCache) Set(ns string, pattern query.Pattern, winner Winner) {
	c.rc.Set(c.key(ns, pattern), winner, 1)
}

// InvalidateNamespace discards every cached plan for ns.
func (c *PlanCache) InvalidateNamespace(ns string) {
	c.mu.Lock()
	c.generations[ns]++
	c.mu.Unlock()
}

// Stats returns cumulative hit/miss counts.
func (c *PlanCache) Stats() (hits, misses int64) {
	return atomic.LoadInt64(&c.hits), atomic.LoadInt64(&c.misses)
}

// Sync blocks until every Set call issued so far has been applied.
// Ristretto buffers writes through a ring of internal goroutines, so a
// Get immediately after a Set can otherwise miss; most callers don't
// need this (a transient miss just costs one extra plan-generation
// cycle), but a caller that needs a just-cached winner to be
// immediately visible -- tests, or an explicit warm-cache step -- does.
func (c *PlanCache) Sync() { c.rc.Wait() }
