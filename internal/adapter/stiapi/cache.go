package stiapi

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/agroclimate-severity-service/internal/domain"
	"github.com/couchcryptid/agroclimate-severity-service/internal/observability"
)

// DefaultCacheTTL matches how long the dashboard treated fetched grids as fresh.
const DefaultCacheTTL = 5 * time.Minute

// CachedSource wraps a GridSource with in-memory LRU caches whose entries
// expire after a TTL. Errors are never cached. Cached subsets are shared
// between callers and must be treated as read-only.
type CachedSource struct {
	inner   domain.GridSource
	runs    *lruCache[[]string]
	steps   *lruCache[[]string]
	subsets *lruCache[domain.GridSubset]
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a source. Each method keeps
// up to maxEntries results. A nil clock uses the real clock; a non-positive
// ttl uses DefaultCacheTTL.
func NewCachedSource(inner domain.GridSource, maxEntries int, ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *CachedSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSource{
		inner:   inner,
		runs:    newLRUCache[[]string](maxEntries, ttl, clock),
		steps:   newLRUCache[[]string](maxEntries, ttl, clock),
		subsets: newLRUCache[domain.GridSubset](maxEntries, ttl, clock),
		metrics: metrics,
	}
}

func (c *CachedSource) Runs(ctx context.Context) ([]string, error) {
	const key = "runs"
	if runs, ok := lookup(c, c.runs, methodRuns, key); ok {
		return slices.Clone(runs), nil
	}
	runs, err := c.inner.Runs(ctx)
	if err != nil {
		return nil, err
	}
	c.runs.put(key, slices.Clone(runs))
	return runs, nil
}

func (c *CachedSource) Steps(ctx context.Context, run string) ([]string, error) {
	key := "steps:" + run
	if steps, ok := lookup(c, c.steps, methodSteps, key); ok {
		return slices.Clone(steps), nil
	}
	steps, err := c.inner.Steps(ctx, run)
	if err != nil {
		return nil, err
	}
	c.steps.put(key, slices.Clone(steps))
	return steps, nil
}

func (c *CachedSource) Subset(ctx context.Context, run, step string, bounds domain.Bounds) (domain.GridSubset, error) {
	key := subsetKey(run, step, bounds)
	if subset, ok := lookup(c, c.subsets, methodSubset, key); ok {
		return subset, nil
	}
	subset, err := c.inner.Subset(ctx, run, step, bounds)
	if err != nil {
		return domain.GridSubset{}, err
	}
	c.subsets.put(key, subset)
	return subset, nil
}

// subsetKey encodes bounds at full precision so boxes that differ only in
// distant decimals never share an entry.
func subsetKey(run, step string, b domain.Bounds) string {
	return "subset:" + run + "|" + step + "|" + strings.Join([]string{
		formatCoord(b.LatMin), formatCoord(b.LatMax), formatCoord(b.LonMin), formatCoord(b.LonMax),
	}, ",")
}

func lookup[V any](c *CachedSource, cache *lruCache[V], method, key string) (V, bool) {
	v, ok := cache.get(key)
	result := "miss"
	if ok {
		result = "hit"
	}
	c.metrics.SourceCache.WithLabelValues(method, result).Inc()
	return v, ok
}

// lruCache is a thread-safe LRU cache whose entries expire after ttl.
type lruCache[V any] struct {
	maxEntries int
	ttl        time.Duration
	clock      clockwork.Clock
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key     string
	value   V
	expires time.Time
	prev    *entry[V]
	next    *entry[V]
}

func newLRUCache[V any](maxEntries int, ttl time.Duration, clock clockwork.Clock) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: max(maxEntries, 1),
		ttl:        ttl,
		clock:      clock,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if !c.clock.Now().Before(e.expires) {
		delete(c.entries, key)
		c.remove(e)
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expires := c.clock.Now().Add(c.ttl)
	if e, ok := c.entries[key]; ok {
		e.value = value
		e.expires = expires
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value, expires: expires}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
