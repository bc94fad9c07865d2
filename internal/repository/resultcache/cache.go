// Package resultcache memoizes search results in process memory.
//
// Entries expire after a TTL and are swept on a ticker independent of reads.
// Each entry carries invalidation tags so that a confirmed index write only
// drops the results it can affect. Every invalidation bumps a generation; a
// result computed before an invalidation of one of its tags is not stored.
package resultcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/listingsearch/internal/domain/search/result"
)

// maxStaleMarks bounds the per-tag invalidation history.
const maxStaleMarks = 4096

// Config tunes the cache.
type Config struct {
	Capacity      int
	TTL           time.Duration
	SweepInterval time.Duration
}

type entry struct {
	value     result.SearchResult
	storedAt  time.Time
	expiresAt time.Time
	tags      []string
}

// Cache is a fixed-capacity TTL cache. Reads do not refresh recency, so the
// least recently inserted entry is evicted first.
type Cache struct {
	mu      sync.Mutex
	lru     *simplelru.LRU[string, *entry]
	byTag   map[string]map[string]struct{}
	// gen counts invalidations. stale maps a tag or key to the generation of
	// its last invalidation; history at or below floor was forgotten.
	gen     uint64
	stale   map[string]uint64
	floor   uint64
	ttl     time.Duration
	now     func() time.Time
	counter *prometheus.CounterVec
	logger  *zap.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache and starts its sweeper. counter may be nil.
func New(cfg Config, counter *prometheus.CounterVec, logger *zap.Logger) (*Cache, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		byTag:   make(map[string]map[string]struct{}),
		stale:   make(map[string]uint64),
		ttl:     cfg.TTL,
		now:     time.Now,
		counter: counter,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	l, err := simplelru.NewLRU[string, *entry](cfg.Capacity, c.onEvict)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	c.lru = l

	if cfg.SweepInterval > 0 {
		go c.sweepLoop(cfg.SweepInterval)
	} else {
		close(c.done)
	}
	return c, nil
}

// Generation returns the current invalidation generation. Pass it to Set for
// a result computed after this call.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Get returns a copy of a live entry.
func (c *Cache) Get(key string) (result.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Peek(key)
	if ok && !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		ok = false
	}
	if !ok {
		c.observe("miss")
		return result.SearchResult{}, false
	}
	c.observe("hit")
	return e.value.Clone(), true
}

// Set stores a copy of value under key. since is the Generation observed
// before value was computed; if key or one of tags was invalidated after it,
// value may predate that write and is dropped. A non-positive ttl uses the
// configured default.
func (c *Cache) Set(key string, value result.SearchResult, ttl time.Duration, since uint64, tags ...string) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.invalidatedSince(since, key, tags) {
		c.observe("stale")
		return
	}

	// Replacing an entry must drop its old tag memberships first.
	c.lru.Remove(key)
	c.lru.Add(key, &entry{value: value.Clone(), storedAt: now, expiresAt: now.Add(ttl), tags: tags})
	for _, t := range tags {
		keys, ok := c.byTag[t]
		if !ok {
			keys = make(map[string]struct{})
			c.byTag[t] = keys
		}
		keys[key] = struct{}{}
	}
}

// Invalidate drops every entry carrying one of tagsOrKeys, and any entry whose
// key equals one of them. It returns the number of entries removed.
func (c *Cache) Invalidate(tagsOrKeys ...string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if len(c.stale)+len(tagsOrKeys) > maxStaleMarks {
		clear(c.stale)
		c.floor = c.gen - 1
	}
	var victims []string
	for _, t := range tagsOrKeys {
		c.stale[t] = c.gen
		for k := range c.byTag[t] {
			victims = append(victims, k)
		}
		if c.lru.Contains(t) {
			victims = append(victims, t)
		}
	}
	n := 0
	for _, k := range victims {
		if c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Purge drops every entry and rejects every result computed before it.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.stale)
	c.floor = c.gen
	c.lru.Purge()
}

// invalidatedSince runs under c.mu.
func (c *Cache) invalidatedSince(since uint64, key string, tags []string) bool {
	if since < c.floor {
		return true
	}
	if c.stale[key] > since {
		return true
	}
	for _, t := range tags {
		if c.stale[t] > since {
			return true
		}
	}
	return false
}

// Sweep removes expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && !now.Before(e.expiresAt) {
			c.lru.Remove(k)
			n++
		}
	}
	return n
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close stops the sweeper. It is safe to call more than once.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.stop) })
	<-c.done
}

func (c *Cache) sweepLoop(interval time.Duration) {
	defer close(c.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Swept expired search results", zap.Int("removed", n))
			}
		}
	}
}

// onEvict runs under c.mu from every removal path.
func (c *Cache) onEvict(key string, e *entry) {
	for _, t := range e.tags {
		if keys, ok := c.byTag[t]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(c.byTag, t)
			}
		}
	}
}

func (c *Cache) observe(res string) {
	if c.counter != nil {
		c.counter.WithLabelValues(res).Inc()
	}
}
