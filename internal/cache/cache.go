package cache

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// entry is a whole-value replacement record; entries are never mutated
// in place, only swapped, so a reader under RLock never observes a torn
// write.
type entry struct {
	value    any
	expiry   time.Time
	storedAt time.Time
}

// Config controls the fingerprint cache's capacity and behavior.
type Config struct {
	// MaxSize bounds the number of live entries. When Put would exceed
	// it, the oldest 20% of entries (by storedAt) are evicted first.
	MaxSize int

	// DefaultTTL is used by Put calls that don't specify one.
	DefaultTTL time.Duration

	// Coalesce enables singleflight-based de-duplication of concurrent
	// misses for the same key via GetOrLoad, so that a cache stampede of
	// identical in-flight requests results in exactly one device call.
	// Off by default: most callers share state only through the cache
	// itself, and coalescing adds a shared-failure mode (one slow
	// straggler call stalls every waiter) that isn't always wanted.
	Coalesce bool
}

// DefaultConfig matches the ancestor Python cache's defaults: 500
// entries, five-minute TTL.
func DefaultConfig() Config {
	return Config{MaxSize: 500, DefaultTTL: 5 * time.Minute}
}

// Cache is a TTL-bounded fingerprint cache for device call results. It
// is safe for concurrent use.
type Cache struct {
	cfg Config
	mu  sync.RWMutex
	m   map[string]*entry

	group singleflight.Group

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

// New constructs a Cache with the given configuration.
func New(cfg Config) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultConfig().MaxSize
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Cache{cfg: cfg, m: make(map[string]*entry)}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	if time.Now().After(e.expiry) {
		c.misses.Add(1)
		c.mu.Lock()
		if cur, exists := c.m[key]; exists && cur == e {
			delete(c.m, key)
			c.expired.Add(1)
		}
		c.mu.Unlock()
		return nil, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Put stores value under key with the given TTL (DefaultTTL if ttl<=0),
// evicting the oldest 20% of entries first if the cache is at capacity.
func (c *Cache) Put(key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.m[key]; !exists && len(c.m) >= c.cfg.MaxSize {
		c.evictOldestLocked()
	}
	c.m[key] = &entry{value: value, expiry: now.Add(ttl), storedAt: now}
}

// evictOldestLocked drops the oldest ~20% of entries by storedAt. Must
// be called with mu held.
func (c *Cache) evictOldestLocked() {
	n := len(c.m) / 5
	if n < 1 {
		n = 1
	}

	type kv struct {
		key      string
		storedAt time.Time
	}
	all := make([]kv, 0, len(c.m))
	for k, e := range c.m {
		all = append(all, kv{k, e.storedAt})
	}
	// Partial selection: n is bounded by MaxSize/5, so a full sort of a
	// capacity-bounded map is cheap enough not to warrant a heap.
	for i := 0; i < n && i < len(all); i++ {
		oldestIdx := i
		for j := i + 1; j < len(all); j++ {
			if all[j].storedAt.Before(all[oldestIdx].storedAt) {
				oldestIdx = j
			}
		}
		all[i], all[oldestIdx] = all[oldestIdx], all[i]
		delete(c.m, all[i].key)
		c.evictions.Add(1)
	}
}

// PurgeExpired removes all entries whose TTL has elapsed and returns the
// count removed. Intended to be called periodically by a janitor
// goroutine in the owning component, mirroring devapi's pool janitor.
func (c *Cache) PurgeExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.m {
		if now.After(e.expiry) {
			delete(c.m, k)
			removed++
		}
	}
	c.expired.Add(int64(removed))
	return removed
}

// Clear empties the cache and returns the number of entries removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.m)
	c.m = make(map[string]*entry)
	return n
}

// GetOrLoad returns the cached value for key, calling load and storing
// its result on a miss. When Coalesce is enabled, concurrent GetOrLoad
// calls for the same key share a single in-flight load.
func (c *Cache) GetOrLoad(key string, ttl time.Duration, load func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	if !c.cfg.Coalesce {
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Put(key, v, ttl)
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.Put(key, v, ttl)
		return v, nil
	})
	return v, err
}

// Stats is a point-in-time snapshot of cache activity counters.
type Stats struct {
	Size      int   `json:"size"`
	MaxSize   int   `json:"max_size"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Expired   int64 `json:"expired"`
}

// Snapshot reports the current cache size and cumulative counters.
func (c *Cache) Snapshot() Stats {
	c.mu.RLock()
	size := len(c.m)
	c.mu.RUnlock()

	return Stats{
		Size:      size,
		MaxSize:   c.cfg.MaxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}
