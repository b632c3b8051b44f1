package fetch

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
)

// Cache is a mapping from (source-name, identity) to a previously
// resolved value. The interpreter queries it every round and extends it
// after every successful round; it never evicts. Implementations MUST
// be safe to read concurrently with InsertAll producing a new Cache —
// the default implementation is copy-on-write so a speculative
// simplification pass (e.g. inside Join) can consult a snapshot without
// racing the interpreter's own working cache.
type Cache interface {
	// Get returns the value stored for key, if any.
	Get(key CacheKey) (any, bool)
	// Contains reports whether key has a stored value.
	Contains(key CacheKey) bool
	// InsertAll returns a new Cache containing both the receiver's
	// entries and pairs, with pairs taking precedence on conflict. The
	// receiver is left unmodified.
	InsertAll(pairs map[CacheKey]any) Cache
	// Len reports the number of entries, for logging/metrics.
	Len() int
}

// memCache is the default grow-only, in-memory Cache: a mutex-guarded
// map keyed by an fnv-hashed CacheKey, with hit/miss counters but no
// eviction policy — values simply accumulate for the lifetime of one
// run.
type memCache struct {
	mu   sync.RWMutex
	data map[uint64]cacheEntry

	hits   *atomic.Uint64
	misses *atomic.Uint64
}

type cacheEntry struct {
	key   CacheKey
	value any
}

// NewCache returns an empty, in-memory Cache.
func NewCache() Cache {
	return &memCache{
		data:   make(map[uint64]cacheEntry),
		hits:   new(atomic.Uint64),
		misses: new(atomic.Uint64),
	}
}

func hashKey(key CacheKey) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key.Source))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(key.Identity))
	return h.Sum64()
}

func (c *memCache) Get(key CacheKey) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.data[hashKey(key)]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return entry.value, true
}

func (c *memCache) Contains(key CacheKey) bool {
	_, ok := c.Get(key)
	return ok
}

func (c *memCache) InsertAll(pairs map[CacheKey]any) Cache {
	c.mu.RLock()
	next := make(map[uint64]cacheEntry, len(c.data)+len(pairs))
	for k, v := range c.data {
		next[k] = v
	}
	c.mu.RUnlock()

	for key, value := range pairs {
		next[hashKey(key)] = cacheEntry{key: key, value: value}
	}

	return &memCache{
		data:   next,
		hits:   c.hits,
		misses: c.misses,
	}
}

func (c *memCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Stats returns cumulative hit/miss counts across this cache and every
// Cache it was derived from via InsertAll (the counters are shared).
func Stats(c Cache) (hits, misses uint64) {
	mc, ok := c.(*memCache)
	if !ok {
		return 0, 0
	}
	return mc.hits.Load(), mc.misses.Load()
}
