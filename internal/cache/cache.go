package cache

import (
	"errors"
	"sync"
)

// errCreatePanicked is returned to callers that waited on a create that panicked.
var errCreatePanicked = errors.New("cache: create panicked")

// Cache is a generic thread-safe LRU cache.
// When the cache exceeds its limit, the least recently used entry is evicted.
//
// Cache is safe for concurrent use.
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	entries  map[K]*cacheEntry[K, V]
	inflight map[K]*call[V]
	lru      *lruList[K]
	limit    int
	gen      uint64

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheEntry[K comparable, V any] struct {
	value V
	node  *lruNode[K]
}

// call is a create in progress. done is closed once value and err are set.
// gen is the cache generation the create started in.
type call[V any] struct {
	done  chan struct{}
	gen   uint64
	value V
	err   error
}

// New creates a new cache holding at most limit entries.
// A limit of 0 means unlimited.
func New[K comparable, V any](limit int) *Cache[K, V] {
	return &Cache[K, V]{
		entries:  make(map[K]*cacheEntry[K, V]),
		inflight: make(map[K]*call[V]),
		lru:      newLRUList[K](),
		limit:    limit,
	}
}

// Get retrieves a value from the cache.
// Returns (value, true) if found, (zero, false) otherwise.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}

	c.hits++
	c.lru.MoveToFront(entry.node)
	return entry.value, true
}

// Set stores a value in the cache, replacing any previous value for key.
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.setLocked(key, value)
}

// GetOrCreate returns the cached value or creates it.
// create runs without the lock held, so different keys create in parallel.
// Concurrent callers for the same key wait for one create and share its
// result. If create fails the error is returned and nothing is cached.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		c.hits++
		c.lru.MoveToFront(entry.node)
		c.mu.Unlock()
		return entry.value, nil
	}
	if cl, ok := c.inflight[key]; ok {
		c.hits++
		c.mu.Unlock()
		<-cl.done
		return cl.value, cl.err
	}
	cl := &call[V]{done: make(chan struct{}), gen: c.gen, err: errCreatePanicked}
	c.inflight[key] = cl
	c.misses++
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.inflight[key] == cl {
			delete(c.inflight, key)
		}
		// A Clear since the start makes the value stale.
		if cl.err == nil && cl.gen == c.gen {
			c.setLocked(key, cl.value)
		}
		c.mu.Unlock()
		close(cl.done)
	}()

	cl.value, cl.err = create()
	if cl.err != nil {
		var zero V
		cl.value = zero
	}
	return cl.value, cl.err
}

// Delete removes an entry from the cache.
// Returns true if the entry was found and removed.
func (c *Cache[K, V]) Delete(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return false
	}
	c.lru.Remove(entry.node)
	delete(c.entries, key)
	return true
}

// Clear removes all entries from the cache. Creates still running are not
// cached when they finish. Statistics are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.entries = make(map[K]*cacheEntry[K, V])
	c.inflight = make(map[K]*call[V])
	c.lru.Clear()
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Len:       len(c.entries),
		Capacity:  c.limit,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// setLocked inserts or replaces key. Caller must hold c.mu.
func (c *Cache[K, V]) setLocked(key K, value V) {
	if entry, ok := c.entries[key]; ok {
		entry.value = value
		c.lru.MoveToFront(entry.node)
		return
	}

	c.entries[key] = &cacheEntry[K, V]{value: value, node: c.lru.PushFront(key)}

	for c.limit > 0 && len(c.entries) > c.limit {
		oldest, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		delete(c.entries, oldest)
		c.evictions++
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Capacity is the entry limit, 0 when unlimited.
	Capacity int
	// Hits is the number of lookups that found an entry.
	Hits uint64
	// Misses is the number of lookups that did not.
	Misses uint64
	// HitRate is Hits / (Hits + Misses), 0.0 to 1.0.
	HitRate float64
	// Evictions is the number of entries dropped to honour Capacity.
	Evictions uint64
}
