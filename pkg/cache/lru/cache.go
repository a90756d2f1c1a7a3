// Package lru is a bounded in-memory response cache with per-entry TTL and
// least-recently-used eviction.
package lru

import (
	"container/list"
	"sync"
	"time"

	"github.com/pario-ai/kotoba/pkg/models"
)

// Config controls cache capacity and expiry.
type Config struct {
	MaxEntries int
	TTL        time.Duration
	// UpdateRecencyOnGet moves an entry to the front on every hit.
	UpdateRecencyOnGet bool
}

// Option customizes a Cache.
type Option[V any] func(*Cache[V])

// WithClock replaces time.Now.
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithEvictHook is called, under the cache lock, for every entry dropped
// to make room for a new one.
func WithEvictHook[V any](fn func(key string)) Option[V] {
	return func(c *Cache[V]) { c.onEvict = fn }
}

// WithSizeHook is called, under the cache lock, with the new entry count
// whenever an entry is added or removed.
func WithSizeHook[V any](fn func(n int)) Option[V] {
	return func(c *Cache[V]) { c.onSize = fn }
}

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

// Cache is safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	cfg     Config
	ll      *list.List
	items   map[string]*list.Element
	hits    int64
	misses  int64
	now     func() time.Time
	onEvict func(key string)
	onSize  func(n int)
}

// New creates a Cache. MaxEntries below 1 is treated as 1.
func New[V any](cfg Config, opts ...Option[V]) *Cache[V] {
	if cfg.MaxEntries < 1 {
		cfg.MaxEntries = 1
	}
	c := &Cache[V]{
		cfg:   cfg,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the live value for key and counts a hit, or counts a miss.
// Expired entries are removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	e := el.Value.(*entry[V])
	if c.expired(e) {
		c.removeElement(el)
		c.sizeChanged()
		c.misses++
		return zero, false
	}

	if c.cfg.UpdateRecencyOnGet {
		c.ll.MoveToFront(el)
	}
	c.hits++
	return e.value, true
}

// Has reports whether a live entry exists without touching counters or
// recency.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	return ok && !c.expired(el.Value.(*entry[V]))
}

// Set stores value under key using the configured TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.cfg.TTL)
}

// SetWithTTL stores value under key with a specific TTL. A non-positive TTL
// means the entry never expires. When the cache is full the least recently
// used entry is evicted first.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = now.Add(ttl)
	}

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.insertedAt = now
		e.expiresAt = expiresAt
		c.ll.MoveToFront(el)
		return
	}

	for c.ll.Len() >= c.cfg.MaxEntries {
		oldest := c.ll.Back()
		evicted := oldest.Value.(*entry[V]).key
		c.removeElement(oldest)
		if c.onEvict != nil {
			c.onEvict(evicted)
		}
	}

	c.items[key] = c.ll.PushFront(&entry[V]{
		key:        key,
		value:      value,
		insertedAt: now,
		expiresAt:  expiresAt,
	})
	c.sizeChanged()
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		c.sizeChanged()
	}
}

// Clear empties the cache and resets hit/miss counters.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ll.Init()
	c.items = make(map[string]*list.Element)
	c.hits = 0
	c.misses = 0
	c.sizeChanged()
}

// Len returns the number of stored entries, including ones that expired
// but have not been read since.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() models.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := models.CacheStats{
		Size:    c.ll.Len(),
		MaxSize: c.cfg.MaxEntries,
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *Cache[V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry[V]).key)
}

func (c *Cache[V]) sizeChanged() {
	if c.onSize != nil {
		c.onSize(c.ll.Len())
	}
}
