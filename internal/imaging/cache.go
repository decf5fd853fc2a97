package imaging

import (
	"fmt"
	"sync"
)

// Cache holds encoded previews with FIFO eviction by first insertion. FIFO
// is deliberate: previews are re-requested in bursts right after
// generation, so recency tracking buys nothing here and insertion order
// keeps eviction predictable.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    []string
	entries  map[string]*EncodedPreview
}

// NewCache creates a preview cache. capacity <= 0 falls back to 100.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = 100
	}
	return &Cache{
		capacity: capacity,
		entries:  make(map[string]*EncodedPreview, capacity),
	}
}

// CacheKey builds the canonical cache key for a preview request.
func CacheKey(identity string, maxDim, quality int) string {
	return fmt.Sprintf("%s:%d:webp:%d", identity, maxDim, quality)
}

// Get returns the cached preview for key, if present.
func (c *Cache) Get(key string) (*EncodedPreview, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.entries[key]
	return p, ok
}

// Put inserts a preview, evicting the single oldest entry when full.
// Re-inserting an existing key updates the value but keeps its original
// position in the eviction order. Eviction and insert happen under one
// lock so the cache never exceeds capacity mid-operation.
func (c *Cache) Put(key string, p *EncodedPreview) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = p
		return
	}
	if len(c.entries) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = p
	c.order = append(c.order, key)
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
