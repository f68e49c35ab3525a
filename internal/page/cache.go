package page

import "sync"

// CacheStats tracks cache performance metrics.
type CacheStats struct {
	Hits   uint64 // Number of cache hits
	Misses uint64 // Number of cache misses
	Size   int    // Current cache size
}

// Cache is a pinning page cache. Every page read or allocated stays
// resident for the lifetime of the manager, so a buffer handed out by
// Get remains valid across later operations. There is no eviction:
// tree code mutates cached buffers in place and relies on a later Get
// of the same id observing those mutations.
type Cache struct {
	mu    sync.RWMutex
	pages map[uint32]*Page
	stats CacheStats
}

// NewCache creates an empty page cache.
func NewCache() *Cache {
	return &Cache{
		pages: make(map[uint32]*Page),
	}
}

// Get retrieves a page from the cache. Returns nil if the page has
// never been installed.
func (c *Cache) Get(pageID uint32) *Page {
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pages[pageID]; ok {
		c.stats.Hits++
		return p
	}
	c.stats.Misses++
	return nil
}

// Put installs a page under its id, replacing any previous entry.
func (c *Cache) Put(pageID uint32, p *Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pages[pageID]; !ok {
		c.stats.Size++
	}
	c.pages[pageID] = p
}

// Len returns the number of resident pages.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pages)
}

// Stats returns a copy of the current cache statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// PageIDs returns the ids of all resident pages.
func (c *Cache) PageIDs() []uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]uint32, 0, len(c.pages))
	for id := range c.pages {
		ids = append(ids, id)
	}
	return ids
}
