package chunk

import (
	"sync"

	"github.com/gogpu/terrain/octree"
)

// GridKey identifies a released grid. Edits is the number of deformation
// edits touching the node, so any new edit makes older grids unreachable.
type GridKey struct {
	Node  octree.NodeID
	Edits int
}

// GridCache is a byte-budgeted LRU of released density grids. When a
// merged-away node is needed again its grid comes from here instead of a
// kernel dispatch.
//
// GridCache is safe for concurrent use.
type GridCache struct {
	mu      sync.Mutex
	budget  int64
	bytes   int64
	entries map[GridKey]*lruNode
	lru     lruList

	hits      uint64
	misses    uint64
	evictions uint64
}

// NewGridCache creates a cache holding at most budget bytes of samples.
// A budget of zero disables caching.
func NewGridCache(budget int64) *GridCache {
	return &GridCache{
		budget:  budget,
		entries: make(map[GridKey]*lruNode),
	}
}

// Put stores g under its node and edit revision. Grids larger than the
// whole budget are not cached.
func (c *GridCache) Put(g *DensityGrid) {
	size := g.Bytes()
	c.mu.Lock()
	defer c.mu.Unlock()

	if size > c.budget {
		return
	}
	key := GridKey{Node: g.Node, Edits: g.Edits}
	if node, ok := c.entries[key]; ok {
		c.bytes += size - node.grid.Bytes()
		node.grid = g
		c.lru.MoveToFront(node)
	} else {
		c.entries[key] = c.lru.PushFront(key, g)
		c.bytes += size
	}
	instrumentCacheBytes(c.bytes)
	c.evict()
}

// Get returns the grid stored under key and marks it recently used.
func (c *GridCache) Get(key GridKey) (*DensityGrid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[key]
	if !ok {
		c.misses++
		instrumentCacheLookup(false)
		return nil, false
	}
	c.hits++
	instrumentCacheLookup(true)
	c.lru.MoveToFront(node)
	return node.grid, true
}

// Delete removes the grid stored under key.
func (c *GridCache) Delete(key GridKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	node, ok := c.entries[key]
	if !ok {
		return false
	}
	c.remove(node)
	return true
}

// Stats returns a snapshot of the cache counters.
func (c *GridCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := CacheStats{
		Len:       len(c.entries),
		Bytes:     c.bytes,
		Budget:    c.budget,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// evict drops least recently used grids until the cache fits its budget.
// Caller must hold c.mu.
func (c *GridCache) evict() {
	for c.bytes > c.budget {
		oldest := c.lru.Oldest()
		if oldest == nil {
			return
		}
		c.remove(oldest)
		c.evictions++
		instrumentCacheEviction()
	}
}

// Caller must hold c.mu.
func (c *GridCache) remove(node *lruNode) {
	c.lru.Remove(node)
	delete(c.entries, node.key)
	c.bytes -= node.grid.Bytes()
	instrumentCacheBytes(c.bytes)
}

// CacheStats contains grid cache statistics.
type CacheStats struct {
	// Len is the number of cached grids.
	Len int
	// Bytes is the memory held by cached samples.
	Bytes int64
	// Budget is the configured byte budget.
	Budget int64
	// Hits and Misses count Get calls.
	Hits   uint64
	Misses uint64
	// HitRate is Hits over all lookups, 0.0 to 1.0.
	HitRate float64
	// Evictions counts grids dropped to stay within the budget.
	Evictions uint64
}
