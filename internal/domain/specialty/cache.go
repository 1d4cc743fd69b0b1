package specialty

import (
	"sort"
	"sync"
)

// CacheStats is a point-in-time view of the pack cache.
type CacheStats struct {
	Size int      `json:"size"`
	Keys []string `json:"keys"`
}

// PackCache holds compiled packs keyed by slug:version. Entries live until they
// are invalidated or the cache is cleared.
type PackCache struct {
	mu    sync.RWMutex
	packs map[string]*CompiledPack
}

func NewPackCache() *PackCache {
	return &PackCache{packs: make(map[string]*CompiledPack)}
}

func (c *PackCache) Get(key string) (*CompiledPack, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.packs[key]
	return p, ok
}

func (c *PackCache) Put(key string, pack *CompiledPack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packs[key] = pack
}

// Invalidate drops a single entry. It reports whether the key was present.
func (c *PackCache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.packs[key]
	delete(c.packs, key)
	return ok
}

// InvalidateSlug drops every cached version of slug and returns the removed keys.
func (c *PackCache) InvalidateSlug(slug string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var removed []string
	for key, p := range c.packs {
		if p.Slug == slug {
			removed = append(removed, key)
			delete(c.packs, key)
		}
	}
	sort.Strings(removed)
	return removed
}

func (c *PackCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packs = make(map[string]*CompiledPack)
}

func (c *PackCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.packs))
	for k := range c.packs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return CacheStats{Size: len(keys), Keys: keys}
}
