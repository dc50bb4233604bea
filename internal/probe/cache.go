package probe

import (
	"sync"
	"time"
)

// Cache memoizes probe outcomes by resolved URL. Entries expire after a
// fixed TTL but expiry never hides a value: Get returns stale entries too,
// and callers decide with Fresh whether to trust them. Expired entries are
// dropped lazily by the lookup that finds them; there is no sweeper.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]Outcome
}

func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[string]Outcome)}
}

// Get returns the cached outcome for url, fresh or stale. A stale entry is
// removed on the way out; the caller still receives it so better-than-nothing
// reads remain possible while a re-probe runs.
func (c *Cache) Get(url string) (Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[url]
	if !ok {
		return Outcome{}, false
	}
	if !c.fresh(o) {
		delete(c.entries, url)
	}
	return o, true
}

func (c *Cache) Put(url string, o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = o
}

// Fresh reports whether an outcome is still inside the cache TTL.
func (c *Cache) Fresh(o Outcome) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fresh(o)
}

func (c *Cache) fresh(o Outcome) bool {
	return time.Since(o.ObservedAt) < c.ttl
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
