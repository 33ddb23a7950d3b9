// Package tokencache keeps the last-known-good access token per linked
// account in process memory, so repeated aggregation requests within the
// TTL window skip a redundant validity round-trip. Entries die with the
// process; there is no persistence.
package tokencache

import (
	"sync"
	"time"

	"github.com/epicbytes/drivehub/backend/internal/model"
)

// DefaultTTL stays under the typical 1-hour provider access-token lifetime,
// trading a small staleness risk for fewer refresh round-trips.
const DefaultTTL = 50 * time.Minute

// Key identifies one linked account's cache slot.
type Key struct {
	UserID       string
	AccountEmail string
	Provider     model.Provider
}

type entry struct {
	accessToken string
	cachedAt    time.Time
}

// Cache is safe for concurrent use. Writes are last-write-wins; two
// concurrent refreshes of the same account may both succeed provider-side
// and the later Put simply overwrites the earlier one.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache with the given TTL. ttl <= 0 uses DefaultTTL.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		entries: make(map[Key]entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached access token for key, or false when absent or
// expired. Expired entries are evicted on read.
func (c *Cache) Get(key Key) (string, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return "", false
	}
	if c.now().Sub(e.cachedAt) >= c.ttl {
		c.mu.Lock()
		// Re-check: a concurrent Put may have renewed the entry.
		if cur, ok := c.entries[key]; ok && c.now().Sub(cur.cachedAt) >= c.ttl {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return "", false
	}
	return e.accessToken, true
}

// Put stores an access token for key, restarting its TTL window.
func (c *Cache) Put(key Key, accessToken string) {
	c.mu.Lock()
	c.entries[key] = entry{accessToken: accessToken, cachedAt: c.now()}
	c.mu.Unlock()
}

// Invalidate drops the entry for key, if any. Called on explicit unlink so
// a removed account's token does not outlive it.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Len reports the number of live entries, counting expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
