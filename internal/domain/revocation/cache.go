package revocation

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry is one cached store answer.
type cacheEntry struct {
	jti         string
	revoked     bool
	cachedUntil time.Time
}

// decisionCache is a per-instance LRU over store answers, keyed by JTI.
// A plain Mutex guards both maps since even the hit path mutates
// recency order.
type decisionCache struct {
	mu         sync.Mutex
	entries    map[string]*list.Element
	order      *list.List
	maxEntries int
	ttl        time.Duration
}

func newDecisionCache(maxEntries int, ttl time.Duration) *decisionCache {
	return &decisionCache{
		entries:    make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: maxEntries,
		ttl:        ttl,
	}
}

// Get returns the cached answer for a JTI, if present and fresh.
func (c *decisionCache) Get(jti string) (revoked, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, found := c.entries[jti]
	if !found {
		return false, false
	}
	entry := el.Value.(*cacheEntry)
	if time.Now().After(entry.cachedUntil) {
		c.order.Remove(el)
		delete(c.entries, jti)
		return false, false
	}
	c.order.MoveToFront(el)
	return entry.revoked, true
}

// Put records a store answer, evicting the least recently used entry
// when full.
func (c *decisionCache) Put(jti string, revoked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.entries[jti]; found {
		entry := el.Value.(*cacheEntry)
		entry.revoked = revoked
		entry.cachedUntil = time.Now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}
	if c.maxEntries > 0 && c.order.Len() >= c.maxEntries {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).jti)
		}
	}
	el := c.order.PushFront(&cacheEntry{
		jti:         jti,
		revoked:     revoked,
		cachedUntil: time.Now().Add(c.ttl),
	})
	c.entries[jti] = el
}

// Invalidate drops the entry for a JTI. Called when a revocation event
// arrives so a stale not-revoked answer cannot linger.
func (c *decisionCache) Invalidate(jti string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, found := c.entries[jti]; found {
		c.order.Remove(el)
		delete(c.entries, jti)
	}
}

// Len reports the current entry count.
func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
