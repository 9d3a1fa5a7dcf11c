package registry

import (
	"sync"
	"time"
)

// cache is a TTL-bounded map of registry lookups. Entries are immutable
// once stored and replaced wholesale on refresh. A background sweep
// evicts expired entries so the map does not grow without bound.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	ttl     time.Duration

	sweepCh chan struct{}
}

type cacheEntry struct {
	subscriber *Subscriber
	expiresAt  time.Time
}

func newCache(ttl, sweepInterval time.Duration) *cache {
	c := &cache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		sweepCh: make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

func cacheKey(subscriberID, ukID string) string {
	return subscriberID + "|" + ukID
}

func (c *cache) get(subscriberID, ukID string) *Subscriber {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[cacheKey(subscriberID, ukID)]
	if !exists || time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.subscriber
}

func (c *cache) set(subscriberID, ukID string, sub *Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[cacheKey(subscriberID, ukID)] = &cacheEntry{
		subscriber: sub,
		expiresAt:  time.Now().Add(c.ttl),
	}
}

func (c *cache) delete(subscriberID, ukID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, cacheKey(subscriberID, ukID))
}

func (c *cache) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.sweepCh:
			return
		}
	}
}

func (c *cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

func (c *cache) close() {
	close(c.sweepCh)
}
