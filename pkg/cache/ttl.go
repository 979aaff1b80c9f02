package cache

import (
	"sync"
	"time"
)

// TTL is a bounded map cache with a fixed per-entry lifetime. Entries are
// never invalidated early; staleness up to the TTL is accepted by callers
// (display names for transient typing indicators).
type TTL struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	value    string
	deadline time.Time
}

func NewTTL(ttl time.Duration, maxSize int) *TTL {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if maxSize <= 0 {
		maxSize = 1024
	}
	return &TTL{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]entry, maxSize),
		now:     time.Now,
	}
}

func (c *TTL) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.now().After(e.deadline) {
		delete(c.entries, key)
		return "", false
	}
	return e.value, true
}

func (c *TTL) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = entry{value: value, deadline: c.now().Add(c.ttl)}
}

// evictLocked drops expired entries, and when none have expired drops an
// arbitrary entry to stay within bounds.
func (c *TTL) evictLocked() {
	now := c.now()
	for k, e := range c.entries {
		if now.After(e.deadline) {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxSize {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

func (c *TTL) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
