package authstate

import (
	"strings"
	"sync"
	"time"
)

// QueryCache memoizes proxied GET responses by request path. Login and
// logout sweep it by API prefix so that a freshly authenticated user never
// sees data cached for the previous session.
type QueryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]cacheEntry
}

type cacheEntry struct {
	status  int
	payload any
	expires time.Time
}

// NewQueryCache creates a cache whose entries live for ttl; ttl <= 0 means
// entries never expire on their own and only invalidation removes them.
func NewQueryCache(ttl time.Duration) *QueryCache {
	return &QueryCache{ttl: ttl, entries: make(map[string]cacheEntry)}
}

// Get returns the cached status and payload for key, if still fresh.
func (c *QueryCache) Get(key string) (int, any, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return 0, nil, false
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return 0, nil, false
	}
	return entry.status, entry.payload, true
}

// Set stores a response under key.
func (c *QueryCache) Set(key string, status int, payload any) {
	entry := cacheEntry{status: status, payload: payload}
	if c.ttl > 0 {
		entry.expires = time.Now().Add(c.ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
}

// InvalidatePrefix drops every entry whose key starts with prefix.
func (c *QueryCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

// Len reports the number of cached entries, expired or not.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
