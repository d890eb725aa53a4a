package discord

import (
	"sync"
	"time"
)

// Cache remembers positive membership verdicts per (user, guild)
type Cache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	result  VerifyResult
	expires time.Time
}

// NewCache creates a cache whose entries live for ttl
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock replaces the clock used for expiry
func (c *Cache) WithClock(now func() time.Time) *Cache {
	c.now = now
	return c
}

func cacheKey(userID, guildID string) string {
	return "member:" + userID + ":" + guildID
}

// Get returns the cached verdict, dropping it when expired
func (c *Cache) Get(userID, guildID string) (VerifyResult, bool) {
	key := cacheKey(userID, guildID)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return VerifyResult{}, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return VerifyResult{}, false
	}
	return entry.result, true
}

// Set stores a verdict for the cache TTL
func (c *Cache) Set(userID, guildID string, result VerifyResult) {
	c.mu.Lock()
	c.entries[cacheKey(userID, guildID)] = cacheEntry{result: result, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// Clear drops every entry and returns how many there were
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	return n
}

// Sweep drops entries expired at now
func (c *Cache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len is the number of cached verdicts
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
