package dnsresolve

import (
	"container/list"
	"sync"
	"time"
)

// EntryType categorizes cached responses for TTL-capping purposes (RFC 2308).
type EntryType int

const (
	EntryPositive EntryType = iota
	EntryNXDomain
	EntryNoData
	EntryServfail
)

type cacheEntry struct {
	value     []byte
	cachedAt  time.Time
	expiresAt time.Time
	entryType EntryType
	elem      *list.Element
}

// CacheKey identifies a cached response by question.
type CacheKey struct {
	QName  string
	QType  uint16
	QClass uint16
}

// Cache is a thread-safe, TTL-aware LRU cache for DoH/DNS responses, keyed
// by question. Positive entries are capped at maxTTL; negative
// (NXDOMAIN/NODATA/SERVFAIL) entries are stored for negativeTTL.
type Cache struct {
	mu sync.Mutex

	maxTTL      time.Duration
	negativeTTL time.Duration
	maxEntries  int

	lru  *list.List
	data map[CacheKey]*cacheEntry
}

// NewCache creates a cache capped at maxTTL for positive entries and using
// negativeTTL for NXDOMAIN/NODATA/SERVFAIL entries (DNS_CACHE_MAX_TTL_SECONDS
// and DNS_CACHE_NEGATIVE_TTL_SECONDS respectively).
func NewCache(maxEntries int, maxTTL, negativeTTL time.Duration) *Cache {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache{
		maxTTL:      maxTTL,
		negativeTTL: negativeTTL,
		maxEntries:  maxEntries,
		lru:         list.New(),
		data:        map[CacheKey]*cacheEntry{},
	}
}

// GetWithAge returns the cached value and its age since insertion.
func (c *Cache) GetWithAge(key CacheKey) ([]byte, time.Duration, bool, EntryType) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.data[key]
	if e == nil {
		return nil, 0, false, EntryPositive
	}
	if !e.expiresAt.After(now) {
		c.lru.Remove(e.elem)
		delete(c.data, key)
		return nil, 0, false, EntryPositive
	}

	c.lru.MoveToBack(e.elem)
	return e.value, now.Sub(e.cachedAt), true, e.entryType
}

// Set stores val under key with the given TTL, capped by entry type.
func (c *Cache) Set(key CacheKey, val []byte, ttl time.Duration, entryType EntryType) {
	if ttl <= 0 {
		return
	}
	ttl = c.capTTL(ttl, entryType)
	if ttl <= 0 {
		return
	}
	expires := time.Now().Add(ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing := c.data[key]; existing != nil {
		existing.value = val
		existing.cachedAt = time.Now()
		existing.expiresAt = expires
		existing.entryType = entryType
		c.lru.MoveToBack(existing.elem)
		return
	}

	e := &cacheEntry{value: val, cachedAt: time.Now(), expiresAt: expires, entryType: entryType}
	e.elem = c.lru.PushBack(key)
	c.data[key] = e
	c.evictOldestLocked()
}

func (c *Cache) capTTL(ttl time.Duration, entryType EntryType) time.Duration {
	switch entryType {
	case EntryPositive:
		if c.maxTTL > 0 && ttl > c.maxTTL {
			return c.maxTTL
		}
		return ttl
	default:
		if c.negativeTTL > 0 {
			return c.negativeTTL
		}
		return ttl
	}
}

func (c *Cache) evictOldestLocked() {
	for len(c.data) > c.maxEntries {
		front := c.lru.Front()
		if front == nil {
			break
		}
		k := front.Value.(CacheKey)
		c.lru.Remove(front)
		delete(c.data, k)
	}
}

// PruneExpired removes entries past expiry without waiting for a Get to
// notice; invoked periodically by internal/scheduler.
func (c *Cache) PruneExpired() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	var next *list.Element
	for e := c.lru.Front(); e != nil; e = next {
		next = e.Next()
		key := e.Value.(CacheKey)
		entry := c.data[key]
		if entry != nil && !entry.expiresAt.After(now) {
			c.lru.Remove(e)
			delete(c.data, key)
			removed++
		}
	}
	return removed
}
