package dnsresolve

import (
	"math"
	"sync"
	"time"
)

// TokenBuckets tracks one token bucket per client IP (spec.md §4.5(1):
// rate DNS_QPS_PER_IP, burst DNS_BURST_PER_IP), unlike the teacher's
// three-tier global/prefix/IP limiter — the façade only needs the per-IP
// tier since admission (C10) already bounds connection-level concurrency.
type TokenBuckets struct {
	rate            float64
	burst           float64
	cleanupInterval time.Duration
	maxEntries      int

	mu          sync.Mutex
	lastUpdate  map[string]time.Time
	tokens      map[string]float64
	lastCleanup time.Time
}

// NewTokenBuckets creates a per-IP token bucket limiter. A non-positive
// rate or burst disables rate limiting entirely (Allow always returns true).
func NewTokenBuckets(rate float64, burst, maxEntries int, cleanupInterval time.Duration) *TokenBuckets {
	if maxEntries <= 0 {
		maxEntries = 65536
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 60 * time.Second
	}
	return &TokenBuckets{
		rate:            rate,
		burst:           float64(burst),
		cleanupInterval: cleanupInterval,
		maxEntries:      maxEntries,
		lastUpdate:      map[string]time.Time{},
		tokens:          map[string]float64{},
		lastCleanup:     time.Now(),
	}
}

// Allow consumes one token for clientIP, returning false if the bucket is
// empty (the caller must then short-circuit to SERVFAIL without contacting
// an upstream, per spec.md §4.5(1)).
func (b *TokenBuckets) Allow(clientIP string) bool {
	if b == nil || b.rate <= 0 || b.burst <= 0 {
		return true
	}

	now := time.Now()
	b.mu.Lock()
	defer b.mu.Unlock()

	if now.Sub(b.lastCleanup) > b.cleanupInterval {
		b.cleanupLocked(now)
	}

	last, exists := b.lastUpdate[clientIP]
	if !exists {
		if len(b.lastUpdate) >= b.maxEntries {
			b.cleanupLocked(now)
			if len(b.lastUpdate) >= b.maxEntries {
				return false
			}
		}
		b.lastUpdate[clientIP] = now
		b.tokens[clientIP] = b.burst - 1.0
		return true
	}

	elapsed := now.Sub(last).Seconds()
	b.lastUpdate[clientIP] = now

	tokens := b.tokens[clientIP]
	if elapsed > 0 {
		tokens = math.Min(b.burst, tokens+(elapsed*b.rate))
	}
	if tokens >= 1.0 {
		b.tokens[clientIP] = tokens - 1.0
		return true
	}
	b.tokens[clientIP] = tokens
	return false
}

// cleanupLocked removes buckets that haven't been touched recently.
// Must be called with b.mu held.
func (b *TokenBuckets) cleanupLocked(now time.Time) {
	staleBefore := now.Add(-b.cleanupInterval)
	for k, last := range b.lastUpdate {
		if !last.After(staleBefore) {
			delete(b.lastUpdate, k)
			delete(b.tokens, k)
		}
	}
	b.lastCleanup = now
}
