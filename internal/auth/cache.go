package auth

import (
	"sync"
	"sync/atomic"
	"time"
)

// PrincipalCache is a TTL-based in-memory cache with stale-while-revalidate.
// Uses sync.Map for lock-free reads on the hot path. The TTL must stay well
// under the external session-validity window: a cached principal identity
// may never outlive the session that produced it.
type PrincipalCache struct {
	store sync.Map // map[string]*cacheEntry
	ttl   time.Duration
}

type cacheEntry struct {
	principal  *Principal
	expiresAt  time.Time
	refreshing atomic.Bool
}

// CacheGetResult holds the result of a cache lookup.
type CacheGetResult struct {
	Principal    *Principal
	Hit          bool
	NeedsRefresh bool
}

// NewPrincipalCache creates a cache with the given TTL.
func NewPrincipalCache(ttl time.Duration) *PrincipalCache {
	return &PrincipalCache{ttl: ttl}
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *PrincipalCache) Get(apiKey string) CacheGetResult {
	val, ok := c.store.Load(apiKey)
	if !ok {
		return CacheGetResult{Hit: false}
	}

	entry := val.(*cacheEntry)
	now := time.Now()

	if now.Before(entry.expiresAt) {
		return CacheGetResult{
			Principal: entry.principal,
			Hit:       true,
		}
	}

	// Stale hit — only one goroutine wins the CAS and refreshes
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return CacheGetResult{
		Principal:    entry.principal,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a principal with a fresh TTL.
func (c *PrincipalCache) Set(apiKey string, principal *Principal) {
	c.store.Store(apiKey, &cacheEntry{
		principal: principal,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *PrincipalCache) Delete(apiKey string) {
	c.store.Delete(apiKey)
}
