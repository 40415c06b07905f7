package sdk

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Default response cache sizing.
const (
	DefaultCacheSize = 64
	DefaultCacheTTL  = 5 * time.Minute
)

// ResponseCache holds permission responses keyed by bearer fingerprint.
// Entries expire after the TTL. Logout and role switch purge it.
type ResponseCache struct {
	lru *expirable.LRU[string, *ResolvedPermissions]
}

// NewResponseCache returns a cache holding at most size entries for ttl.
// Non-positive values fall back to the defaults.
func NewResponseCache(size int, ttl time.Duration) *ResponseCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResponseCache{lru: expirable.NewLRU[string, *ResolvedPermissions](size, nil, ttl)}
}

// Get returns the cached response for bearer.
func (c *ResponseCache) Get(bearer string) (*ResolvedPermissions, bool) {
	return c.lru.Get(fingerprint(bearer))
}

// Add stores a response for bearer.
func (c *ResponseCache) Add(bearer string, resolved *ResolvedPermissions) {
	c.lru.Add(fingerprint(bearer), resolved)
}

// Remove drops the entry for bearer.
func (c *ResponseCache) Remove(bearer string) {
	c.lru.Remove(fingerprint(bearer))
}

// Purge drops every entry.
func (c *ResponseCache) Purge() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	return c.lru.Len()
}

// fingerprint keeps raw bearer tokens out of cache keys.
func fingerprint(bearer string) string {
	sum := sha256.Sum256([]byte(bearer))
	return hex.EncodeToString(sum[:])
}
