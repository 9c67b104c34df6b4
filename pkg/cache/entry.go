package cache

import (
	"net/http"
	"time"
)

// StaleGrace is how long an expired entry that can be revalidated is kept.
const StaleGrace = 10 * time.Minute

// CacheEntry represents a cached fragment response.
type CacheEntry struct {
	// Data is the response body
	Data []byte `json:"data"`

	// ETag for conditional requests (If-None-Match)
	ETag string `json:"etag,omitempty"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`

	// LastModified for conditional requests (If-Modified-Since)
	LastModified time.Time `json:"last_modified,omitempty"`

	// StatusCode is the HTTP status code of the cached response
	StatusCode int `json:"status_code"`

	// Headers are the response headers
	Headers http.Header `json:"headers,omitempty"`

	// CachedAt is when we cached this response
	CachedAt time.Time `json:"cached_at"`

	// Vary lists the canonical request header names from the response's
	// Vary header. Under a URL-only key an entry with Vary set is a marker
	// pointing at per-variant entries (see Lookup).
	Vary []string `json:"vary,omitempty"`
}

// IsExpired returns true if the cache entry has expired.
func (e *CacheEntry) IsExpired() bool {
	return !time.Now().Before(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *CacheEntry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}

// StorageTTL is how long a store should keep the entry: its freshness
// lifetime, plus StaleGrace when it can be revalidated.
func (e *CacheEntry) StorageTTL() time.Duration {
	ttl := e.TTL()
	if ShouldMakeConditionalRequest(e) {
		ttl += StaleGrace
	}
	return ttl
}
