package cache

import (
	"context"
	"errors"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Store keeps fragment cache entries.
//
// Get may return an expired entry as long as it can still be revalidated;
// callers check IsExpired. Entries that are neither fresh nor revalidatable
// are reported as ErrCacheMiss.
type Store interface {
	Get(ctx context.Context, key CacheKey) (*CacheEntry, error)
	Set(ctx context.Context, key CacheKey, entry *CacheEntry) error
	Delete(ctx context.Context, key CacheKey) error
}

// usable reports whether a stored entry may still be served or revalidated.
func usable(entry *CacheEntry) bool {
	return !entry.IsExpired() || ShouldMakeConditionalRequest(entry)
}
