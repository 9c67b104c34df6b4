// Package cache provides the fragment cache used by the ESI fragment client.
//
// Entries are stored behind the Store interface, with a Redis backend shared
// between proxy instances and a bounded in-memory backend for single
// processes and tests. The package implements HTTP freshness rules:
//
//   - Cache-Control no-store and private responses are never cached
//   - s-maxage wins over max-age, which wins over Expires
//   - responses without freshness information live for DefaultTTL
//   - expired entries with an ETag or Last-Modified are kept for StaleGrace so
//     they can be revalidated with a conditional request
//   - responses are shared by all viewers unless their Vary header names
//     request headers; Lookup and Save then keep one entry per variant, and
//     Vary: * is never cached
//
// # Basic Usage
//
//	store := cache.NewRedisStore(redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	}))
//
//	key := cache.CacheKey{URL: "https://origin.example/fragments/header"}
//
//	entry, err := store.Get(ctx, key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from origin
//	}
//
// # HTTP Response Caching
//
//	if cache.IsCacheable(resp) {
//		entry, err := cache.ResponseToEntry(resp)
//		if err != nil {
//			return err
//		}
//		if err := store.Set(ctx, key, entry); err != nil {
//			return err
//		}
//	}
//
// # Conditional Requests
//
//	if entry.IsExpired() && cache.ShouldMakeConditionalRequest(entry) {
//		cache.AddConditionalHeaders(req, entry)
//		// a 304 answer refreshes entry instead of replacing it
//	}
//
// # Metrics
//
//   - esi_cache_hits_total{layer} - Cache hits
//   - esi_cache_misses_total{layer} - Cache misses
//   - esi_cache_size_bytes{layer} - Cache size
//   - esi_cache_entries{layer} - Cached entries (memory layer)
//   - esi_304_responses_total - Conditional request successes
//   - esi_conditional_requests_total - Conditional requests sent
//   - esi_cache_errors_total{operation} - Cache operation errors
package cache
