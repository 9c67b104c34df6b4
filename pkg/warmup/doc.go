// Package warmup preloads fragments into the fragment cache.
//
// Warming runs the configured fragment URLs through an esi.Fetcher (usually a
// *client.Client with a cache store) so the first viewer requests after a
// deploy are served from cache. Fetches run in a bounded worker pool.
//
// Example usage:
//
//	w := warmup.New(fragmentClient, warmup.DefaultConfig())
//	results, err := w.Warm(ctx, []string{"/fragments/header", "/fragments/footer"})
//
// The warmer:
//   - Distributes URLs across workers (default 10)
//   - Bounds each fetch with a per-URL timeout
//   - Returns one Result per URL in input order
//   - Keeps going when single fragments fail
package warmup
