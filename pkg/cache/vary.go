package cache

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"
)

// VaryNames returns the sorted canonical header names listed in the Vary
// headers of a response. ok is false for "Vary: *", which can never be
// matched by a cache.
func VaryNames(h http.Header) (names []string, ok bool) {
	seen := map[string]bool{}
	for _, v := range h.Values("Vary") {
		for _, name := range strings.Split(v, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if name == "*" {
				return nil, false
			}
			name = http.CanonicalHeaderKey(name)
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names, true
}

// SelectVary picks the named headers from a request header. Absent headers
// are kept as names without values, so they still select a distinct variant.
func SelectVary(h http.Header, names []string) http.Header {
	out := make(http.Header, len(names))
	for _, name := range names {
		out[name] = append([]string(nil), h.Values(name)...)
	}
	return out
}

// Lookup finds the entry for a request to url carrying header. The entry
// under the URL-only key is either the shared response or a marker naming
// the headers the response varies on, in which case the variant selected by
// header is returned. key is where the entry was found.
func Lookup(ctx context.Context, s Store, url string, header http.Header) (key CacheKey, entry *CacheEntry, err error) {
	key = CacheKey{URL: url}
	entry, err = s.Get(ctx, key)
	if err != nil || len(entry.Vary) == 0 {
		return key, entry, err
	}

	key = CacheKey{URL: url, Vary: SelectVary(header, entry.Vary)}
	entry, err = s.Get(ctx, key)
	return key, entry, err
}

// Save stores entry as the response to a request to url carrying header.
// Entries without Vary are shared by all requests. Others are stored per
// variant, with a marker under the URL-only key that lives as long as the
// variant does.
func Save(ctx context.Context, s Store, url string, header http.Header, entry *CacheEntry) error {
	if len(entry.Vary) == 0 {
		return s.Set(ctx, CacheKey{URL: url}, entry)
	}

	variant := CacheKey{URL: url, Vary: SelectVary(header, entry.Vary)}
	if err := s.Set(ctx, variant, entry); err != nil {
		return err
	}

	marker := &CacheEntry{
		Vary:     entry.Vary,
		Expires:  time.Now().Add(entry.StorageTTL()),
		CachedAt: entry.CachedAt,
	}
	return s.Set(ctx, CacheKey{URL: url}, marker)
}
