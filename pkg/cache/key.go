package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// CacheKey identifies a cached fragment.
type CacheKey struct {
	// URL is the absolute fragment URL
	URL string

	// Vary holds the request headers named by the response's Vary header.
	// A name mapped to no values stands for an absent header.
	Vary http.Header
}

// String generates a deterministic cache key string.
// Format: esi:fragment:scheme://host/path:query1=val1:query2=val2:vary=digest
//
// Query keys and values are escaped, so ':' only ever separates components.
//
// Example:
//
//	esi:fragment:https://origin.example/fragments/header:lang=de
func (k CacheKey) String() string {
	parts := []string{"esi", "fragment"}

	u, err := url.Parse(k.URL)
	if err != nil {
		parts = append(parts, k.URL)
	} else {
		path := strings.ReplaceAll(u.EscapedPath(), ":", "%3A")
		if path == "" {
			path = "/"
		}
		parts = append(parts, strings.ToLower(u.Scheme)+"://"+strings.ToLower(u.Host)+path)

		// sorted for determinism
		query := u.Query()
		queryKeys := make([]string, 0, len(query))
		for key := range query {
			queryKeys = append(queryKeys, key)
		}
		sort.Strings(queryKeys)
		for _, key := range queryKeys {
			values := make([]string, len(query[key]))
			for i, v := range query[key] {
				values[i] = url.QueryEscape(v)
			}
			parts = append(parts, url.QueryEscape(key)+"="+strings.Join(values, ","))
		}
	}

	if digest := varyDigest(k.Vary); digest != "" {
		parts = append(parts, "vary="+digest)
	}

	return strings.Join(parts, ":")
}

// varyDigest hashes the vary headers so viewer data never appears in keys.
func varyDigest(h http.Header) string {
	if len(h) == 0 {
		return ""
	}

	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Strings(names)

	sum := sha256.New()
	for _, name := range names {
		sum.Write([]byte(strings.ToLower(name)))
		sum.Write([]byte{0})
		for _, v := range h[name] {
			sum.Write([]byte(v))
			sum.Write([]byte{1})
		}
		sum.Write([]byte{0})
	}
	return hex.EncodeToString(sum.Sum(nil))[:16]
}
