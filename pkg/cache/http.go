package cache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultTTL is the fallback TTL when a response carries no freshness information
	DefaultTTL = 5 * time.Minute
)

// IsCacheable reports whether resp may be stored in a shared cache.
func IsCacheable(resp *http.Response) bool {
	if resp == nil || resp.StatusCode != http.StatusOK {
		return false
	}
	directives := parseCacheControl(resp.Header.Get("Cache-Control"))
	if _, ok := directives["no-store"]; ok {
		return false
	}
	if _, ok := directives["private"]; ok {
		return false
	}
	if _, ok := VaryNames(resp.Header); !ok {
		return false
	}
	return true
}

// ResponseToEntry converts an HTTP response to a CacheEntry.
// It computes the expiry from the response headers and reads the body.
// The response body is restored after reading.
func ResponseToEntry(resp *http.Response) (*CacheEntry, error) {
	if resp == nil {
		return nil, fmt.Errorf("response cannot be nil")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	resp.Body.Close()

	// Restore body for caller
	resp.Body = io.NopCloser(bytes.NewReader(body))

	now := time.Now()
	entry := &CacheEntry{
		Data:       body,
		ETag:       resp.Header.Get("ETag"),
		Expires:    Expiry(resp.Header, now),
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		CachedAt:   now,
	}
	entry.Vary, _ = VaryNames(resp.Header)

	if lastModStr := resp.Header.Get("Last-Modified"); lastModStr != "" {
		if lastMod, err := http.ParseTime(lastModStr); err == nil {
			entry.LastModified = lastMod
		}
	}

	return entry, nil
}

// EntryToResponse rebuilds an HTTP response from a cache entry.
func EntryToResponse(entry *CacheEntry) *http.Response {
	if entry == nil {
		return nil
	}

	header := entry.Headers.Clone()
	if header == nil {
		header = http.Header{}
	}
	status := entry.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(entry.Data)),
		ContentLength: int64(len(entry.Data)),
	}
}

// Expiry computes when a response received at now becomes stale.
// s-maxage wins over max-age, which wins over Expires; no-cache means the
// response is stale immediately. Without any of them DefaultTTL applies.
func Expiry(headers http.Header, now time.Time) time.Time {
	directives := parseCacheControl(headers.Get("Cache-Control"))

	if _, ok := directives["no-cache"]; ok {
		return now
	}

	for _, name := range []string{"s-maxage", "max-age"} {
		value, ok := directives[name]
		if !ok {
			continue
		}
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds < 0 {
			continue
		}
		lifetime := time.Duration(seconds)*time.Second - age(headers)
		if lifetime < 0 {
			lifetime = 0
		}
		return now.Add(lifetime)
	}

	return parseExpires(headers, now)
}

// parseExpires parses the Expires header.
// Returns now + DefaultTTL when the header is missing or invalid.
func parseExpires(headers http.Header, now time.Time) time.Time {
	expiresStr := headers.Get("Expires")
	if expiresStr == "" {
		return now.Add(DefaultTTL)
	}

	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		// treated like a missing header
		return now.Add(DefaultTTL)
	}

	if expires.Before(now) {
		return now
	}
	return expires
}

func age(headers http.Header) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(headers.Get("Age")))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

// parseCacheControl splits a Cache-Control header into lowercased directives.
// Directives without a value map to "".
func parseCacheControl(header string) map[string]string {
	directives := make(map[string]string)
	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		directives[strings.ToLower(strings.TrimSpace(name))] = strings.Trim(strings.TrimSpace(value), `"`)
	}
	return directives
}

// ShouldMakeConditionalRequest determines if we should add conditional
// request headers (If-None-Match or If-Modified-Since) based on the cache entry.
func ShouldMakeConditionalRequest(entry *CacheEntry) bool {
	if entry == nil {
		return false
	}
	return entry.ETag != "" || !entry.LastModified.IsZero()
}

// AddConditionalHeaders adds If-None-Match (ETag) or If-Modified-Since headers
// to the request if the cache entry supports conditional requests.
func AddConditionalHeaders(req *http.Request, entry *CacheEntry) {
	if entry == nil || req == nil {
		return
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}

	// Prefer ETag over Last-Modified (more accurate)
	if entry.ETag != "" {
		req.Header.Set("If-None-Match", entry.ETag)
	} else if !entry.LastModified.IsZero() {
		req.Header.Set("If-Modified-Since", entry.LastModified.UTC().Format(http.TimeFormat))
	}
}
