// Package client provides the HTTP fragment client used to resolve
// esi:include tags, with response caching, retries and per-origin error
// budgets.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Sternrassler/esi-assembler/pkg/cache"
	"github.com/Sternrassler/esi-assembler/pkg/esi"
	"github.com/Sternrassler/esi-assembler/pkg/logging"
	"github.com/Sternrassler/esi-assembler/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Prometheus metrics for fragment requests.
var (
	esiRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_fragment_requests_total",
		Help: "Total fragment requests by origin and status",
	}, []string{"origin", "status"})

	esiRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "esi_fragment_request_duration_seconds",
		Help:    "Fragment request duration in seconds by origin",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"origin"})

	esiErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_fragment_errors_total",
		Help: "Total fragment errors by class",
	}, []string{"class"})

	esiRetriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	esiRetryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "esi_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2},
	}, []string{"error_class"})

	esiRetryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// DefaultMaxBodySize limits fragment bodies read by Fetch.
const DefaultMaxBodySize = 10 << 20

// Client fetches fragments. It implements esi.Fetcher.
type Client struct {
	httpClient *http.Client
	store      cache.Store
	tracker    *ratelimit.Tracker
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
	inflight   singleflight.Group
}

var _ esi.Fetcher = (*Client)(nil)

// Config holds the client configuration.
type Config struct {
	// BaseURL resolves relative include URLs, e.g. "http://origin:8080".
	// Without it only absolute URLs can be fetched.
	BaseURL string

	// UserAgent header sent with every fragment request.
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	// FetchTimeout bounds a whole Fetch including retries. It defaults to
	// three times Timeout.
	FetchTimeout time.Duration

	// Store caches fragment responses (optional).
	Store cache.Store

	// Tracker gates requests on per-origin error budgets (optional).
	Tracker *ratelimit.Tracker

	// Retry overrides the per-class retry configuration when MaxAttempts > 0.
	Retry RetryConfig

	// ForwardHeaders names the viewer request headers passed on to fragment
	// requests (see WithForwardedHeaders). Responses listing them in Vary
	// are cached per viewer, all others are shared.
	ForwardHeaders []string

	// MaxBodySize limits fragment bodies in bytes.
	MaxBodySize int64
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(userAgent string) Config {
	return Config{
		UserAgent:      userAgent,
		Timeout:        5 * time.Second,
		ForwardHeaders: []string{"Cookie", "Accept-Language"},
		MaxBodySize:    DefaultMaxBodySize,
	}
}

// New creates a new fragment client.
func New(cfg Config) (*Client, error) {
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative (got %v)", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 3 * cfg.Timeout
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	var base *url.URL
	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse base url: %w", err)
		}
		if !u.IsAbs() || u.Host == "" {
			return nil, fmt.Errorf("base url must be absolute (got %q)", cfg.BaseURL)
		}
		base = u
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		store:   cfg.Store,
		tracker: cfg.Tracker,
		baseURL: base,
		config:  cfg,
		logger:  logging.NewLogger("esi-client"),
	}, nil
}

type forwardedKey struct{}

// WithForwardedHeaders attaches the viewer's request headers to ctx. Fetch
// passes the headers named in Config.ForwardHeaders on to the origin.
func WithForwardedHeaders(ctx context.Context, h http.Header) context.Context {
	return context.WithValue(ctx, forwardedKey{}, h)
}

// forwarded returns the configured subset of the headers attached to ctx.
func (c *Client) forwarded(ctx context.Context) http.Header {
	h, _ := ctx.Value(forwardedKey{}).(http.Header)
	if len(h) == 0 {
		return nil
	}
	var out http.Header
	for _, name := range c.config.ForwardHeaders {
		if values := h.Values(name); len(values) > 0 {
			if out == nil {
				out = http.Header{}
			}
			out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
		}
	}
	return out
}

// Fetch retrieves a fragment body. Relative URLs are resolved against
// BaseURL. Responses with status >= 400 and transport failures are returned
// as *FetchError. Concurrent fetches of the same fragment for the same viewer
// headers share one request.
func (c *Client) Fetch(ctx context.Context, rawURL string) (string, error) {
	u, err := c.resolve(rawURL)
	if err != nil {
		return "", err
	}

	header := c.forwarded(ctx)
	key := cache.CacheKey{URL: u.String(), Vary: header}.String()

	// The shared request is detached from the callers; each caller stops
	// waiting when its own context is done.
	ch := c.inflight.DoChan(key, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.FetchTimeout)
		defer cancel()
		return c.fetch(fetchCtx, u, header)
	})

	select {
	case res := <-ch:
		if res.Shared {
			c.logger.Debug().Str("url", u.String()).Msg("Shared in-flight fragment request")
		}
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &FetchError{
			URL:        u.String(),
			ErrorClass: ErrorClassNetwork,
			Message:    "caller gave up",
			Err:        fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err()),
		}
	}
}

func (c *Client) fetch(ctx context.Context, u *url.URL, header http.Header) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", &FetchError{URL: u.String(), ErrorClass: ErrorClassClient, Message: "create request", Err: err}
	}
	for name, values := range header {
		req.Header[name] = values
	}

	resp, err := c.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &FetchError{
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			ErrorClass: classify(resp, nil),
			Message:    resp.Status,
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxBodySize+1))
	if err != nil {
		return "", &FetchError{URL: u.String(), StatusCode: resp.StatusCode, ErrorClass: ErrorClassNetwork, Message: "read body", Err: err}
	}
	if int64(len(body)) > c.config.MaxBodySize {
		return "", &FetchError{
			URL:        u.String(),
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassClient,
			Message:    fmt.Sprintf("body exceeds %d bytes", c.config.MaxBodySize),
		}
	}
	return string(body), nil
}

// resolve turns an include URL into an absolute http(s) URL.
func (c *Client) resolve(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, &FetchError{URL: rawURL, ErrorClass: ErrorClassClient, Message: "invalid url", Err: err}
	}
	if !u.IsAbs() {
		if c.baseURL == nil {
			return nil, &FetchError{URL: rawURL, ErrorClass: ErrorClassClient, Message: "relative url without base url"}
		}
		u = c.baseURL.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &FetchError{URL: rawURL, ErrorClass: ErrorClassClient, Message: "unsupported scheme " + strconv.Quote(u.Scheme)}
	}
	return u, nil
}

// Do performs an HTTP request with caching, error budget gating and retries.
//
// A fresh cached response is returned without contacting the origin; a stale
// one with validators turns the request into a conditional request. Client
// errors (4xx) are returned as responses for the caller to handle; retriable
// failures that persist are returned as errors.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	origin := req.URL.Host
	target := req.URL.String()

	startTime := time.Now()
	defer func() {
		esiRequestDuration.WithLabelValues(origin).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)

	// Step 1: Check cache
	cacheable := c.store != nil && req.Method == http.MethodGet

	var cachedEntry *cache.CacheEntry
	if cacheable {
		_, entry, err := cache.Lookup(ctx, c.store, target, req.Header)
		switch {
		case err == nil:
			cachedEntry = entry
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("url", target).Msg("Cache get error")
		}
	}

	if cachedEntry != nil && !cachedEntry.IsExpired() {
		c.logger.Debug().
			Str("url", target).
			Bool("cache_hit", true).
			Dur("ttl", cachedEntry.TTL()).
			Msg("Serving fragment from cache")
		esiRequestsTotal.WithLabelValues(origin, "cache_hit").Inc()
		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 2: Revalidate stale entry
	if cachedEntry != nil && cache.ShouldMakeConditionalRequest(cachedEntry) {
		cache.AddConditionalHeaders(req, cachedEntry)
		cache.ConditionalRequestsSent.Inc()
		c.logger.Debug().
			Str("url", target).
			Str("etag", cachedEntry.ETag).
			Msg("Making conditional request")
	}

	// Step 3: Execute with retries
	var resp *http.Response
	retryErr := retryWithBackoff(ctx, c.logger, c.retryConfig, func() error {
		if err := c.checkBudget(ctx, origin, target); err != nil {
			return err
		}

		var reqErr error
		resp, reqErr = c.httpClient.Do(req.Clone(ctx))
		if reqErr != nil {
			esiErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			esiRequestsTotal.WithLabelValues(origin, "network_error").Inc()
			c.recordFailure(ctx, origin)
			c.logger.Warn().Err(reqErr).Str("url", target).Msg("Fragment request failed")
			resp = nil
			return &FetchError{URL: target, ErrorClass: ErrorClassNetwork, Message: "request failed", Err: reqErr}
		}

		esiRequestsTotal.WithLabelValues(origin, strconv.Itoa(resp.StatusCode)).Inc()
		if c.tracker != nil {
			if err := c.tracker.UpdateFromResponse(ctx, origin, resp.StatusCode, resp.Header); err != nil {
				c.logger.Warn().Err(err).Str("origin", origin).Msg("Failed to update origin budget")
			}
		}

		if resp.StatusCode < 400 {
			return nil
		}

		errClass := classify(resp, nil)
		esiErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Debug().
			Str("url", target).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Fragment request error")

		if !shouldRetry(errClass) {
			// Let the caller handle client errors
			return nil
		}

		fetchErr := &FetchError{
			URL:        target,
			StatusCode: resp.StatusCode,
			ErrorClass: errClass,
			Message:    resp.Status,
		}
		resp.Body.Close()
		resp = nil
		return fetchErr
	})
	if retryErr != nil {
		return nil, retryErr
	}

	// Step 4: 304 refreshes the cached entry
	if resp.StatusCode == http.StatusNotModified && cachedEntry != nil {
		resp.Body.Close()
		cache.NotModifiedResponses.Inc()
		c.logger.Debug().Str("url", target).Msg("304 Not Modified - using cache")

		cachedEntry.Expires = cache.Expiry(resp.Header, time.Now())
		if etag := resp.Header.Get("ETag"); etag != "" {
			cachedEntry.ETag = etag
		}
		if err := cache.Save(ctx, c.store, target, req.Header, cachedEntry); err != nil {
			c.logger.Warn().Err(err).Str("url", target).Msg("Failed to refresh cache entry")
		}
		return cache.EntryToResponse(cachedEntry), nil
	}

	// Step 5: Update cache on success
	if cacheable && cache.IsCacheable(resp) {
		entry, err := cache.ResponseToEntry(resp)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to create cache entry")
		} else if err := cache.Save(ctx, c.store, target, req.Header, entry); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to cache response")
		} else {
			c.logger.Debug().
				Str("url", target).
				Dur("ttl", entry.TTL()).
				Msg("Cached response")
		}
	}

	return resp, nil
}

func (c *Client) retryConfig(errorClass ErrorClass) RetryConfig {
	if c.config.Retry.MaxAttempts > 0 {
		return c.config.Retry
	}
	return RetryConfigForErrorClass(errorClass)
}

// checkBudget returns an error when the origin must not be contacted.
// Tracker failures fail open.
func (c *Client) checkBudget(ctx context.Context, origin, target string) error {
	if c.tracker == nil {
		return nil
	}

	allowed, err := c.tracker.ShouldAllowRequest(ctx, origin)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %w", ErrContextCancelled, ctxErr)
		}
		c.logger.Warn().Err(err).Str("origin", origin).Msg("Origin budget check failed")
		return nil
	}
	if !allowed {
		esiRequestsTotal.WithLabelValues(origin, "blocked").Inc()
		return &FetchError{URL: target, ErrorClass: ErrorClassRateLimit, Message: "origin budget exhausted", Err: ErrOriginBlocked}
	}
	return nil
}

func (c *Client) recordFailure(ctx context.Context, origin string) {
	if c.tracker == nil {
		return
	}
	if err := c.tracker.RecordFailure(ctx, origin); err != nil {
		c.logger.Warn().Err(err).Str("origin", origin).Msg("Failed to update origin budget")
	}
}

// Get performs a GET request for a fragment URL, resolving relative URLs
// against BaseURL.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := c.resolve(rawURL)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	return c.Do(req)
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// Store returns the configured cache store, nil when caching is disabled.
func (c *Client) Store() cache.Store {
	return c.store
}
