// Package metrics provides the centralized Prometheus metrics registry for
// the ESI assembler. Fragment, cache and origin budget metrics are defined in
// their respective packages (client, cache, ratelimit) to maintain modularity
// and avoid circular dependencies. Document processing metrics and the
// fragment event reporter live here.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/Sternrassler/esi-assembler/pkg/esi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry is the default Prometheus registry used by the ESI assembler.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Document result labels.
const (
	ResultOK        = "ok"
	ResultCancelled = "cancelled"
	ResultError     = "error"
)

var (
	fragmentEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_fragment_events_total",
		Help: "Fragment resolution events by category (request, fallback, error)",
	}, []string{"category"})

	documentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_documents_processed_total",
		Help: "Documents processed by result",
	}, []string{"result"})

	documentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "esi_document_processing_duration_seconds",
		Help:    "Time spent processing a document including fragment fetches",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	})
)

// NewReporter returns an esi.Reporter counting fragment events by category.
func NewReporter() esi.Reporter {
	return esi.ReporterFunc(func(_ context.Context, ev esi.Event) {
		fragmentEventsTotal.WithLabelValues(string(ev.Category)).Inc()
	})
}

// ObserveDocument records one processed document that started at start and
// finished with err.
func ObserveDocument(start time.Time, err error) {
	documentDuration.Observe(time.Since(start).Seconds())
	documentsTotal.WithLabelValues(Result(err)).Inc()
}

// Result maps a processing error to its result label.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultOK
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ResultCancelled
	default:
		return ResultError
	}
}

// Metrics Documentation
//
// Document Metrics (pkg/metrics):
//   - esi_documents_processed_total{result} (Counter): Documents processed (ok, cancelled, error)
//   - esi_document_processing_duration_seconds (Histogram): Processing time per document
//   - esi_fragment_events_total{category} (Counter): Fragment events (request, fallback, error)
//
// Origin Budget Metrics (pkg/ratelimit):
//   - esi_origin_errors_remaining{origin} (Gauge): Errors remaining in the origin's budget window
//   - esi_origin_blocks_total{origin} (Counter): Requests blocked due to an exhausted budget
//   - esi_origin_throttles_total{origin} (Counter): Requests throttled due to a low budget
//
// Cache Metrics (pkg/cache):
//   - esi_cache_hits_total{layer} (Counter): Cache hits by layer (redis, memory)
//   - esi_cache_misses_total{layer} (Counter): Cache misses by layer
//   - esi_cache_size_bytes{layer} (Gauge): Cache size in bytes
//   - esi_cache_entries{layer} (Gauge): Cached fragment count
//   - esi_304_responses_total (Counter): 304 Not Modified responses
//   - esi_conditional_requests_total (Counter): Conditional requests sent with validators
//   - esi_cache_errors_total{operation} (Counter): Cache operation errors
//
// Fragment Request Metrics (pkg/client):
//   - esi_fragment_requests_total{origin, status} (Counter): Requests by origin and HTTP status
//   - esi_fragment_request_duration_seconds{origin} (Histogram): Request duration by origin
//   - esi_fragment_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - esi_retries_total{error_class} (Counter): Retry attempts by error class
//   - esi_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - esi_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Warmup Metrics (pkg/warmup):
//   - esi_warmup_fragments_total{result} (Counter): Fragments fetched by the cache warmer
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(esi_cache_hits_total[5m])) /
//   (sum(rate(esi_cache_hits_total[5m])) + sum(rate(esi_cache_misses_total[5m])))
//
//   # Origins close to their budget
//   esi_origin_errors_remaining < 20
//
//   # Fragment failure ratio
//   sum(rate(esi_fragment_events_total{category="error"}[5m])) /
//   sum(rate(esi_fragment_events_total{category="request"}[5m]))
//
//   # P95 Document Latency
//   histogram_quantile(0.95, rate(esi_document_processing_duration_seconds_bucket[5m]))
