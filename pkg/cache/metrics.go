package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	layerRedis  = "redis"
	layerMemory = "memory"
)

var (
	// CacheHits tracks cache hits by layer (redis, memory)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_cache_hits_total",
			Help: "Total number of fragment cache hits",
		},
		[]string{"layer"},
	)

	// CacheMisses tracks cache misses by layer
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_cache_misses_total",
			Help: "Total number of fragment cache misses",
		},
		[]string{"layer"},
	)

	// CacheSize tracks the bytes written (redis) or held (memory) by layer
	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esi_cache_size_bytes",
			Help: "Current size of the fragment cache in bytes",
		},
		[]string{"layer"},
	)

	// CacheEntries tracks the number of entries held by the memory layer
	CacheEntries = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "esi_cache_entries",
			Help: "Current number of fragment cache entries",
		},
		[]string{"layer"},
	)

	// NotModifiedResponses tracks 304 Not Modified responses
	NotModifiedResponses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_304_responses_total",
			Help: "Total number of 304 Not Modified fragment responses",
		},
	)

	// ConditionalRequestsSent tracks revalidation requests
	ConditionalRequestsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "esi_conditional_requests_total",
			Help: "Total number of conditional fragment requests sent",
		},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "esi_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete"
	)
)
