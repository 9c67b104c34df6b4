package warmup

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/esi-assembler/pkg/esi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
)

var warmupFragmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "esi_warmup_fragments_total",
	Help: "Fragments fetched by the cache warmer by result",
}, []string{"result"})

// Config holds warmer configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel fetches.
	MaxConcurrency int
	// Timeout per fragment fetch.
	Timeout time.Duration
}

// DefaultConfig returns the default warmer configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 10,
		Timeout:        15 * time.Second,
	}
}

// Result is the outcome of warming a single fragment.
type Result struct {
	URL      string
	Bytes    int
	Duration time.Duration
	Err      error
}

// Warmer fetches fragments in parallel.
type Warmer struct {
	fetcher esi.Fetcher
	config  Config
}

// New creates a warmer. Zero config values are replaced by defaults.
func New(fetcher esi.Fetcher, config Config) *Warmer {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 10
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	return &Warmer{
		fetcher: fetcher,
		config:  config,
	}
}

// Warm fetches every URL once. Results are returned in the order of urls;
// fragments that were not attempted because ctx ended carry ctx's error.
// The returned error is non-nil only when ctx ended before all URLs were
// processed.
func (w *Warmer) Warm(ctx context.Context, urls []string) ([]Result, error) {
	start := time.Now()
	results := make([]Result, len(urls))
	if len(urls) == 0 {
		return results, nil
	}

	log.Info().
		Int("fragments", len(urls)).
		Int("workers", min(w.config.MaxConcurrency, len(urls))).
		Msg("Starting cache warmup")

	queue := make(chan int)
	go func() {
		defer close(queue)
		for i := range urls {
			select {
			case queue <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	// each index is written by exactly one worker
	attempted := make([]bool, len(urls))

	var done sync.WaitGroup
	for i := 0; i < min(w.config.MaxConcurrency, len(urls)); i++ {
		done.Add(1)
		go func(workerID int) {
			defer done.Done()
			for idx := range queue {
				if ctx.Err() != nil {
					log.Debug().
						Int("worker_id", workerID).
						Msg("Worker stopping (context cancelled)")
					return
				}
				attempted[idx] = true
				results[idx] = w.warmOne(ctx, urls[idx], workerID)
			}
		}(i)
	}
	done.Wait()

	failed := 0
	for i := range results {
		if !attempted[i] {
			results[i] = Result{URL: urls[i], Err: ctx.Err()}
		}
		if results[i].Err != nil {
			failed++
		}
	}

	log.Info().
		Int("fragments", len(urls)).
		Int("failed", failed).
		Dur("duration", time.Since(start)).
		Msg("Cache warmup complete")

	return results, ctx.Err()
}

func (w *Warmer) warmOne(ctx context.Context, url string, workerID int) Result {
	fetchCtx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	start := time.Now()
	body, err := w.fetcher.Fetch(fetchCtx, url)
	res := Result{URL: url, Bytes: len(body), Duration: time.Since(start), Err: err}

	if err != nil {
		warmupFragmentsTotal.WithLabelValues("error").Inc()
		log.Warn().
			Err(err).
			Int("worker_id", workerID).
			Str("url", url).
			Msg("Fragment warmup failed")
		return res
	}

	warmupFragmentsTotal.WithLabelValues("ok").Inc()
	log.Debug().
		Int("worker_id", workerID).
		Str("url", url).
		Int("bytes", res.Bytes).
		Dur("duration", res.Duration).
		Msg("Fragment warmed")
	return res
}
