package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Sternrassler/esi-assembler/internal/config"
	"github.com/Sternrassler/esi-assembler/pkg/cache"
	"github.com/Sternrassler/esi-assembler/pkg/client"
	"github.com/Sternrassler/esi-assembler/pkg/esi"
	"github.com/Sternrassler/esi-assembler/pkg/logging"
	"github.com/Sternrassler/esi-assembler/pkg/metrics"
	"github.com/Sternrassler/esi-assembler/pkg/ratelimit"
	"github.com/Sternrassler/esi-assembler/pkg/warmup"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", os.Getenv("ESI_PROXY_CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "esi-proxy: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "esi-proxy: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Logging.Level),
		Pretty:  cfg.Logging.Pretty,
		Output:  os.Stderr,
		Service: "esi-proxy",
	})
	logger := logging.NewLogger("esi-proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	// Setup Redis
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		var err error
		redisClient, err = newRedisClient(cfg.Redis.URL)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis at %s: %w", cfg.Redis.URL, err)
		}
		logger.Info().Str("redis", cfg.Redis.URL).Msg("Connected to Redis")
	}

	fragmentClient, err := newFragmentClient(cfg, redisClient)
	if err != nil {
		return err
	}
	defer fragmentClient.Close()

	processor := esi.New(fragmentClient,
		esi.WithMaxDepth(cfg.ESI.MaxDepth),
		esi.WithReporter(esi.MultiReporter(
			logging.NewReporter(logging.NewLogger("esi")),
			metrics.NewReporter(),
		)),
	)

	origin, err := url.Parse(cfg.Origin.URL)
	if err != nil {
		return fmt.Errorf("parse origin url: %w", err)
	}

	proxy := newESIProxy(proxyConfig{
		Origin:       origin,
		Processor:    processor,
		ContentTypes: cfg.ESI.ContentTypes,
		Variables:    cfg.ESI.Variables,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      newMux(proxy, redisClient, cfg.Server.Compress),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	if len(cfg.Warmup.URLs) > 0 {
		go warm(ctx, fragmentClient, cfg)
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("origin", cfg.Origin.URL).
			Str("cache_layer", cfg.Cache.Layer).
			Str("user_agent", cfg.Origin.UserAgent).
			Msg("Starting ESI proxy server")
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Dur("timeout", cfg.Server.ShutdownTimeout).Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newRedisClient accepts either host:port or a redis:// URL.
func newRedisClient(rawURL string) (*redis.Client, error) {
	if strings.HasPrefix(rawURL, "redis://") || strings.HasPrefix(rawURL, "rediss://") {
		opts, err := redis.ParseURL(rawURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: rawURL}), nil
}

func newFragmentClient(cfg *config.Config, redisClient *redis.Client) (*client.Client, error) {
	clientCfg := client.DefaultConfig(cfg.Origin.UserAgent)
	clientCfg.BaseURL = cfg.Origin.URL
	clientCfg.Timeout = cfg.Origin.Timeout
	clientCfg.ForwardHeaders = cfg.Origin.ForwardHeaders

	switch cfg.Cache.Layer {
	case config.CacheLayerRedis:
		clientCfg.Store = cache.NewRedisStore(redisClient)
	case config.CacheLayerMemory:
		clientCfg.Store = cache.NewMemoryStore(cfg.Cache.MaxEntries)
	}

	if cfg.Budget.Enabled {
		tracker, err := ratelimit.NewTracker(redisClient, ratelimit.Config{
			Budget:        cfg.Budget.Errors,
			Window:        cfg.Budget.Window,
			ThrottleDelay: cfg.Budget.ThrottleDelay,
		}, logging.NewLogger("ratelimit"))
		if err != nil {
			return nil, fmt.Errorf("create origin budget tracker: %w", err)
		}
		clientCfg.Tracker = tracker
	}

	fragmentClient, err := client.New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create fragment client: %w", err)
	}
	return fragmentClient, nil
}

func newMux(proxy http.Handler, redisClient *redis.Client, compress bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", proxy)

	if compress {
		return gzhttp.GzipHandler(mux)
	}
	return mux
}

func warm(ctx context.Context, fetcher esi.Fetcher, cfg *config.Config) {
	w := warmup.New(fetcher, warmup.Config{
		MaxConcurrency: cfg.Warmup.Concurrency,
		Timeout:        cfg.Origin.Timeout,
	})
	// failures are logged by the warmer
	_, _ = w.Warm(ctx, cfg.Warmup.URLs)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports whether the proxy's dependencies are reachable.
func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}
