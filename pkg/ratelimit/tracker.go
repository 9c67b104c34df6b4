package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for origin budget tracking.
var (
	esiOriginErrorsRemaining = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "esi_origin_errors_remaining",
		Help: "Number of failures remaining in the current origin error budget window",
	}, []string{"origin"})

	esiOriginBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_origin_blocks_total",
		Help: "Total number of fragment requests blocked due to an exhausted origin budget",
	}, []string{"origin"})

	esiOriginThrottlesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "esi_origin_throttles_total",
		Help: "Total number of fragment requests throttled due to a low origin budget",
	}, []string{"origin"})
)

// Tracker monitors per-origin error budgets and gates requests.
type Tracker struct {
	redis  *redis.Client
	config Config
	logger zerolog.Logger
}

// NewTracker creates a new origin budget tracker.
func NewTracker(redisClient *redis.Client, cfg Config, logger zerolog.Logger) (*Tracker, error) {
	if redisClient == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget config: %w", err)
	}
	return &Tracker{
		redis:  redisClient,
		config: cfg,
		logger: logger,
	}, nil
}

// GetState retrieves the current budget of origin from Redis.
// An origin without recorded failures has its full budget.
func (t *Tracker) GetState(ctx context.Context, origin string) (*OriginState, error) {
	pipe := t.redis.Pipeline()
	errorsCmd := pipe.Get(ctx, errorsKey(origin))
	ttlCmd := pipe.PTTL(ctx, errorsKey(origin))
	blockedCmd := pipe.Get(ctx, blockedUntilKey(origin))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("get origin state: %w", err)
	}

	now := time.Now()
	state := &OriginState{
		Origin:          origin,
		ErrorsRemaining: t.config.Budget,
		ResetAt:         now.Add(t.config.Window),
	}

	failures, err := errorsCmd.Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("parse error count: %w", err)
	}
	if err == nil {
		state.ErrorsRemaining = max(t.config.Budget-failures, 0)
		if ttl := ttlCmd.Val(); ttl > 0 {
			state.ResetAt = now.Add(ttl)
		}
	}

	blockedUnix, err := blockedCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("parse blocked until: %w", err)
	}
	if err == nil {
		if until := time.Unix(blockedUnix, 0); until.After(now) {
			state.BlockedUntil = until
			state.ErrorsRemaining = 0
		}
	}

	state.UpdateHealth()
	return state, nil
}

// RecordFailure spends one unit of the origin's error budget.
func (t *Tracker) RecordFailure(ctx context.Context, origin string) error {
	key := errorsKey(origin)
	failures, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("record origin failure: %w", err)
	}
	if failures == 1 {
		// first failure opens the window
		if err := t.redis.Expire(ctx, key, t.config.Window).Err(); err != nil {
			return fmt.Errorf("set budget window: %w", err)
		}
	}

	remaining := max(t.config.Budget-int(failures), 0)
	esiOriginErrorsRemaining.WithLabelValues(origin).Set(float64(remaining))
	t.logTransition(origin, remaining)
	return nil
}

// BlockUntil exhausts the origin's budget until the given time.
func (t *Tracker) BlockUntil(ctx context.Context, origin string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := t.redis.Set(ctx, blockedUntilKey(origin), until.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("store blocked until: %w", err)
	}

	esiOriginErrorsRemaining.WithLabelValues(origin).Set(0)
	t.logger.Error().
		Str("origin", origin).
		Time("blocked_until", until).
		Msg("Origin asked to back off - requests will be blocked")
	return nil
}

// UpdateFromResponse records the outcome of a fragment response.
// Server errors and 429 spend budget; a Retry-After on 429 or 503 blocks the
// origin until the given time.
func (t *Tracker) UpdateFromResponse(ctx context.Context, origin string, status int, headers http.Header) error {
	if status != http.StatusTooManyRequests && status < 500 {
		return nil
	}

	if err := t.RecordFailure(ctx, origin); err != nil {
		return err
	}

	if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable {
		if until, ok := ParseRetryAfter(headers.Get("Retry-After"), time.Now()); ok {
			return t.BlockUntil(ctx, origin, until)
		}
	}
	return nil
}

// ShouldAllowRequest checks if a request to origin should be allowed.
// Returns false if the budget is exhausted. In the warning range it waits
// ThrottleDelay first, returning the context error if ctx ends meanwhile.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, origin string) (bool, error) {
	state, err := t.GetState(ctx, origin)
	if err != nil {
		return false, fmt.Errorf("get origin state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Warn().
			Str("origin", origin).
			Int("errors_remaining", state.ErrorsRemaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Origin budget exhausted - blocking request")

		esiOriginBlocksTotal.WithLabelValues(origin).Inc()
		return false, nil
	}

	if state.NeedsThrottling() && t.config.ThrottleDelay > 0 {
		t.logger.Debug().
			Str("origin", origin).
			Int("errors_remaining", state.ErrorsRemaining).
			Msg("Origin budget low - throttling request")

		esiOriginThrottlesTotal.WithLabelValues(origin).Inc()

		timer := time.NewTimer(t.config.ThrottleDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
		}
	}

	return true, nil
}

// Reset forgets all recorded failures of origin.
func (t *Tracker) Reset(ctx context.Context, origin string) error {
	if err := t.redis.Del(ctx, errorsKey(origin), blockedUntilKey(origin)).Err(); err != nil {
		return fmt.Errorf("reset origin state: %w", err)
	}
	esiOriginErrorsRemaining.WithLabelValues(origin).Set(float64(t.config.Budget))
	return nil
}

func (t *Tracker) logTransition(origin string, remaining int) {
	switch remaining {
	case ErrorThresholdCritical - 1:
		t.logger.Error().
			Str("origin", origin).
			Int("errors_remaining", remaining).
			Msg("Origin error budget CRITICAL - requests will be blocked")
	case ErrorThresholdWarning - 1:
		t.logger.Warn().
			Str("origin", origin).
			Int("errors_remaining", remaining).
			Msg("Origin error budget WARNING - requests will be throttled")
	}
}

// ParseRetryAfter parses a Retry-After header given either as delay seconds
// or as an HTTP date.
func ParseRetryAfter(value string, now time.Time) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(seconds) * time.Second), true
	}
	if at, err := http.ParseTime(value); err == nil {
		return at, true
	}
	return time.Time{}, false
}
