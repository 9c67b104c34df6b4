// Package ratelimit tracks a per-origin error budget shared through Redis and
// gates fragment requests on it, so an unhealthy origin is backed off from
// instead of being hammered by every page that includes its fragments.
package ratelimit

import (
	"fmt"
	"time"
)

// Redis key layout for origin state.
const (
	redisKeyPrefix = "esi:origin:"
	// errors counts failures in the current window and expires with it
	redisKeyErrors = ":errors"
	// blocked_until holds a Unix timestamp set from Retry-After
	redisKeyBlockedUntil = ":blocked_until"
)

func errorsKey(origin string) string {
	return redisKeyPrefix + origin + redisKeyErrors
}

func blockedUntilKey(origin string) string {
	return redisKeyPrefix + origin + redisKeyBlockedUntil
}

// Thresholds for gating decisions.
const (
	// ErrorThresholdCritical blocks all requests when errors remaining falls below this value.
	ErrorThresholdCritical = 5

	// ErrorThresholdWarning applies throttling when errors remaining falls below this value.
	ErrorThresholdWarning = 20

	// ErrorThresholdHealthy indicates normal operation.
	ErrorThresholdHealthy = 50
)

// Config holds the error budget settings.
type Config struct {
	// Budget is the number of failures an origin may produce per window.
	Budget int

	// Window is the length of a budget window.
	Window time.Duration

	// ThrottleDelay is how long a request waits while the budget is low.
	ThrottleDelay time.Duration
}

// DefaultConfig returns the default error budget: 100 failures per minute.
func DefaultConfig() Config {
	return Config{
		Budget:        100,
		Window:        60 * time.Second,
		ThrottleDelay: 1 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Budget <= ErrorThresholdWarning {
		return fmt.Errorf("budget must be > %d (got %d)", ErrorThresholdWarning, c.Budget)
	}
	if c.Window <= 0 {
		return fmt.Errorf("window must be positive (got %v)", c.Window)
	}
	if c.ThrottleDelay < 0 {
		return fmt.Errorf("throttle delay must not be negative (got %v)", c.ThrottleDelay)
	}
	return nil
}

// OriginState represents the error budget of one origin.
// This state is shared across all proxy instances via Redis.
type OriginState struct {
	// Origin is the origin host, e.g. "fragments.example:8080".
	Origin string `json:"origin"`

	// ErrorsRemaining is the number of failures left in the current window.
	ErrorsRemaining int `json:"errors_remaining"`

	// ResetAt is when the current window ends.
	ResetAt time.Time `json:"reset_at"`

	// BlockedUntil is set from a Retry-After header; the budget counts as
	// exhausted until then.
	BlockedUntil time.Time `json:"blocked_until,omitempty"`

	// IsHealthy is true when ErrorsRemaining >= ErrorThresholdHealthy.
	IsHealthy bool `json:"is_healthy"`
}

// NeedsCriticalBlock returns true if requests should be blocked.
func (s *OriginState) NeedsCriticalBlock() bool {
	return s.ErrorsRemaining < ErrorThresholdCritical
}

// NeedsThrottling returns true if requests should be throttled due to warning threshold.
func (s *OriginState) NeedsThrottling() bool {
	return s.ErrorsRemaining < ErrorThresholdWarning && !s.NeedsCriticalBlock()
}

// TimeUntilReset returns the duration until requests are allowed in full
// again. Returns 0 if the reset time has already passed.
func (s *OriginState) TimeUntilReset() time.Duration {
	reset := s.ResetAt
	if s.BlockedUntil.After(reset) {
		reset = s.BlockedUntil
	}
	duration := time.Until(reset)
	if duration < 0 {
		return 0
	}
	return duration
}

// UpdateHealth updates the IsHealthy field based on current ErrorsRemaining.
func (s *OriginState) UpdateHealth() {
	s.IsHealthy = s.ErrorsRemaining >= ErrorThresholdHealthy
}
