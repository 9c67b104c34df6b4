// Package logging configures zerolog for the proxy and its fragment
// pipeline, and defines the field names used in fragment log lines.
package logging

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Field names shared by all fragment log lines.
const (
	FieldURL             = "url"
	FieldOrigin          = "origin"
	FieldCategory        = "category"
	FieldStatus          = "status"
	FieldErrorClass      = "error_class"
	FieldCacheHit        = "cache_hit"
	FieldErrorsRemaining = "errors_remaining"
	FieldETag            = "etag"
	FieldTTL             = "ttl"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output instead of JSON.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service is added to every line as "service" when set.
	Service string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// ParseLevel validates a configured level name. "warning" is accepted as
// an alias for warn.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return "", fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// zerologLevel maps a level to zerolog; unknown levels log at info.
func zerologLevel(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}
	switch parsed {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Fragment returns logger with the url and, for absolute URLs, the origin
// host of a fragment attached.
func Fragment(logger zerolog.Logger, rawURL string) zerolog.Logger {
	ctx := logger.With().Str(FieldURL, rawURL)
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		ctx = ctx.Str(FieldOrigin, u.Host)
	}
	return ctx.Logger()
}

// Log Level Guidelines:
//
// Debug: fragment requests, cache hits and misses, conditional requests,
// shared in-flight requests.
//
// Info: alt fallbacks, 304 Not Modified, origin budget recovery, server
// startup and shutdown.
//
// Warn: fragments passed through as raw tags, throttled origins, retries,
// cache errors (the request goes to the origin instead).
//
// Error: documents that could not be processed, blocked origins,
// configuration errors.
