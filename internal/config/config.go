// Package config loads the esi-proxy configuration from an optional YAML
// file and the environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/esi-assembler/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Cache layers.
const (
	CacheLayerRedis  = "redis"
	CacheLayerMemory = "memory"
	CacheLayerNone   = "none"
)

// Config is the proxy configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Origin  OriginConfig  `yaml:"origin"`
	Redis   RedisConfig   `yaml:"redis"`
	Cache   CacheConfig   `yaml:"cache"`
	Budget  BudgetConfig  `yaml:"budget"`
	ESI     ESIConfig     `yaml:"esi"`
	Warmup  WarmupConfig  `yaml:"warmup"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the listening HTTP server.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// Compress enables gzip response compression.
	Compress bool `yaml:"compress"`
}

// OriginConfig describes the upstream serving pages and fragments.
type OriginConfig struct {
	URL       string        `yaml:"url"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
	// ForwardHeaders are viewer request headers passed on to fragment requests.
	ForwardHeaders []string `yaml:"forward_headers"`
}

// RedisConfig configures the shared Redis instance used for the fragment
// cache and the origin error budget.
type RedisConfig struct {
	// URL is either host:port or a redis:// URL.
	URL string `yaml:"url"`
}

// CacheConfig selects the fragment cache layer.
type CacheConfig struct {
	Layer      string `yaml:"layer"`
	MaxEntries int    `yaml:"max_entries"`
}

// BudgetConfig configures the per-origin error budget. It requires Redis.
type BudgetConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Errors        int           `yaml:"errors"`
	Window        time.Duration `yaml:"window"`
	ThrottleDelay time.Duration `yaml:"throttle_delay"`
}

// ESIConfig configures document processing.
type ESIConfig struct {
	// ContentTypes lists media types processed without a Surrogate-Control header.
	ContentTypes []string `yaml:"content_types"`
	MaxDepth     int      `yaml:"max_depth"`
	// Variables seed every document; request variables take precedence.
	Variables map[string]string `yaml:"variables"`
}

// WarmupConfig lists fragments fetched at startup.
type WarmupConfig struct {
	URLs        []string `yaml:"urls"`
	Concurrency int      `yaml:"concurrency"`
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// Defaults returns the configuration used when nothing is configured.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			Compress:        true,
		},
		Origin: OriginConfig{
			UserAgent:      "esi-assembler/0.1.0",
			Timeout:        5 * time.Second,
			ForwardHeaders: []string{"Cookie", "Accept-Language"},
		},
		Redis: RedisConfig{
			URL: "localhost:6379",
		},
		Cache: CacheConfig{
			Layer:      CacheLayerRedis,
			MaxEntries: 1024,
		},
		Budget: BudgetConfig{
			Enabled:       true,
			Errors:        100,
			Window:        60 * time.Second,
			ThrottleDelay: time.Second,
		},
		ESI: ESIConfig{
			ContentTypes: []string{"text/html"},
			MaxDepth:     8,
		},
		Warmup: WarmupConfig{
			Concurrency: 10,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the configuration. The YAML file at path is optional; ${VAR}
// and ${VAR:-default} references in it are replaced from getenv. Environment
// overrides are applied last. The result is not validated.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		data = interpolateEnv(data, getenv)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func interpolateEnv(data []byte, getenv func(string) string) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		parts := envPattern.FindSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		value := getenv(string(parts[1]))
		if value == "" && len(parts) >= 3 && len(parts[2]) > 0 {
			value = string(parts[2])
		}
		return []byte(value)
	})
}

// applyEnv applies the environment overrides.
func applyEnv(cfg *Config, getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		cfg.Server.Port = port
	}
	if v := getenv("ORIGIN_URL"); v != "" {
		cfg.Origin.URL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := getenv("USER_AGENT"); v != "" {
		cfg.Origin.UserAgent = v
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := getenv("CACHE_LAYER"); v != "" {
		cfg.Cache.Layer = strings.ToLower(v)
	}
	return nil
}

// NeedsRedis reports whether any configured component uses Redis.
func (c *Config) NeedsRedis() bool {
	return c.Cache.Layer == CacheLayerRedis || c.Budget.Enabled
}

// Validate checks the configuration and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("invalid port: %d (must be 1-65535)", c.Server.Port))
	}

	if c.Origin.URL == "" {
		errs = append(errs, "origin url is required")
	} else if u, err := url.Parse(c.Origin.URL); err != nil || !u.IsAbs() || u.Host == "" {
		errs = append(errs, fmt.Sprintf("invalid origin url: %q (must be absolute)", c.Origin.URL))
	}
	if c.Origin.UserAgent == "" {
		errs = append(errs, "user agent is required")
	}
	if c.Origin.Timeout <= 0 {
		errs = append(errs, fmt.Sprintf("invalid origin timeout: %v (must be > 0)", c.Origin.Timeout))
	}

	switch c.Cache.Layer {
	case CacheLayerRedis, CacheLayerNone:
	case CacheLayerMemory:
		if c.Cache.MaxEntries <= 0 {
			errs = append(errs, fmt.Sprintf("invalid cache max_entries: %d (must be > 0)", c.Cache.MaxEntries))
		}
	default:
		errs = append(errs, fmt.Sprintf("invalid cache layer: %s (must be redis, memory, or none)", c.Cache.Layer))
	}

	if c.NeedsRedis() && c.Redis.URL == "" {
		errs = append(errs, "redis url is required for the redis cache layer and the error budget")
	}

	if c.ESI.MaxDepth < 1 {
		errs = append(errs, fmt.Sprintf("invalid esi max_depth: %d (must be >= 1)", c.ESI.MaxDepth))
	}
	if c.Warmup.Concurrency < 0 {
		errs = append(errs, fmt.Sprintf("invalid warmup concurrency: %d", c.Warmup.Concurrency))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
