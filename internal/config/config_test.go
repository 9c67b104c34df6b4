package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) func(string) string {
	return func(key string) string { return m[key] }
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "esi-proxy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", envMap(nil))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Cache.Layer != CacheLayerRedis {
		t.Errorf("Cache.Layer = %q, want redis", cfg.Cache.Layer)
	}
	if cfg.ESI.MaxDepth != 8 {
		t.Errorf("ESI.MaxDepth = %d, want 8", cfg.ESI.MaxDepth)
	}
	if cfg.Origin.URL != "" {
		t.Errorf("Origin.URL = %q, want empty", cfg.Origin.URL)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  shutdown_timeout: 3s
  compress: false
origin:
  url: ${ORIGIN:-http://localhost:3000}
  timeout: 2s
cache:
  layer: memory
  max_entries: 50
esi:
  max_depth: 4
  variables:
    SITE: ${SITE_NAME}
warmup:
  urls:
    - /fragments/header
    - /fragments/footer
`)

	cfg, err := Load(path, envMap(map[string]string{"SITE_NAME": "shop"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 3*time.Second {
		t.Errorf("ShutdownTimeout = %v, want 3s", cfg.Server.ShutdownTimeout)
	}
	if cfg.Server.Compress {
		t.Error("Compress = true, want false")
	}
	if cfg.Origin.URL != "http://localhost:3000" {
		t.Errorf("Origin.URL = %q, want default from interpolation", cfg.Origin.URL)
	}
	if cfg.Origin.Timeout != 2*time.Second {
		t.Errorf("Origin.Timeout = %v, want 2s", cfg.Origin.Timeout)
	}
	if cfg.Origin.UserAgent != "esi-assembler/0.1.0" {
		t.Errorf("Origin.UserAgent = %q, want default kept", cfg.Origin.UserAgent)
	}
	if cfg.Cache.Layer != CacheLayerMemory || cfg.Cache.MaxEntries != 50 {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.ESI.Variables["SITE"] != "shop" {
		t.Errorf("ESI.Variables[SITE] = %q, want shop", cfg.ESI.Variables["SITE"])
	}
	if len(cfg.Warmup.URLs) != 2 {
		t.Errorf("Warmup.URLs = %v", cfg.Warmup.URLs)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\ncache:\n  layer: redis\n")

	cfg, err := Load(path, envMap(map[string]string{
		"PORT":        "7070",
		"ORIGIN_URL":  "http://origin:8000",
		"REDIS_URL":   "redis://cache:6379/2",
		"USER_AGENT":  "edge/2.0",
		"LOG_LEVEL":   "DEBUG",
		"CACHE_LAYER": "None",
	}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Origin.URL != "http://origin:8000" {
		t.Errorf("Origin.URL = %q", cfg.Origin.URL)
	}
	if cfg.Redis.URL != "redis://cache:6379/2" {
		t.Errorf("Redis.URL = %q", cfg.Redis.URL)
	}
	if cfg.Origin.UserAgent != "edge/2.0" {
		t.Errorf("Origin.UserAgent = %q", cfg.Origin.UserAgent)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Cache.Layer != CacheLayerNone {
		t.Errorf("Cache.Layer = %q, want none", cfg.Cache.Layer)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), envMap(nil)); err == nil {
		t.Error("Load() should fail for a missing file")
	}

	path := writeConfig(t, "server: [not, a, map]\n")
	if _, err := Load(path, envMap(nil)); err == nil {
		t.Error("Load() should fail for invalid YAML")
	}

	if _, err := Load("", envMap(map[string]string{"PORT": "http"})); err == nil {
		t.Error("Load() should fail for a non-numeric PORT")
	}
}

func TestInterpolateEnv(t *testing.T) {
	env := envMap(map[string]string{"HOST": "origin", "EMPTY": ""})

	tests := []struct {
		input string
		want  string
	}{
		{"url: http://${HOST}", "url: http://origin"},
		{"url: ${MISSING}", "url: "},
		{"url: ${MISSING:-fallback}", "url: fallback"},
		{"url: ${EMPTY:-fallback}", "url: fallback"},
		{"url: ${HOST:-fallback}", "url: origin"},
		{"plain $HOST", "plain $HOST"},
	}

	for _, tt := range tests {
		if got := string(interpolateEnv([]byte(tt.input), env)); got != tt.want {
			t.Errorf("interpolateEnv(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Origin.URL = "http://origin:8000"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing origin", func(c *Config) { c.Origin.URL = "" }, "origin url is required"},
		{"relative origin", func(c *Config) { c.Origin.URL = "/pages" }, "invalid origin url"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid port: 0"},
		{"no user agent", func(c *Config) { c.Origin.UserAgent = "" }, "user agent is required"},
		{"bad cache layer", func(c *Config) { c.Cache.Layer = "disk" }, "invalid cache layer: disk"},
		{"memory without size", func(c *Config) {
			c.Cache.Layer = CacheLayerMemory
			c.Cache.MaxEntries = 0
		}, "invalid cache max_entries"},
		{"redis required", func(c *Config) { c.Redis.URL = "" }, "redis url is required"},
		{"redis not required", func(c *Config) {
			c.Redis.URL = ""
			c.Cache.Layer = CacheLayerNone
			c.Budget.Enabled = false
		}, ""},
		{"bad depth", func(c *Config) { c.ESI.MaxDepth = 0 }, "invalid esi max_depth"},
		{"bad log level", func(c *Config) { c.Logging.Level = "trace" }, "invalid log level: trace"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = -1
	cfg.Logging.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil")
	}
	for _, want := range []string{"invalid port", "origin url is required", "invalid log level"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}
