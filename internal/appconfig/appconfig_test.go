// internal/appconfig/appconfig_test.go
package appconfig

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, payload string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadDefaults verifies that a missing config file yields the documented
// defaults and a valid configuration.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper(), filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load() with missing file failed: %v", err)
	}
	if cfg.ConfigPath != "" {
		t.Fatalf("expected no config path for missing file, got %q", cfg.ConfigPath)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
	if cfg.Transport != TransportStdio {
		t.Fatalf("expected stdio transport, got %q", cfg.Transport)
	}
	if cfg.HandlerTimeoutDuration() != 20*time.Second {
		t.Fatalf("expected 20s handler timeout, got %v", cfg.HandlerTimeoutDuration())
	}
	if cfg.HTTP.Host != "127.0.0.1" || cfg.HTTP.Port != 8000 {
		t.Fatalf("unexpected http address %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	}
	if cfg.HTTP.MaxBodyBytes != 1<<20 {
		t.Fatalf("expected 1 MiB body limit, got %d", cfg.HTTP.MaxBodyBytes)
	}
	if len(cfg.HTTP.AllowedOrigins) != 1 || cfg.HTTP.AllowedOrigins[0] != "*" {
		t.Fatalf("unexpected allowed origins %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Stdio.MaxMessageBytes != 4<<20 {
		t.Fatalf("expected 4 MiB message limit, got %d", cfg.Stdio.MaxMessageBytes)
	}
	if cfg.Weather.Provider != WeatherMock {
		t.Fatalf("expected mock weather, got %q", cfg.Weather.Provider)
	}
	if cfg.Fetch.TimeoutDuration() != 10*time.Second || cfg.Fetch.CacheTTLDuration() != 5*time.Minute {
		t.Fatalf("unexpected fetch timings %v / %v", cfg.Fetch.TimeoutDuration(), cfg.Fetch.CacheTTLDuration())
	}
	if got := strings.Join(cfg.Docs.Extensions, ","); got != ".md,.mdx" {
		t.Fatalf("unexpected doc extensions %q", got)
	}
	if cfg.Context7.RequestsPerMinute != 50 || cfg.Context7.Enabled() {
		t.Fatalf("unexpected context7 defaults %+v", cfg.Context7)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `{
  "logLevel": "warn",
  "transport": "http",
  "handlerTimeout": 5,
  "http": { "port": 9100, "allowedOrigins": ["https://app.example.com"] },
  "weather": { "provider": "openmeteo" },
  "docs": { "corpusPath": "./docs", "exclude": ["changelog.md"] }
}`)
	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.ConfigPath != path {
		t.Fatalf("expected config path %q, got %q", path, cfg.ConfigPath)
	}
	if cfg.LogLevel != "warn" || cfg.Transport != TransportHTTP || cfg.HandlerTimeout != 5 {
		t.Fatalf("top-level keys not applied: %+v", cfg)
	}
	if cfg.HTTP.Port != 9100 || cfg.HTTP.Host != "127.0.0.1" {
		t.Fatalf("nested keys should merge with defaults, got %s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	}
	if cfg.HTTP.AllowedOrigins[0] != "https://app.example.com" {
		t.Fatalf("unexpected origins %v", cfg.HTTP.AllowedOrigins)
	}
	if cfg.Weather.Provider != WeatherOpenMeteo || cfg.Docs.CorpusPath != "./docs" || len(cfg.Docs.Exclude) != 1 {
		t.Fatalf("unexpected nested config %+v %+v", cfg.Weather, cfg.Docs)
	}
}

func TestLoadInvalidJSON(t *testing.T) {
	path := writeConfig(t, `{ "http": [`)
	if _, err := Load(NewViper(), path); err == nil {
		t.Fatal("Load() with invalid JSON should have failed")
	}
}

func TestLoadDefaultPath(t *testing.T) {
	tempDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tempDir, "config"), 0o755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tempDir, "config", "config.json"), []byte(`{"debug": true}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	// Equivalent of t.Chdir (Go 1.24+) for the local go1.21 toolchain.
	oldWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(oldWd) })

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ConfigPath != DefaultConfigPath || !cfg.Debug {
		t.Fatalf("expected default path with debug, got %q debug=%v", cfg.ConfigPath, cfg.Debug)
	}
	if cfg.EffectiveLogLevel() != "debug" {
		t.Fatalf("debug should force debug level, got %q", cfg.EffectiveLogLevel())
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MCPDISPATCH_HTTP_PORT", "9300")
	t.Setenv("MCPDISPATCH_TRANSPORT", "http")
	t.Setenv("MCPDISPATCH_HTTP_AUTHTOKEN", "s3cret-token")
	t.Setenv("CONTEXT7_API_KEY", "ctx7-key")

	path := writeConfig(t, `{"http": {"port": 9100}}`)
	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTP.Port != 9300 {
		t.Fatalf("env should override file port, got %d", cfg.HTTP.Port)
	}
	if cfg.Transport != TransportHTTP || cfg.HTTP.AuthToken != "s3cret-token" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if !cfg.Context7.Enabled() || cfg.Context7.APIKey != "ctx7-key" {
		t.Fatalf("expected context7 key from %s, got %+v", Context7KeyEnv, cfg.Context7)
	}
}

func TestValidate(t *testing.T) {
	base, err := Load(NewViper(), filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cases := map[string]func(*Config){
		"log level":      func(c *Config) { c.LogLevel = "loud" },
		"transport":      func(c *Config) { c.Transport = "carrier-pigeon" },
		"timeout":        func(c *Config) { c.HandlerTimeout = 0 },
		"port low":       func(c *Config) { c.HTTP.Port = 0 },
		"port high":      func(c *Config) { c.HTTP.Port = 70000 },
		"body":           func(c *Config) { c.HTTP.MaxBodyBytes = 0 },
		"origins":        func(c *Config) { c.HTTP.AllowedOrigins = nil },
		"message size":   func(c *Config) { c.Stdio.MaxMessageBytes = -1 },
		"weather":        func(c *Config) { c.Weather.Provider = "almanac" },
		"fetch timeout":  func(c *Config) { c.Fetch.Timeout = 0 },
		"fetch retries":  func(c *Config) { c.Fetch.Retries = -1 },
		"build timeout":  func(c *Config) { c.Docs.BuildTimeout = 0 },
		"context7 rate":  func(c *Config) { c.Context7.RequestsPerMinute = 0 },
		"context7 retry": func(c *Config) { c.Context7.Retries = -2 },
	}
	for name, mutate := range cases {
		cfg := base
		cfg.HTTP.AllowedOrigins = append([]string(nil), base.HTTP.AllowedOrigins...)
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestShowConfigRedactsSecrets(t *testing.T) {
	cfg, err := Load(NewViper(), filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.HTTP.AuthToken = "supersecret"
	cfg.Context7.APIKey = "ctx7-abcdef"

	var buf bytes.Buffer
	ShowConfig(&buf, cfg)
	out := buf.String()
	if strings.Contains(out, "supersecret") || strings.Contains(out, "ctx7-abcdef") {
		t.Fatalf("secrets leaked:\n%s", out)
	}
	for _, want := range []string{"No config file loaded", "****cret", "****cdef", "Transport:        stdio", "enabled ("} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}
