// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// isolate points config discovery at an empty directory so a config.yaml in
// the working tree cannot leak into the test.
func isolate(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv(ConfigPathEnvVar, "")
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Queue.UniqueIDAttribute != "OBJECTID" {
		t.Errorf("UniqueIDAttribute = %q, want OBJECTID", cfg.Queue.UniqueIDAttribute)
	}
	if cfg.Store.Version != 2 {
		t.Errorf("Store.Version = %d, want 2", cfg.Store.Version)
	}
	if cfg.Server.Addr() != "127.0.0.1:8787" {
		t.Errorf("Addr = %s", cfg.Server.Addr())
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Transport.Timeout != 30*time.Second {
		t.Errorf("Transport.Timeout = %v, want 30s", cfg.Transport.Timeout)
	}
	if !cfg.Sync.AutoReconnect {
		t.Error("Sync.AutoReconnect should default to true")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("STORE_DIR", "/tmp/queue")
	t.Setenv("UNIQUE_ID_ATTRIBUTE", "FID")
	t.Setenv("TRANSPORT_TIMEOUT", "5s")
	t.Setenv("TRANSPORT_PROXY_PATH", "https://proxy.example.test/proxy")
	t.Setenv("SYNC_REPLAY_CONCURRENCY", "2")
	t.Setenv("STORE_EDITS_NAME", "my-edits")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Dir != "/tmp/queue" {
		t.Errorf("Store.Dir = %q", cfg.Store.Dir)
	}
	if cfg.Queue.UniqueIDAttribute != "FID" {
		t.Errorf("UniqueIDAttribute = %q", cfg.Queue.UniqueIDAttribute)
	}
	if cfg.Transport.Timeout != 5*time.Second {
		t.Errorf("Transport.Timeout = %v", cfg.Transport.Timeout)
	}
	if cfg.Transport.ProxyPath != "https://proxy.example.test/proxy" {
		t.Errorf("ProxyPath = %q", cfg.Transport.ProxyPath)
	}
	if cfg.Sync.ReplayConcurrency != 2 {
		t.Errorf("ReplayConcurrency = %d", cfg.Sync.ReplayConcurrency)
	}
	if cfg.Store.EditsName != "my-edits" {
		t.Errorf("EditsName = %q", cfg.Store.EditsName)
	}
	if len(cfg.Events.AllowedOrigins) != 2 || cfg.Events.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("AllowedOrigins = %v", cfg.Events.AllowedOrigins)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q", cfg.Logging.Level)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "cartosync.yaml")
	yaml := `
store:
  in_memory: true
  dir: ""
sync:
  probe_interval: 1m
  initial_state: OFFLINE
server:
  port: 9000
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("HTTP_PORT", "9100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Store.InMemory {
		t.Error("Store.InMemory not loaded from file")
	}
	if cfg.Sync.ProbeInterval != time.Minute || cfg.Sync.InitialState != "OFFLINE" {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	// Environment wins over the file.
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing dir", func(c *Config) { c.Store.Dir = "" }, "store.dir"},
		{"in memory needs no dir", func(c *Config) { c.Store.Dir = ""; c.Store.InMemory = true }, ""},
		{"zero version", func(c *Config) { c.Store.Version = 0 }, "store.version"},
		{"duplicate store names", func(c *Config) { c.Store.TilesName = "edits" }, ""},
		{"store name with slash", func(c *Config) { c.Store.EditsName = "a/b" }, "store.edits_name"},
		{"gc ratio", func(c *Config) { c.Store.GCRatio = 1 }, "store.gc_ratio"},
		{"empty unique id", func(c *Config) { c.Queue.UniqueIDAttribute = "" }, "queue.unique_id_attribute"},
		{"zero timeout", func(c *Config) { c.Transport.Timeout = 0 }, "transport.timeout"},
		{"bad ping url", func(c *Config) { c.Transport.PingURL = "ftp://x" }, "transport.ping_url"},
		{"proxy with query", func(c *Config) { c.Transport.ProxyPath = "/proxy?x=1" }, "transport.proxy_path"},
		{"breaker ratio", func(c *Config) { c.Transport.Breaker.FailureRatio = 0 }, "transport.breaker.failure_ratio"},
		{"breaker disabled skips ratio", func(c *Config) {
			c.Transport.Breaker.Enabled = false
			c.Transport.Breaker.FailureRatio = 0
		}, ""},
		{"negative concurrency", func(c *Config) { c.Sync.ReplayConcurrency = -1 }, "sync.replay_concurrency"},
		{"bad initial state", func(c *Config) { c.Sync.InitialState = "RECONNECTING" }, "sync.initial_state"},
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"rate limit", func(c *Config) { c.Server.RateLimitRequests = -1 }, "server.rate_limit_requests"},
		{"rate window", func(c *Config) { c.Server.RateLimitWindow = 0 }, "server.rate_limit_window"},
		{"log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()

			if tt.name == "duplicate store names" {
				if err == nil {
					t.Fatal("expected error for duplicate names")
				}
				return
			}
			if tt.field == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("err = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"LOG_LEVEL":              "logging.level",
		"HTTP_PORT":              "server.port",
		"HTTP_RATE_LIMIT":        "server.rate_limit_requests",
		"BREAKER_TIMEOUT":        "transport.breaker.timeout",
		"STORE_TILES_NAME":       "store.tiles_name",
		"TILES_USER_AGENT":       "tiles.user_agent",
		"HOME":                   "",
		"PATH":                   "",
		"SYNC_":                  "",
		"UNIQUE_ID_ATTRIBUTE":    "queue.unique_id_attribute",
		"SYNC_AUTO_RECONNECT":    "sync.auto_reconnect",
		"TRANSPORT_PROXY_PATH":   "transport.proxy_path",
		"EVENTS_BUFFER":          "events.subscriber_buffer",
		"EVENTS_ALLOWED_ORIGINS": "events.allowed_origins",
	}
	for in, want := range tests {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
