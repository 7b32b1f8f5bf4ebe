// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/cartosync/config.yaml",
	"/etc/cartosync/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

func defaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Dir:             "/data/cartosync",
			SyncWrites:      true,
			Compression:     true,
			Version:         2, // 2: attachment records keyed by layer and id
			EditsName:       "edits",
			AttachmentsName: "attachments",
			TilesName:       "tiles",
			CloseTimeout:    30 * time.Second,
			GCInterval:      10 * time.Minute,
			GCRatio:         0.5,
		},
		Queue: QueueConfig{
			UniqueIDAttribute: "OBJECTID",
		},
		Transport: TransportConfig{
			Timeout: 30 * time.Second,
			Breaker: BreakerConfig{
				Enabled:      true,
				MaxRequests:  3,
				Interval:     time.Minute,
				Timeout:      30 * time.Second,
				MinRequests:  5,
				FailureRatio: 0.6,
			},
		},
		Sync: SyncConfig{
			ReplayConcurrency: 8,
			ProbeInterval:     30 * time.Second,
			ProbeTimeout:      10 * time.Second,
			AutoReconnect:     true,
			InitialState:      "ONLINE",
		},
		Tiles: TilesConfig{
			FetchRate:   10,
			FetchBurst:  4,
			Timeout:     15 * time.Second,
			UserAgent:   "cartosync",
			MemoryBytes: 32 << 20,
			MemoryTTL:   10 * time.Minute,
		},
		Events: EventsConfig{
			SubscriberBuffer: 64,
			AllowedOrigins:   []string{},
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8787,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute, // replay responses can take a while
			ShutdownTimeout: 10 * time.Second,

			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are keys whose env values are comma-separated lists.
var sliceConfigPaths = []string{
	"events.allowed_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps short environment names to config keys.
var envMappings = map[string]string{
	"store_dir":         "store.dir",
	"store_in_memory":   "store.in_memory",
	"store_sync_writes": "store.sync_writes",
	"store_compression": "store.compression",
	"store_version":     "store.version",
	"store_gc_interval": "store.gc_interval",
	"store_gc_ratio":    "store.gc_ratio",

	"unique_id_attribute": "queue.unique_id_attribute",

	"transport_ping_url":   "transport.ping_url",
	"transport_timeout":    "transport.timeout",
	"transport_proxy_path": "transport.proxy_path",
	"transport_token":      "transport.token",
	"breaker_enabled":      "transport.breaker.enabled",
	"breaker_timeout":      "transport.breaker.timeout",
	"breaker_ratio":        "transport.breaker.failure_ratio",

	"sync_replay_concurrency": "sync.replay_concurrency",
	"sync_probe_interval":     "sync.probe_interval",
	"sync_probe_timeout":      "sync.probe_timeout",
	"sync_auto_reconnect":     "sync.auto_reconnect",
	"sync_initial_state":      "sync.initial_state",

	"tiles_fetch_rate":   "tiles.fetch_rate",
	"tiles_fetch_burst":  "tiles.fetch_burst",
	"tiles_timeout":      "tiles.timeout",
	"tiles_user_agent":   "tiles.user_agent",
	"tiles_memory_bytes": "tiles.memory_bytes",
	"tiles_memory_ttl":   "tiles.memory_ttl",

	"events_buffer":      "events.subscriber_buffer",
	"ws_allowed_origins": "events.allowed_origins",

	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"http_rate_limit":       "server.rate_limit_requests",
	"http_rate_window":      "server.rate_limit_window",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// knownSections are the top-level keys accepted through the generic
// SECTION_KEY form.
var knownSections = []string{"store", "queue", "transport", "sync", "tiles", "events", "server", "logging"}

// envTransformFunc maps an environment variable to a config key. Unknown
// variables map to "" and are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)
	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	for _, section := range knownSections {
		if rest, ok := strings.CutPrefix(key, section+"_"); ok && rest != "" {
			return section + "." + rest
		}
	}
	return ""
}
