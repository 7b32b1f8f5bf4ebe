// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ConfigError is a single invalid setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if c.Queue.UniqueIDAttribute == "" {
		return &ConfigError{Field: "queue.unique_id_attribute", Message: "must not be empty"}
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	s := c.Store
	if !s.InMemory && s.Dir == "" {
		return &ConfigError{Field: "store.dir", Message: "required unless store.in_memory is set"}
	}
	if s.Version < 1 {
		return &ConfigError{Field: "store.version", Message: "must be >= 1"}
	}
	names := map[string]string{
		"store.edits_name":       s.EditsName,
		"store.attachments_name": s.AttachmentsName,
		"store.tiles_name":       s.TilesName,
	}
	seen := make(map[string]bool, len(names))
	for field, name := range names {
		if name == "" || strings.ContainsAny(name, `/\`) {
			return &ConfigError{Field: field, Message: "must be a plain, non-empty name"}
		}
		if seen[name] {
			return &ConfigError{Field: field, Message: fmt.Sprintf("%q is used by another store", name)}
		}
		seen[name] = true
	}
	if s.GCRatio < 0 || s.GCRatio >= 1 {
		return &ConfigError{Field: "store.gc_ratio", Message: "must be in [0, 1)"}
	}
	return nil
}

func (c *Config) validateTransport() error {
	t := c.Transport
	if t.Timeout <= 0 {
		return &ConfigError{Field: "transport.timeout", Message: "must be positive"}
	}
	if t.PingURL != "" {
		if err := validateHTTPURL(t.PingURL); err != nil {
			return &ConfigError{Field: "transport.ping_url", Message: err.Error()}
		}
	}
	if t.ProxyPath != "" && strings.Contains(t.ProxyPath, "?") {
		return &ConfigError{Field: "transport.proxy_path", Message: "must not contain a query string"}
	}
	if b := t.Breaker; b.Enabled {
		if b.FailureRatio <= 0 || b.FailureRatio > 1 {
			return &ConfigError{Field: "transport.breaker.failure_ratio", Message: "must be in (0, 1]"}
		}
		if b.Timeout <= 0 {
			return &ConfigError{Field: "transport.breaker.timeout", Message: "must be positive"}
		}
	}
	return nil
}

func (c *Config) validateSync() error {
	s := c.Sync
	if s.ReplayConcurrency < 0 {
		return &ConfigError{Field: "sync.replay_concurrency", Message: "must be >= 0"}
	}
	if s.ProbeInterval < 0 {
		return &ConfigError{Field: "sync.probe_interval", Message: "must be >= 0 (0 disables probing)"}
	}
	switch strings.ToUpper(s.InitialState) {
	case "ONLINE", "OFFLINE":
	default:
		return &ConfigError{Field: "sync.initial_state", Message: "must be ONLINE or OFFLINE"}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return &ConfigError{Field: "server.port", Message: "must be between 1 and 65535"}
	}
	if c.Server.RateLimitRequests < 0 {
		return &ConfigError{Field: "server.rate_limit_requests", Message: "must not be negative"}
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return &ConfigError{Field: "server.rate_limit_window", Message: "must be positive when rate limiting is enabled"}
	}
	return nil
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return &ConfigError{Field: "logging.level", Message: "must be one of: trace, debug, info, warn, error"}
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return &ConfigError{Field: "logging.format", Message: "must be one of: json, console"}
	}
	return nil
}

// validateHTTPURL checks for an absolute http or https URL.
func validateHTTPURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got: %s", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
