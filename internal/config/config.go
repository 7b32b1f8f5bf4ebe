// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package config

import (
	"fmt"
	"time"
)

// Config is the complete server configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Queue     QueueConfig     `koanf:"queue"`
	Transport TransportConfig `koanf:"transport"`
	Sync      SyncConfig      `koanf:"sync"`
	Tiles     TilesConfig     `koanf:"tiles"`
	Events    EventsConfig    `koanf:"events"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// StoreConfig configures the three BadgerDB stores.
type StoreConfig struct {
	Dir        string `koanf:"dir"`
	InMemory   bool   `koanf:"in_memory"`
	SyncWrites bool   `koanf:"sync_writes"`
	// Compression enables Snappy block compression.
	Compression bool `koanf:"compression"`
	// Version is the schema version shared by all stores. Raising it wipes
	// their contents on next open; lowering it is refused.
	Version         int           `koanf:"version"`
	EditsName       string        `koanf:"edits_name"`
	AttachmentsName string        `koanf:"attachments_name"`
	TilesName       string        `koanf:"tiles_name"`
	CloseTimeout    time.Duration `koanf:"close_timeout"`
	GCInterval      time.Duration `koanf:"gc_interval"`
	GCRatio         float64       `koanf:"gc_ratio"`
}

// QueueConfig configures the edit queue.
type QueueConfig struct {
	UniqueIDAttribute string `koanf:"unique_id_attribute"`
}

// TransportConfig configures the feature service client.
type TransportConfig struct {
	PingURL   string        `koanf:"ping_url"`
	Timeout   time.Duration `koanf:"timeout"`
	ProxyPath string        `koanf:"proxy_path"`
	Token     string        `koanf:"token"`
	Breaker   BreakerConfig `koanf:"breaker"`
}

// BreakerConfig configures the circuit breaker around the transport.
type BreakerConfig struct {
	Enabled      bool          `koanf:"enabled"`
	MaxRequests  uint32        `koanf:"max_requests"`
	Interval     time.Duration `koanf:"interval"`
	Timeout      time.Duration `koanf:"timeout"`
	MinRequests  uint32        `koanf:"min_requests"`
	FailureRatio float64       `koanf:"failure_ratio"`
}

// SyncConfig configures replay and connectivity monitoring.
type SyncConfig struct {
	ReplayConcurrency int           `koanf:"replay_concurrency"`
	ProbeInterval     time.Duration `koanf:"probe_interval"`
	ProbeTimeout      time.Duration `koanf:"probe_timeout"`
	AutoReconnect     bool          `koanf:"auto_reconnect"`
	InitialState      string        `koanf:"initial_state"`
}

// TilesConfig configures tile fetches on cache miss.
type TilesConfig struct {
	FetchRate  float64       `koanf:"fetch_rate"`
	FetchBurst int           `koanf:"fetch_burst"`
	Timeout    time.Duration `koanf:"timeout"`
	UserAgent  string        `koanf:"user_agent"`

	// MemoryBytes bounds the in-memory tile layer; 0 disables it.
	MemoryBytes int64         `koanf:"memory_bytes"`
	MemoryTTL   time.Duration `koanf:"memory_ttl"`
}

// EventsConfig configures the in-process event bus and its live stream.
type EventsConfig struct {
	SubscriberBuffer int64    `koanf:"subscriber_buffer"`
	AllowedOrigins   []string `koanf:"allowed_origins"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// RateLimitRequests caps POST /online and POST /edits per client IP
	// within RateLimitWindow. Zero disables the limit.
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig configures zerolog.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}
