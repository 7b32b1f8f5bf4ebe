// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package kvstore

import (
	"fmt"
	"time"
)

// Schema identifies one logical store and the key layout it was written with.
//
// Name is the database name (and the directory under Options.Dir),
// StoreName the object store inside it, and KeyPath the record field that
// holds the primary key. Version is compared on every Open; a mismatch
// drops the store and recreates it empty.
type Schema struct {
	Name      string
	Version   int
	StoreName string
	KeyPath   string
}

// Validate checks the schema for obvious mistakes.
func (s Schema) Validate() error {
	if s.Name == "" {
		return &ConfigError{Field: "Name", Message: "must not be empty"}
	}
	if s.StoreName == "" {
		return &ConfigError{Field: "StoreName", Message: "must not be empty"}
	}
	if s.KeyPath == "" {
		return &ConfigError{Field: "KeyPath", Message: "must not be empty"}
	}
	if s.Version < 1 {
		return &ConfigError{Field: "Version", Message: "must be at least 1"}
	}
	return nil
}

// Options tunes the underlying BadgerDB instance.
type Options struct {
	// Dir is the parent directory; each schema gets Dir/<Name>.
	Dir string

	// InMemory keeps everything in RAM. Used by tests and by hosts that
	// only need the queue to survive a reconnect, not a restart.
	InMemory bool

	// SyncWrites fsyncs after every commit.
	SyncWrites bool

	// Compression enables Snappy block compression.
	Compression bool

	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int

	// CloseTimeout bounds how long Close waits for BadgerDB.
	CloseTimeout time.Duration

	// GCRatio is the discard ratio passed to RunValueLogGC.
	GCRatio float64
}

// DefaultOptions returns durable settings sized for a handheld client.
func DefaultOptions(dir string) Options {
	return Options{
		Dir:              dir,
		SyncWrites:       true,
		Compression:      true,
		MemTableSize:     8 << 20,
		ValueLogFileSize: 64 << 20,
		NumCompactors:    2,
		CloseTimeout:     30 * time.Second,
		GCRatio:          0.5,
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	if !o.InMemory && o.Dir == "" {
		return &ConfigError{Field: "Dir", Message: "required unless InMemory is set"}
	}
	if o.NumCompactors != 0 && o.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "BadgerDB requires at least 2"}
	}
	if o.GCRatio < 0 || o.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be in [0, 1)"}
	}
	return nil
}

// ConfigError describes an invalid schema or option.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("kvstore config: %s %s", e.Field, e.Message)
}
