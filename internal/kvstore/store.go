// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package kvstore is the durable key/record store underneath the edit,
// attachment and tile queues.
//
// Each Store is one BadgerDB instance holding one logical object store.
// Records are opaque byte slices addressed by string keys. The store keeps
// a small schema record next to the data; opening with a different schema
// version drops everything and starts empty, since the store only ever
// holds transient queued state.
//
// Deletion comes in two flavours. Delete is the raw engine call and, like
// BadgerDB itself, reports success whether or not the key existed.
// DeleteVerified checks for the key, deletes it and checks again, and is
// what every queue uses when it needs to know a record is really gone.
package kvstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cartosync/internal/logging"
)

// Action tells Iterate whether to keep going.
type Action int

const (
	// Continue visits the next record.
	Continue Action = iota
	// Stop ends iteration without error.
	Stop
)

// VisitFunc receives each record in key order. value is a private copy.
type VisitFunc func(key string, value []byte) Action

// metaKey sorts before any printable key and is hidden from Iterate.
const metaKey = "\x00kvstore:schema"

type schemaRecord struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	StoreName string    `json:"store_name"`
	KeyPath   string    `json:"key_path"`
	CreatedAt time.Time `json:"created_at"`
}

// Stats is a point-in-time summary used for metrics.
type Stats struct {
	Puts      int64
	Deletes   int64
	LSMBytes  int64
	VLogBytes int64
}

// Store is a BadgerDB-backed key/record store.
type Store struct {
	db     *badger.DB
	schema Schema
	opts   Options

	puts    atomic.Int64
	deletes atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// Open opens (or creates) the store described by schema.
//
// An engine failure is reported as ErrStoreUnavailable. A persisted schema
// with a lower version, or a different store name or key path, is dropped
// and recreated.
func Open(schema Schema, opts Options) (*Store, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var bopts badger.Options
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		bopts = badger.DefaultOptions(filepath.Join(opts.Dir, schema.Name))
	}
	bopts.SyncWrites = opts.SyncWrites
	if opts.MemTableSize > 0 {
		bopts.MemTableSize = opts.MemTableSize
	}
	if opts.ValueLogFileSize > 0 {
		bopts.ValueLogFileSize = opts.ValueLogFileSize
	}
	if opts.NumCompactors > 0 {
		bopts.NumCompactors = opts.NumCompactors
	}
	if opts.Compression {
		bopts.Compression = options.Snappy
	} else {
		bopts.Compression = options.None
	}
	bopts.Logger = nil

	db, err := badger.Open(bopts)
	if err != nil {
		recordUnavailable(schema.Name)
		return nil, fmt.Errorf("%w: open %s: %v", ErrStoreUnavailable, schema.Name, err)
	}

	s := &Store{db: db, schema: schema, opts: opts}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	logging.Info().
		Str("store", schema.Name).
		Str("object_store", schema.StoreName).
		Int("version", schema.Version).
		Bool("in_memory", opts.InMemory).
		Msg("Store opened")
	return s, nil
}

// OpenInMemory opens a throwaway store. Intended for tests.
func OpenInMemory(schema Schema) (*Store, error) {
	opts := DefaultOptions("")
	opts.InMemory = true
	opts.SyncWrites = false
	return Open(schema, opts)
}

func (s *Store) ensureSchema() error {
	var current schemaRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(metaKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		})
	})

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return s.writeSchema()
	case err != nil:
		return txnError("read schema", s.schema.Name, err)
	}

	if current.Version > s.schema.Version {
		return fmt.Errorf("%w: %s has version %d, requested %d",
			ErrVersionDowngrade, s.schema.Name, current.Version, s.schema.Version)
	}
	if current.Version == s.schema.Version &&
		current.StoreName == s.schema.StoreName &&
		current.KeyPath == s.schema.KeyPath {
		return nil
	}

	logging.Warn().
		Str("store", s.schema.Name).
		Int("from_version", current.Version).
		Int("to_version", s.schema.Version).
		Msg("Store schema changed, dropping queued records")

	if err := s.db.DropAll(); err != nil {
		return txnError("drop for upgrade", s.schema.Name, err)
	}
	recordUpgrade(s.schema.Name)
	return s.writeSchema()
}

func (s *Store) writeSchema() error {
	data, err := json.Marshal(schemaRecord{
		Name:      s.schema.Name,
		Version:   s.schema.Version,
		StoreName: s.schema.StoreName,
		KeyPath:   s.schema.KeyPath,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(metaKey), data)
	})
	return txnError("write schema", s.schema.Name, err)
}

// Schema returns the schema the store was opened with.
func (s *Store) Schema() Schema {
	return s.schema
}

func (s *Store) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Put writes value under key, replacing any existing record.
func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), value)
	})
	if err != nil {
		return txnError("put", key, err)
	}
	s.puts.Add(1)
	recordPut(s.schema.Name)
	return nil
}

// PutRecord marshals record to JSON and stores it under the value found at
// the schema key path. It returns the key used.
func (s *Store) PutRecord(ctx context.Context, record interface{}) (string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	key, err := keyFromRecord(data, s.schema.KeyPath)
	if err != nil {
		return "", err
	}
	return key, s.Put(ctx, key, data)
}

func keyFromRecord(data []byte, keyPath string) (string, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return "", fmt.Errorf("%w: record is not an object", ErrMissingKeyPath)
	}
	raw, ok := fields[keyPath]
	if !ok || len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("%w %q", ErrMissingKeyPath, keyPath)
	}
	if raw[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return "", fmt.Errorf("%w %q: %v", ErrMissingKeyPath, keyPath, err)
		}
		if str == "" {
			return "", fmt.Errorf("%w %q", ErrMissingKeyPath, keyPath)
		}
		return str, nil
	}
	if _, err := strconv.ParseFloat(string(raw), 64); err != nil {
		return "", fmt.Errorf("%w %q: not a string or number", ErrMissingKeyPath, keyPath)
	}
	return string(raw), nil
}

// Get returns a copy of the record stored under key, or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := s.checkOpen(ctx); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, txnError("get", key, err)
	}
	return out, nil
}

// Has reports whether key exists.
func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	if err := s.checkOpen(ctx); err != nil {
		return false, err
	}
	var found bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	return found, txnError("has", key, err)
}

// Delete removes key. Like the engine, it succeeds whether or not the key
// existed; use DeleteVerified when that matters.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return txnError("delete", key, err)
	}
	s.deletes.Add(1)
	recordDelete(s.schema.Name)
	return nil
}

// DeleteVerified deletes key and confirms it is gone.
//
// It returns ErrNotFound if the key did not exist beforehand and
// ErrDeleteUnconfirmed if it is still readable afterwards.
func (s *Store) DeleteVerified(ctx context.Context, key string) error {
	exists, err := s.Has(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		recordDeleteOutcome(s.schema.Name, "missing")
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	if err := s.Delete(ctx, key); err != nil {
		return err
	}

	still, err := s.Has(ctx, key)
	if err != nil {
		return err
	}
	if still {
		recordDeleteOutcome(s.schema.Name, "unconfirmed")
		return fmt.Errorf("%w: %s", ErrDeleteUnconfirmed, key)
	}
	recordDeleteOutcome(s.schema.Name, "confirmed")
	return nil
}

// DeletePrefix removes every record whose key starts with prefix and
// returns how many were removed. An empty prefix is rejected; use Clear.
func (s *Store) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, ErrEmptyKey
	}
	var keys [][]byte
	err := s.iterate(ctx, prefix, false, func(key string, _ []byte) Action {
		keys = append(keys, []byte(key))
		return Continue
	})
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, txnError("delete prefix", prefix, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, txnError("delete prefix", prefix, err)
	}
	s.deletes.Add(int64(len(keys)))
	return len(keys), nil
}

// Clear removes every record. The schema record is rewritten so the store
// stays at its current version.
func (s *Store) Clear(ctx context.Context) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	if err := s.db.DropAll(); err != nil {
		return txnError("clear", "", err)
	}
	logging.Info().Str("store", s.schema.Name).Msg("Store cleared")
	return s.writeSchema()
}

// Iterate calls visit for each record whose key starts with prefix, in
// key order, until visit returns Stop or the records run out. An empty
// prefix visits everything.
func (s *Store) Iterate(ctx context.Context, prefix string, visit VisitFunc) error {
	return s.iterate(ctx, prefix, true, visit)
}

func (s *Store) iterate(ctx context.Context, prefix string, withValues bool, visit VisitFunc) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = withValues
		it := txn.NewIterator(opts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key := string(item.Key())
			if strings.HasPrefix(key, metaKey) {
				continue
			}
			var val []byte
			if withValues {
				v, err := item.ValueCopy(nil)
				if err != nil {
					return err
				}
				val = v
			}
			if visit(key, val) == Stop {
				return nil
			}
		}
		return nil
	})
	return txnError("iterate", prefix, err)
}

// Txn is a read-write transaction handed to Update.
type Txn struct {
	txn *badger.Txn
}

// Get returns a copy of the value under key, or ErrNotFound.
func (t *Txn) Get(key string) ([]byte, error) {
	item, err := t.txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Put sets key to value.
func (t *Txn) Put(key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	return t.txn.Set([]byte(key), value)
}

// Delete removes key.
func (t *Txn) Delete(key string) error {
	return t.txn.Delete([]byte(key))
}

// Update runs fn in a single read-write transaction. Either every write in
// fn commits or none do.
func (s *Store) Update(ctx context.Context, fn func(*Txn) error) error {
	if err := s.checkOpen(ctx); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return fn(&Txn{txn: txn})
	})
	return txnError("update", "", err)
}

// Stats returns operation counters and the engine's size estimate.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()

	st := Stats{Puts: s.puts.Load(), Deletes: s.deletes.Load()}
	if closed {
		return st
	}
	st.LSMBytes, st.VLogBytes = s.db.Size()
	updateSize(s.schema.Name, st.LSMBytes+st.VLogBytes)
	return st
}

// RunGC runs value log garbage collection until nothing is left to rewrite.
func (s *Store) RunGC() error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()
	if s.opts.InMemory {
		return nil
	}

	start := time.Now()
	defer func() { recordGC(s.schema.Name, time.Since(start).Seconds()) }()

	for {
		err := s.db.RunValueLogGC(s.opts.GCRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("run GC: %w", err)
		}
	}
}

// Close closes the store, giving up after Options.CloseTimeout.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	timeout := s.opts.CloseTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.db.Close()
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("close %s: %w", s.schema.Name, err)
		}
		logging.Info().Str("store", s.schema.Name).Msg("Store closed")
		return nil
	case <-time.After(timeout):
		logging.Warn().Str("store", s.schema.Name).Dur("timeout", timeout).Msg("Store close timed out")
		return fmt.Errorf("close %s: timed out after %v", s.schema.Name, timeout)
	}
}
