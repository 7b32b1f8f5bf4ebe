// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package kvstore

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable means the storage engine could not be opened at
	// all. Callers degrade by reporting offline editing as unsupported.
	ErrStoreUnavailable = errors.New("kvstore: storage engine unavailable")

	// ErrNotFound is returned by Get and DeleteVerified for absent keys.
	// It is a control-flow signal, not a failure of the store.
	ErrNotFound = errors.New("kvstore: key not found")

	// ErrDeleteUnconfirmed means a key was still present after deletion.
	ErrDeleteUnconfirmed = errors.New("kvstore: key still present after delete")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("kvstore: store is closed")

	// ErrVersionDowngrade is returned when the persisted schema is newer
	// than the one requested.
	ErrVersionDowngrade = errors.New("kvstore: persisted schema version is newer than requested")

	// ErrEmptyKey is returned for zero-length keys.
	ErrEmptyKey = errors.New("kvstore: key must not be empty")

	// ErrMissingKeyPath is returned by PutRecord when the record has no
	// usable value under the schema key path.
	ErrMissingKeyPath = errors.New("kvstore: record has no value at key path")
)

// TransactionError wraps a failure reported by the storage engine.
type TransactionError struct {
	Op  string
	Key string
	Err error
}

func (e *TransactionError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("kvstore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("kvstore %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}

func txnError(op, key string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransactionError
	if errors.As(err, &te) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrClosed) {
		return err
	}
	return &TransactionError{Op: op, Key: key, Err: err}
}
