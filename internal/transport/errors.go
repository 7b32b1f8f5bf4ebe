// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// TransportError is a failed call to the service. The records it carried
// stay queued.
type TransportError struct {
	Op         string
	Layer      string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s %s: status %d: %v", e.Op, e.Layer, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Layer, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// TimeoutError is a call that exceeded the configured request timeout.
type TimeoutError struct {
	Op      string
	Layer   string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("transport %s %s: timed out after %v", e.Op, e.Layer, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// ErrUnexpectedResponse means the service answered with a body that could
// not be interpreted.
var ErrUnexpectedResponse = errors.New("unexpected response from feature service")

// classify wraps err as a TimeoutError or TransportError. Caller
// cancellation is passed through unchanged.
func classify(parent context.Context, err error, op, layer string, timeout time.Duration) error {
	if err == nil {
		return nil
	}
	if parent.Err() != nil && errors.Is(err, context.Canceled) {
		return err
	}
	var te *TimeoutError
	var tre *TransportError
	if errors.As(err, &te) || errors.As(err, &tre) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &TimeoutError{Op: op, Layer: layer, Timeout: timeout, Err: err}
	}
	return &TransportError{Op: op, Layer: layer, Err: err}
}

// IsRetryable reports whether err is a transport-level failure that a
// later replay may get past.
func IsRetryable(err error) bool {
	var te *TimeoutError
	var tre *TransportError
	if errors.As(err, &te) {
		return true
	}
	if errors.As(err, &tre) {
		return tre.StatusCode == 0 || tre.StatusCode >= 500 || tre.StatusCode == 429
	}
	return false
}
