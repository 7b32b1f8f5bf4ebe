// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb/geojson"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	Name string
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval after which closed-state counts reset.
	Interval time.Duration
	// Timeout spent open before probing again.
	Timeout time.Duration
	// MinRequests before the failure ratio is considered.
	MinRequests uint32
	// FailureRatio at or above which the breaker opens.
	FailureRatio float64
}

// DefaultBreakerConfig returns settings suited to a flaky field connection.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:         "feature-service",
		MaxRequests:  3,
		Interval:     time.Minute,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.6,
	}
}

// BreakerClient decorates a Client with a circuit breaker. Only transport
// errors count as failures; per-record rejections inside a successful
// response do not.
type BreakerClient struct {
	next Client
	cb   *gobreaker.CircuitBreaker[interface{}]
	name string
}

// NewBreakerClient wraps next.
func NewBreakerClient(next Client, cfg BreakerConfig) *BreakerClient {
	if cfg.Name == "" {
		cfg.Name = "feature-service"
	}
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(0)

	cb := gobreaker.NewCircuitBreaker[interface{}](gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			if ratio >= cfg.FailureRatio {
				logging.Warn().
					Uint32("failures", counts.TotalFailures).
					Float64("failure_rate", ratio*100).
					Msg("Circuit breaker opening")
				return true
			}
			return false
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", stateToString(from)).
				Str("to", stateToString(to)).
				Msg("Circuit breaker state transition")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(to))
			metrics.CircuitBreakerTransitions.WithLabelValues(name, stateToString(from), stateToString(to)).Inc()
		},
	})

	return &BreakerClient{next: next, cb: cb, name: cfg.Name}
}

// State returns the breaker state as a string.
func (b *BreakerClient) State() string {
	return stateToString(b.cb.State())
}

func (b *BreakerClient) execute(op string, fn func() (interface{}, error)) (interface{}, error) {
	res, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		metrics.TransportRequests.WithLabelValues(op, "rejected").Inc()
		return nil, &TransportError{Op: op, Err: err}
	}
	return res, err
}

func castResult[T any](result interface{}, err error) (T, error) {
	var zero T
	if err != nil {
		return zero, err
	}
	typed, ok := result.(T)
	if !ok {
		return zero, fmt.Errorf("circuit breaker: unexpected result type %T", result)
	}
	return typed, nil
}

// ApplyBulkEdit implements FeatureTransport.
func (b *BreakerClient) ApplyBulkEdit(ctx context.Context, layer string, adds, updates, deletes []*geojson.Feature) (*BulkEditResult, error) {
	return castResult[*BulkEditResult](b.execute("applyEdits", func() (interface{}, error) {
		return b.next.ApplyBulkEdit(ctx, layer, adds, updates, deletes)
	}))
}

// AddAttachment implements AttachmentTransport.
func (b *BreakerClient) AddAttachment(ctx context.Context, layer, objectID string, file Upload) (*AttachmentResult, error) {
	return castResult[*AttachmentResult](b.execute("addAttachment", func() (interface{}, error) {
		return b.next.AddAttachment(ctx, layer, objectID, file)
	}))
}

// UpdateAttachment implements AttachmentTransport.
func (b *BreakerClient) UpdateAttachment(ctx context.Context, layer, objectID string, attachmentID int64, file Upload) (*AttachmentResult, error) {
	return castResult[*AttachmentResult](b.execute("updateAttachment", func() (interface{}, error) {
		return b.next.UpdateAttachment(ctx, layer, objectID, attachmentID, file)
	}))
}

// DeleteAttachments implements AttachmentTransport.
func (b *BreakerClient) DeleteAttachments(ctx context.Context, layer, objectID string, attachmentIDs []int64) ([]AttachmentResult, error) {
	return castResult[[]AttachmentResult](b.execute("deleteAttachments", func() (interface{}, error) {
		return b.next.DeleteAttachments(ctx, layer, objectID, attachmentIDs)
	}))
}

// Ping goes straight to the wrapped client so connectivity checks still
// work while the breaker is open.
func (b *BreakerClient) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func stateToFloat(state gobreaker.State) float64 {
	switch state {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

func stateToString(state gobreaker.State) string {
	switch state {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateHalfOpen:
		return "half-open"
	case gobreaker.StateOpen:
		return "open"
	default:
		return "unknown"
	}
}
