// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package transport

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/cartosync/internal/metrics"
)

type stubClient struct {
	calls  atomic.Int32
	err    error
	result *BulkEditResult
}

func (s *stubClient) ApplyBulkEdit(context.Context, string, []*geojson.Feature, []*geojson.Feature, []*geojson.Feature) (*BulkEditResult, error) {
	s.calls.Add(1)
	return s.result, s.err
}

func (s *stubClient) AddAttachment(context.Context, string, string, Upload) (*AttachmentResult, error) {
	s.calls.Add(1)
	return &AttachmentResult{Success: s.err == nil}, s.err
}

func (s *stubClient) UpdateAttachment(context.Context, string, string, int64, Upload) (*AttachmentResult, error) {
	s.calls.Add(1)
	return &AttachmentResult{Success: s.err == nil}, s.err
}

func (s *stubClient) DeleteAttachments(_ context.Context, _, _ string, ids []int64) ([]AttachmentResult, error) {
	s.calls.Add(1)
	return make([]AttachmentResult, len(ids)), s.err
}

func (s *stubClient) Ping(context.Context) error { return s.err }

func testBreakerConfig(name string) BreakerConfig {
	return BreakerConfig{
		Name:         name,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Hour,
		MinRequests:  3,
		FailureRatio: 0.5,
	}
}

func TestBreakerOpensOnTransportErrors(t *testing.T) {
	t.Parallel()
	stub := &stubClient{err: &TransportError{Op: "applyEdits", StatusCode: 503, Err: errors.New("down")}}
	b := NewBreakerClient(stub, testBreakerConfig("test-open"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := b.ApplyBulkEdit(ctx, "layer", nil, nil, nil); err == nil {
			t.Fatal("expected error")
		}
	}
	if b.State() != "open" {
		t.Fatalf("state = %s, want open", b.State())
	}

	_, err := b.ApplyBulkEdit(ctx, "layer", nil, nil, nil)
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("err = %v, want ErrOpenState", err)
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Error("open breaker should surface as TransportError")
	}
	if stub.calls.Load() != 3 {
		t.Errorf("wrapped client called %d times, want 3", stub.calls.Load())
	}

	if got := testutil.ToFloat64(metrics.CircuitBreakerState.WithLabelValues("test-open")); got != 2 {
		t.Errorf("breaker state gauge = %v, want 2", got)
	}
	if got := testutil.ToFloat64(metrics.CircuitBreakerTransitions.WithLabelValues("test-open", "closed", "open")); got != 1 {
		t.Errorf("transitions = %v, want 1", got)
	}

	if err := b.Ping(ctx); err == nil || errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("Ping should bypass the breaker, got %v", err)
	}
}

func TestBreakerIgnoresRecordRejections(t *testing.T) {
	t.Parallel()
	stub := &stubClient{result: &BulkEditResult{AddResults: []EditResult{{Success: false, Error: "invalid"}}}}
	b := NewBreakerClient(stub, testBreakerConfig("test-rejections"))

	for i := 0; i < 10; i++ {
		res, err := b.ApplyBulkEdit(context.Background(), "layer", nil, nil, nil)
		if err != nil {
			t.Fatal(err)
		}
		if res.AddResults[0].Success {
			t.Fatal("result altered")
		}
	}
	if b.State() != "closed" {
		t.Errorf("state = %s, want closed", b.State())
	}
}

func TestBreakerPassesAttachmentCalls(t *testing.T) {
	t.Parallel()
	stub := &stubClient{}
	b := NewBreakerClient(stub, testBreakerConfig("test-attachments"))
	ctx := context.Background()

	if r, err := b.AddAttachment(ctx, "l", "1", Upload{}); err != nil || !r.Success {
		t.Errorf("AddAttachment = %+v, %v", r, err)
	}
	if r, err := b.UpdateAttachment(ctx, "l", "1", 2, Upload{}); err != nil || !r.Success {
		t.Errorf("UpdateAttachment = %+v, %v", r, err)
	}
	if r, err := b.DeleteAttachments(ctx, "l", "1", []int64{1, 2}); err != nil || len(r) != 2 {
		t.Errorf("DeleteAttachments = %+v, %v", r, err)
	}
}

func TestStateHelpers(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state gobreaker.State
		str   string
		val   float64
	}{
		{gobreaker.StateClosed, "closed", 0},
		{gobreaker.StateHalfOpen, "half-open", 1},
		{gobreaker.StateOpen, "open", 2},
		{gobreaker.State(99), "unknown", -1},
	}
	for _, tt := range tests {
		if got := stateToString(tt.state); got != tt.str {
			t.Errorf("stateToString(%d) = %s", tt.state, got)
		}
		if got := stateToFloat(tt.state); got != tt.val {
			t.Errorf("stateToFloat(%d) = %v", tt.state, got)
		}
	}
}
