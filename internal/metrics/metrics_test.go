// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordReplayRecord(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		success   bool
		label     string
	}{
		{"add ok", "add", true, "success"},
		{"update failed", "update", false, "failure"},
		{"delete ok", "delete", true, "success"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := ReplayRecords.WithLabelValues(tt.operation, tt.label)
			before := testutil.ToFloat64(c)
			RecordReplayRecord(tt.operation, tt.success)
			if got := testutil.ToFloat64(c); got != before+1 {
				t.Errorf("counter = %v, want %v", got, before+1)
			}
		})
	}
}

func TestSetConnectivityState(t *testing.T) {
	SetConnectivityState("OFFLINE", "ONLINE", "OFFLINE", "RECONNECTING")

	want := map[string]float64{"ONLINE": 0, "OFFLINE": 1, "RECONNECTING": 0}
	for state, v := range want {
		if got := testutil.ToFloat64(ConnectivityState.WithLabelValues(state)); got != v {
			t.Errorf("%s = %v, want %v", state, got, v)
		}
	}
}

func TestUpdateEditQueue(t *testing.T) {
	UpdateEditQueue(3, 1200)

	if got := testutil.ToFloat64(QueuedEdits); got != 3 {
		t.Errorf("QueuedEdits = %v", got)
	}
	if got := testutil.ToFloat64(QueuedEditBytes); got != 1200 {
		t.Errorf("QueuedEditBytes = %v", got)
	}
}

func TestRecordTileLookup(t *testing.T) {
	hits := testutil.ToFloat64(TileCacheLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(TileCacheLookups.WithLabelValues("miss"))

	RecordTileLookup(true)
	RecordTileLookup(false)
	RecordTileLookup(false)

	if got := testutil.ToFloat64(TileCacheLookups.WithLabelValues("hit")); got != hits+1 {
		t.Errorf("hits = %v, want %v", got, hits+1)
	}
	if got := testutil.ToFloat64(TileCacheLookups.WithLabelValues("miss")); got != misses+2 {
		t.Errorf("misses = %v, want %v", got, misses+2)
	}
}

func TestRecordTransportRequest(t *testing.T) {
	before := testutil.ToFloat64(TransportRequests.WithLabelValues("applyEdits", "timeout"))
	RecordTransportRequest("applyEdits", "timeout", 2*time.Second)
	if got := testutil.ToFloat64(TransportRequests.WithLabelValues("applyEdits", "timeout")); got != before+1 {
		t.Errorf("requests = %v, want %v", got, before+1)
	}
}
