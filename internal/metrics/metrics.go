// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package metrics holds the Prometheus instrumentation shared by the queue,
// sync, transport, tile and API layers. Store-level metrics live with the
// store in internal/kvstore.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Edit queue

	EditsEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_edits_enqueued_total",
			Help: "Offline edits written to the queue by effective operation",
		},
		[]string{"operation"},
	)

	EditsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_edits_rejected_total",
			Help: "Offline edits that were not queued, by reason",
		},
		[]string{"reason"}, // "absorbed", "missing_key", "error"
	)

	QueuedEdits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartosync_queued_edits",
			Help: "Edits currently waiting for replay",
		},
	)

	QueuedEditBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartosync_queued_edit_bytes",
			Help: "Serialized size of edits waiting for replay",
		},
	)

	QueuedAttachments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartosync_queued_attachments",
			Help: "Attachments waiting for upload",
		},
	)

	QueuedAttachmentBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartosync_queued_attachment_bytes",
			Help: "Size of attachments waiting for upload",
		},
	)

	// Replay

	ReplayPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_replay_passes_total",
			Help: "Replay passes by outcome",
		},
		[]string{"outcome"}, // "complete", "partial", "empty", "error"
	)

	ReplayRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_replay_records_total",
			Help: "Replayed edit records by operation and result",
		},
		[]string{"operation", "result"},
	)

	ReplayDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cartosync_replay_duration_seconds",
			Help:    "Duration of a full replay pass including attachments",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	AttachmentUploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_attachment_uploads_total",
			Help: "Replayed attachment operations by type and result",
		},
		[]string{"type", "result"},
	)

	ConnectivityState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartosync_connectivity_state",
			Help: "1 for the current connectivity state, 0 otherwise",
		},
		[]string{"state"},
	)

	// Transport

	TransportRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_transport_requests_total",
			Help: "Requests sent to the feature service",
		},
		[]string{"operation", "result"}, // result: "ok", "error", "timeout", "rejected"
	)

	TransportLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartosync_transport_latency_seconds",
			Help:    "Feature service request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cartosync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Tiles

	TileCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_tile_cache_lookups_total",
			Help: "Tile cache lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	TileFetches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_tile_fetches_total",
			Help: "Tiles fetched from the network on cache miss",
		},
		[]string{"result"},
	)

	TileCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartosync_tile_cache_bytes",
			Help: "Bytes held in the tile cache (url + image)",
		},
	)

	// API

	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cartosync_api_requests_total",
			Help: "Admin API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cartosync_api_request_duration_seconds",
			Help:    "Admin API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	EventSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cartosync_event_stream_subscribers",
			Help: "Open websocket event stream connections",
		},
	)
)

// RecordEnqueue records the effective operation of a queued edit.
func RecordEnqueue(operation string) {
	EditsEnqueued.WithLabelValues(operation).Inc()
}

// RecordRejected records an edit that was not queued.
func RecordRejected(reason string) {
	EditsRejected.WithLabelValues(reason).Inc()
}

// UpdateEditQueue sets the queue depth gauges.
func UpdateEditQueue(count int, bytes int64) {
	QueuedEdits.Set(float64(count))
	QueuedEditBytes.Set(float64(bytes))
}

// UpdateAttachmentQueue sets the attachment queue gauges.
func UpdateAttachmentQueue(count int, bytes int64) {
	QueuedAttachments.Set(float64(count))
	QueuedAttachmentBytes.Set(float64(bytes))
}

// RecordReplayPass records one finished replay pass.
func RecordReplayPass(outcome string, duration time.Duration) {
	ReplayPasses.WithLabelValues(outcome).Inc()
	ReplayDuration.Observe(duration.Seconds())
}

// RecordReplayRecord records the result of one replayed edit.
func RecordReplayRecord(operation string, success bool) {
	ReplayRecords.WithLabelValues(operation, resultLabel(success)).Inc()
}

// RecordAttachmentUpload records the result of one replayed attachment.
func RecordAttachmentUpload(kind string, success bool) {
	AttachmentUploads.WithLabelValues(kind, resultLabel(success)).Inc()
}

// SetConnectivityState marks state as current among states.
func SetConnectivityState(state string, states ...string) {
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1
		}
		ConnectivityState.WithLabelValues(s).Set(v)
	}
}

// RecordTransportRequest records one feature service call.
func RecordTransportRequest(operation, result string, duration time.Duration) {
	TransportRequests.WithLabelValues(operation, result).Inc()
	TransportLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTileLookup records a tile cache hit or miss.
func RecordTileLookup(hit bool) {
	if hit {
		TileCacheLookups.WithLabelValues("hit").Inc()
		return
	}
	TileCacheLookups.WithLabelValues("miss").Inc()
}

// RecordTileFetch records a network tile fetch.
func RecordTileFetch(success bool) {
	TileFetches.WithLabelValues(resultLabel(success)).Inc()
}

// RecordAPIRequest records an admin API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
