// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package kvstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storePutsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartosync_store_puts_total",
		Help: "Total number of record writes per store",
	}, []string{"store"})

	storeDeletesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartosync_store_deletes_total",
		Help: "Total number of raw record deletes per store",
	}, []string{"store"})

	// storeVerifiedDeletes counts DeleteVerified outcomes:
	// confirmed, missing (key absent beforehand) or unconfirmed.
	storeVerifiedDeletes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartosync_store_verified_deletes_total",
		Help: "Verified deletes by outcome",
	}, []string{"store", "outcome"})

	storeUpgradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartosync_store_schema_upgrades_total",
		Help: "Destructive schema upgrades performed on open",
	}, []string{"store"})

	storeUnavailableTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cartosync_store_unavailable_total",
		Help: "Failed attempts to open the storage engine",
	}, []string{"store"})

	storeSizeBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cartosync_store_size_bytes",
		Help: "Estimated on-disk size (LSM + value log) per store",
	}, []string{"store"})

	storeGCLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cartosync_store_gc_latency_seconds",
		Help:    "Value log GC duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"store"})
)

func recordPut(store string) {
	storePutsTotal.WithLabelValues(store).Inc()
}

func recordDelete(store string) {
	storeDeletesTotal.WithLabelValues(store).Inc()
}

func recordDeleteOutcome(store, outcome string) {
	storeVerifiedDeletes.WithLabelValues(store, outcome).Inc()
}

func recordUpgrade(store string) {
	storeUpgradesTotal.WithLabelValues(store).Inc()
}

func recordUnavailable(store string) {
	storeUnavailableTotal.WithLabelValues(store).Inc()
}

func updateSize(store string, bytes int64) {
	storeSizeBytes.WithLabelValues(store).Set(float64(bytes))
}

func recordGC(store string, seconds float64) {
	storeGCLatency.WithLabelValues(store).Observe(seconds)
}
