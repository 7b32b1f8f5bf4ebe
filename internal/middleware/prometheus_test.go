// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/cartosync/internal/metrics"
)

func TestPrometheusMetricsUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/test/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodGet, "/test/items/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test/items/"+id, nil))
		if rec.Code != http.StatusTeapot {
			t.Fatalf("status = %d", rec.Code)
		}
	}

	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("requests recorded = %v, want 3", got)
	}
}

func TestPrometheusMetricsUnmatched(t *testing.T) {
	h := PrometheusMetrics(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	counter := metrics.APIRequestsTotal.WithLabelValues(http.MethodPost, "unmatched", "200")
	before := testutil.ToFloat64(counter)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/nowhere", nil))

	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("requests recorded = %v, want 1", got)
	}
}

func TestMetricsResponseWriter(t *testing.T) {
	t.Parallel()

	t.Run("captures status code", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		w := &metricsResponseWriter{ResponseWriter: rec, statusCode: http.StatusOK}
		w.WriteHeader(http.StatusCreated)
		if w.statusCode != http.StatusCreated || rec.Code != http.StatusCreated {
			t.Errorf("statusCode = %d, recorder = %d", w.statusCode, rec.Code)
		}
	})

	t.Run("hijack unsupported", func(t *testing.T) {
		t.Parallel()
		w := &metricsResponseWriter{ResponseWriter: httptest.NewRecorder()}
		if _, _, err := w.Hijack(); err == nil {
			t.Error("expected error from recorder without Hijacker")
		}
	})

	t.Run("unwrap", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		w := &metricsResponseWriter{ResponseWriter: rec}
		if w.Unwrap() != rec {
			t.Error("Unwrap did not return the wrapped writer")
		}
	})
}
