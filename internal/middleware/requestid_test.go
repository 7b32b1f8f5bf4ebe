// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/tomtom215/cartosync/internal/logging"
)

func TestRequestID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generates new id", "", false},
		{"keeps upstream id", "proxy-id-12345", true},
		{"replaces oversized id", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var ctxID, correlation string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxID = GetRequestID(r.Context())
				correlation = logging.CorrelationIDFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if tt.keep {
				if got != tt.incoming {
					t.Errorf("header = %q, want %q", got, tt.incoming)
				}
			} else if _, err := uuid.Parse(got); err != nil {
				t.Errorf("header %q is not a UUID: %v", got, err)
			}
			if ctxID != got {
				t.Errorf("context id = %q, header = %q", ctxID, got)
			}
			if correlation != got {
				t.Errorf("correlation id = %q, want %q", correlation, got)
			}
		})
	}
}

func TestGetRequestIDWithoutID(t *testing.T) {
	t.Parallel()
	if id := GetRequestID(context.Background()); id != "" {
		t.Errorf("GetRequestID = %q, want empty", id)
	}
}
