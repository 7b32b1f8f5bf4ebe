// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/cartosync/internal/middleware"
	"github.com/tomtom215/cartosync/internal/orchestrator"
	"github.com/tomtom215/cartosync/internal/tiles"
)

func TestRouterFallbacks(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOnline)

	tests := []struct {
		method string
		path   string
		want   int
		code   string
	}{
		{http.MethodGet, "/api/v1/nope", http.StatusNotFound, "NOT_FOUND"},
		{http.MethodPut, "/api/v1/health", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{http.MethodGet, "/api/v1/online", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
		{http.MethodPatch, "/api/v1/edits", http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec, env := ts.do(t, tt.method, tt.path, nil, "")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if env.Error == nil || env.Error.Code != tt.code {
				t.Errorf("error = %+v, want %s", env.Error, tt.code)
			}
		})
	}
}

func TestRouterHeaders(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOnline)

	rec, env := ts.do(t, http.MethodGet, "/api/v1/health", nil, "")
	id := rec.Header().Get(middleware.RequestIDHeader)
	if id == "" {
		t.Fatal("missing request id header")
	}
	if env.Metadata.RequestID != id {
		t.Errorf("metadata request id = %q, header = %q", env.Metadata.RequestID, id)
	}
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := rec.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	ts := setupServer(t, orchestrator.StateOnline)
	ts.do(t, http.MethodGet, "/api/v1/health", nil, "")

	rec, _ := ts.do(t, http.MethodGet, "/metrics", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "cartosync_") {
		t.Error("metrics output has no cartosync series")
	}
}

func TestTiles(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\nrest"))
	}))
	defer upstream.Close()

	cache := tiles.NewCache(openStore(t, "tiles", "url"))
	o := orchestrator.New(nil, nil, &stubService{}, nil, orchestrator.Config{})
	ts := &testServer{router: NewRouter(NewHandler(Config{
		Orchestrator: o,
		Tiles:        cache,
		TileLoader:   tiles.NewLoader(cache, upstream.Client(), tiles.LoaderConfig{Rate: 100, Burst: 10}),
	}))}
	target := "/api/v1/tiles?url=" + upstream.URL + "/3/2/1.png"

	for i, want := range []string{"miss", "hit"} {
		rec, _ := ts.do(t, http.MethodGet, target, nil, "")
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d = %d: %s", i, rec.Code, rec.Body.String())
		}
		if got := rec.Header().Get("X-Tile-Cache"); got != want {
			t.Errorf("request %d X-Tile-Cache = %q, want %q", i, got, want)
		}
		if got := rec.Header().Get("Content-Type"); got != "image/png" {
			t.Errorf("Content-Type = %q", got)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("upstream hits = %d, want 1", hits.Load())
	}

	if rec, _ := ts.do(t, http.MethodGet, "/api/v1/tiles?url=ftp://x/1.png", nil, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("non-http url = %d, want 400", rec.Code)
	}

	if rec, _ := ts.do(t, http.MethodDelete, "/api/v1/tiles", nil, ""); rec.Code != http.StatusOK {
		t.Fatalf("clear = %d", rec.Code)
	}
	rec, _ := ts.do(t, http.MethodGet, target, nil, "")
	if rec.Header().Get("X-Tile-Cache") != "miss" || hits.Load() != 2 {
		t.Errorf("tile served from cache after clear")
	}
}

func TestTilesUnavailable(t *testing.T) {
	t.Parallel()
	o := orchestrator.New(nil, nil, &stubService{}, nil, orchestrator.Config{})
	ts := &testServer{router: NewRouter(NewHandler(Config{Orchestrator: o}))}

	rec, env := ts.do(t, http.MethodGet, "/api/v1/tiles?url=https://tiles.test/1.png", nil, "")
	if rec.Code != http.StatusServiceUnavailable || env.Error.Code != "TILES_UNAVAILABLE" {
		t.Errorf("tiles without cache = %d %+v", rec.Code, env.Error)
	}
}

func TestSanitizeLogValue(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"line\nbreak", `line\x0abreak`},
		{"tab\tand\rreturn", `tab\x09and\x0dreturn`},
		{"del\x7f", `del\x7f`},
		{"ünïcode", "ünïcode"},
	}
	for _, tt := range tests {
		if got := sanitizeLogValue(tt.in); got != tt.want {
			t.Errorf("sanitizeLogValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRouterCORS(t *testing.T) {
	t.Parallel()
	ts := setupServerWith(t, orchestrator.StateOnline, func(c *Config) {
		c.AllowedOrigins = []string{"https://map.example.test"}
	})

	tests := []struct {
		name   string
		method string
		origin string
		want   string
	}{
		{"preflight from allowed origin", http.MethodOptions, "https://map.example.test", "https://map.example.test"},
		{"simple request from allowed origin", http.MethodGet, "https://map.example.test", "https://map.example.test"},
		{"preflight from other origin", http.MethodOptions, "https://evil.example.test", ""},
		{"simple request from other origin", http.MethodGet, "https://evil.example.test", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/status", nil)
			req.Header.Set("Origin", tt.origin)
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodGet)
			}
			rec := httptest.NewRecorder()
			ts.router.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}

	// No origins configured: nothing is allowed cross-origin.
	closed := setupServer(t, orchestrator.StateOnline)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://map.example.test")
	rec := httptest.NewRecorder()
	closed.router.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q with no origins configured", got)
	}
}

func TestRouterRateLimitsReplayAndEdits(t *testing.T) {
	t.Parallel()
	ts := setupServerWith(t, orchestrator.StateOffline, func(c *Config) {
		c.RateLimit = RateLimitConfig{Requests: 2, Window: time.Minute}
	})

	for i := 0; i < 2; i++ {
		if rec, _ := ts.do(t, http.MethodPost, "/api/v1/online", nil, ""); rec.Code == http.StatusTooManyRequests {
			t.Fatalf("request %d limited early", i+1)
		}
	}
	rec, env := ts.do(t, http.MethodPost, "/api/v1/online", nil, "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third POST /online = %d, want 429", rec.Code)
	}
	if env.Error == nil || env.Error.Code != "RATE_LIMITED" {
		t.Errorf("error = %+v, want RATE_LIMITED", env.Error)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Edits have their own budget; reads are never limited.
	if rec, _ := ts.do(t, http.MethodPost, "/api/v1/edits", strings.NewReader(`{}`), "application/json"); rec.Code == http.StatusTooManyRequests {
		t.Error("POST /edits shares the replay budget")
	}
	for i := 0; i < 5; i++ {
		if rec, _ := ts.do(t, http.MethodGet, "/api/v1/status", nil, ""); rec.Code != http.StatusOK {
			t.Fatalf("GET /status = %d", rec.Code)
		}
	}
	for i := 0; i < 2; i++ {
		ts.do(t, http.MethodPost, "/api/v1/edits", strings.NewReader(`{}`), "application/json")
	}
	if rec, _ := ts.do(t, http.MethodPost, "/api/v1/edits", strings.NewReader(`{}`), "application/json"); rec.Code != http.StatusTooManyRequests {
		t.Errorf("fourth POST /edits = %d, want 429", rec.Code)
	}
}

func TestRateLimitDisabled(t *testing.T) {
	t.Parallel()
	h := rateLimit(RateLimitConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 100; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
		if rec.Code != http.StatusNoContent {
			t.Fatalf("request %d = %d", i, rec.Code)
		}
	}
}
