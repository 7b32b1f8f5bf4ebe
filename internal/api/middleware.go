// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
)

// RateLimitConfig bounds how often one client IP may start a replay or
// submit edits. Requests <= 0 disables limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// corsMiddleware lets browser map clients on the allowed origins call the
// API. With no origins configured no CORS headers are sent at all, so
// browsers refuse every cross-origin call. cors.Options treats an empty
// list as "allow all", which must not happen here.
func corsMiddleware(allowed []string) func(http.Handler) http.Handler {
	if len(allowed) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   allowed,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "X-Tile-Cache", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
}

// rateLimit returns a per-IP limiter that answers with the API's error
// envelope. Each call gets its own counters.
func rateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Requests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	retryAfter := strconv.Itoa(int(cfg.Window.Round(time.Second).Seconds()))

	return httprate.Limit(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			if w.Header().Get("Retry-After") == "" {
				w.Header().Set("Retry-After", retryAfter)
			}
			respondError(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests, slow down", nil)
		}),
	)
}
