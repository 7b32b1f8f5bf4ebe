// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/cartosync/internal/middleware"
	"github.com/tomtom215/cartosync/internal/websocket"
)

// securityHeaders sets the response headers every admin response carries.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// NewRouter builds the chi router for h.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(securityHeaders)
	r.Use(corsMiddleware(h.cfg.AllowedOrigins))
	r.Use(middleware.PrometheusMetrics)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/status", h.Status)
		r.Post("/offline", h.GoOffline)
		r.With(rateLimit(h.cfg.RateLimit)).Post("/online", h.GoOnline)

		r.Route("/edits", func(r chi.Router) {
			r.Get("/", h.ListEdits)
			r.With(rateLimit(h.cfg.RateLimit)).Post("/", h.ApplyEdit)
			r.Delete("/", h.ResetEdits)
		})

		r.Route("/attachments", func(r chi.Router) {
			r.Get("/", h.ListAttachments)
			r.Post("/", h.AddAttachment)
			r.Delete("/{id}", h.DeleteAttachment)
		})

		r.Get("/layers", h.GetLayers)
		r.Put("/layers", h.PutLayers)

		r.Get("/tiles", h.GetTile)
		r.Delete("/tiles", h.ClearTiles)

		if h.cfg.Hub != nil {
			r.Get("/events", websocket.Handler(h.cfg.Hub, h.cfg.AllowedOrigins))
		}
	})

	return r
}
