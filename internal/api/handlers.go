// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/tomtom215/cartosync/internal/attachments"
	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/orchestrator"
	"github.com/tomtom215/cartosync/internal/tiles"
	"github.com/tomtom215/cartosync/internal/transport"
	"github.com/tomtom215/cartosync/internal/websocket"
)

// BreakerState reports the circuit breaker in front of the transport.
type BreakerState interface {
	State() string
}

// Config holds the components the handlers read and drive. Only
// Orchestrator is required.
type Config struct {
	Orchestrator   *orchestrator.Orchestrator
	Monitor        *orchestrator.Monitor
	Tiles          *tiles.Cache
	TileLoader     *tiles.Loader
	Hub            *websocket.Hub
	Breaker        BreakerState
	AllowedOrigins []string
	RateLimit      RateLimitConfig
	Version        string
}

// Handler serves the admin API.
type Handler struct {
	cfg       Config
	startTime time.Time
}

// NewHandler returns a Handler over cfg.
func NewHandler(cfg Config) *Handler {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	return &Handler{cfg: cfg, startTime: time.Now()}
}

// HealthStatus is the body of GET /api/v1/health.
type HealthStatus struct {
	Status           string  `json:"status"`
	Version          string  `json:"version"`
	State            string  `json:"state"`
	OfflineSupported bool    `json:"offline_supported"`
	Uptime           float64 `json:"uptime_seconds"`
}

// Health reports liveness. The server is degraded when offline editing
// is unavailable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	o := h.cfg.Orchestrator
	status := "healthy"
	if !o.OfflineSupported() {
		status = "degraded"
	}
	respondSuccess(w, r, http.StatusOK, HealthStatus{
		Status:           status,
		Version:          h.cfg.Version,
		State:            string(o.State()),
		OfflineSupported: o.OfflineSupported(),
		Uptime:           time.Since(h.startTime).Seconds(),
	})
}

// Status is the body of GET /api/v1/status.
type Status struct {
	State            string                      `json:"state"`
	OfflineSupported bool                        `json:"offline_supported"`
	Edits            *edits.Usage                `json:"edits,omitempty"`
	Attachments      *attachments.Usage          `json:"attachments,omitempty"`
	Tiles            *tiles.Usage                `json:"tiles,omitempty"`
	Monitor          *orchestrator.MonitorStatus `json:"monitor,omitempty"`
	Breaker          string                      `json:"breaker,omitempty"`
	WebSocketClients int                         `json:"websocket_clients"`
}

// Status reports connectivity state and storage usage. A store that
// fails to report is left out rather than failing the request.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o := h.cfg.Orchestrator
	st := Status{State: string(o.State()), OfflineSupported: o.OfflineSupported()}

	if q := o.Edits(); q != nil {
		if u, err := q.Usage(ctx); err == nil {
			st.Edits = &u
		}
	}
	if q := o.Attachments(); q != nil {
		if u, err := q.Usage(ctx); err == nil {
			st.Attachments = &u
		}
	}
	if h.cfg.Tiles != nil {
		if u, err := h.cfg.Tiles.Usage(ctx); err == nil {
			st.Tiles = &u
		}
	}
	if h.cfg.Monitor != nil {
		ms := h.cfg.Monitor.Status()
		st.Monitor = &ms
	}
	if h.cfg.Breaker != nil {
		st.Breaker = h.cfg.Breaker.State()
	}
	if h.cfg.Hub != nil {
		st.WebSocketClients = h.cfg.Hub.ClientCount()
	}
	respondSuccess(w, r, http.StatusOK, st)
}

type stateResponse struct {
	State string `json:"state"`
}

// GoOffline switches the orchestrator to OFFLINE.
func (h *Handler) GoOffline(w http.ResponseWriter, r *http.Request) {
	h.cfg.Orchestrator.GoOffline(r.Context())
	respondSuccess(w, r, http.StatusOK, stateResponse{State: string(h.cfg.Orchestrator.State())})
}

// GoOnline replays the queues and returns the replay result. Records the
// service did not confirm stay queued and are listed as pending.
func (h *Handler) GoOnline(w http.ResponseWriter, r *http.Request) {
	result, err := h.cfg.Orchestrator.GoOnline(r.Context())
	switch {
	case errors.Is(err, orchestrator.ErrReplayInProgress):
		respondError(w, r, http.StatusConflict, "REPLAY_IN_PROGRESS", "A replay is already running", nil)
		return
	case err != nil:
		respondError(w, r, http.StatusInternalServerError, "REPLAY_FAILED", "Failed to replay queued edits", err)
		return
	}
	respondSuccess(w, r, http.StatusOK, result)
}

// respondOrchestratorError maps orchestrator and transport failures to
// HTTP statuses.
func respondOrchestratorError(w http.ResponseWriter, r *http.Request, err error) {
	var timeout *transport.TimeoutError
	var terr *transport.TransportError
	switch {
	case errors.Is(err, orchestrator.ErrOfflineUnsupported), errors.Is(err, orchestrator.ErrAttachmentsUnavailable):
		respondError(w, r, http.StatusServiceUnavailable, "OFFLINE_UNSUPPORTED", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrReplayInProgress):
		respondError(w, r, http.StatusConflict, "REPLAY_IN_PROGRESS", "A replay is already running", nil)
	case errors.As(err, &timeout):
		respondError(w, r, http.StatusGatewayTimeout, "TRANSPORT_TIMEOUT", "Feature service timed out", err)
	case errors.As(err, &terr):
		respondError(w, r, http.StatusBadGateway, "TRANSPORT_ERROR", "Feature service request failed", err)
	case errors.Is(err, attachments.ErrTooLarge):
		respondError(w, r, http.StatusRequestEntityTooLarge, "TOO_LARGE", err.Error(), nil)
	default:
		respondError(w, r, http.StatusInternalServerError, "INTERNAL_ERROR", "Request failed", err)
	}
}
