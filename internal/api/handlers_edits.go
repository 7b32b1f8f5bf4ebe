// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/kvstore"
)

// EditView is a queued edit as listed by GET /api/v1/edits.
type EditView struct {
	*edits.Record
	ObjectID string `json:"object_id"`
}

// ListEdits returns every queued edit record.
func (h *Handler) ListEdits(w http.ResponseWriter, r *http.Request) {
	q := h.cfg.Orchestrator.Edits()
	if q == nil {
		respondSuccess(w, r, http.StatusOK, []EditView{})
		return
	}
	records, err := q.ListAll(r.Context())
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to list queued edits", err)
		return
	}
	out := make([]EditView, len(records))
	for i, rec := range records {
		out[i] = EditView{Record: rec, ObjectID: rec.ObjectID()}
	}
	respondSuccess(w, r, http.StatusOK, out)
}

// ApplyEditRequest is the body of POST /api/v1/edits.
type ApplyEditRequest struct {
	Layer   string             `json:"layer" validate:"required,layerurl"`
	Adds    []*geojson.Feature `json:"adds" validate:"omitempty,dive,required"`
	Updates []*geojson.Feature `json:"updates" validate:"omitempty,dive,required"`
	Deletes []*geojson.Feature `json:"deletes" validate:"omitempty,dive,required"`
}

// ApplyEdit applies a batch to a layer through the orchestrator, which
// sends it or queues it depending on connectivity.
func (h *Handler) ApplyEdit(w http.ResponseWriter, r *http.Request) {
	var req ApplyEditRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}
	if len(req.Adds)+len(req.Updates)+len(req.Deletes) == 0 {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "At least one feature is required", nil)
		return
	}

	res, err := h.cfg.Orchestrator.ApplyEdit(r.Context(), req.Layer, req.Adds, req.Updates, req.Deletes)
	if err != nil {
		respondOrchestratorError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.Queued {
		status = http.StatusAccepted
	}
	respondSuccess(w, r, status, res)
}

// ResetRequest is the body of DELETE /api/v1/edits.
type ResetRequest struct {
	Confirm bool `json:"confirm" validate:"eq=true"`
}

// ResetEdits drops every queued edit, phantom marker, layer definition
// and attachment.
func (h *Handler) ResetEdits(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}
	if err := h.cfg.Orchestrator.Reset(r.Context()); err != nil {
		respondOrchestratorError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, map[string]bool{"reset": true})
}

// GetLayers returns the stored layer definitions.
func (h *Handler) GetLayers(w http.ResponseWriter, r *http.Request) {
	q := h.cfg.Orchestrator.Edits()
	if q == nil {
		respondError(w, r, http.StatusServiceUnavailable, "OFFLINE_UNSUPPORTED", "Offline storage is unavailable", nil)
		return
	}
	md, err := q.LayerMetadata(r.Context())
	if errors.Is(err, kvstore.ErrNotFound) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "No layer definitions stored", nil)
		return
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to read layer definitions", err)
		return
	}
	respondSuccess(w, r, http.StatusOK, md)
}

// LayersRequest is the body of PUT /api/v1/layers.
type LayersRequest struct {
	Layers []json.RawMessage `json:"layers" validate:"required,min=1"`
}

// PutLayers replaces the stored layer definitions.
func (h *Handler) PutLayers(w http.ResponseWriter, r *http.Request) {
	q := h.cfg.Orchestrator.Edits()
	if q == nil {
		respondError(w, r, http.StatusServiceUnavailable, "OFFLINE_UNSUPPORTED", "Offline storage is unavailable", nil)
		return
	}
	var req LayersRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_JSON", err.Error(), nil)
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}
	if err := q.StoreLayerMetadata(r.Context(), req.Layers); err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to store layer definitions", err)
		return
	}
	respondSuccess(w, r, http.StatusOK, map[string]int{"layers": len(req.Layers)})
}
