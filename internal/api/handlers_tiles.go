// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/validation"
)

// GetTile serves ?url= from the tile cache, fetching it on a miss. The
// X-Tile-Cache header tells which path served it.
func (h *Handler) GetTile(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TileLoader == nil {
		respondError(w, r, http.StatusServiceUnavailable, "TILES_UNAVAILABLE", "Tile cache is unavailable", nil)
		return
	}
	u := r.URL.Query().Get("url")
	if !validTileURL(u) {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "url must be an absolute http(s) URL", nil)
		return
	}

	img, fromCache, err := h.cfg.TileLoader.GetOrFetch(r.Context(), u)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		logging.Ctx(r.Context()).Warn().Err(err).Str("url", sanitizeLogValue(u)).Msg("Tile fetch failed")
		respondError(w, r, http.StatusBadGateway, "TILE_FETCH_FAILED", "Tile is not cached and could not be fetched", nil)
		return
	}

	source := "miss"
	if fromCache {
		source = "hit"
	}
	w.Header().Set("Content-Type", http.DetectContentType(img))
	w.Header().Set("X-Tile-Cache", source)
	w.Header().Set("Cache-Control", "private, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img); err != nil {
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Failed to write tile")
	}
}

// ClearTiles drops every cached tile.
func (h *Handler) ClearTiles(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Tiles == nil {
		respondError(w, r, http.StatusServiceUnavailable, "TILES_UNAVAILABLE", "Tile cache is unavailable", nil)
		return
	}
	if err := h.cfg.Tiles.Clear(r.Context()); err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to clear tile cache", err)
		return
	}
	respondSuccess(w, r, http.StatusOK, map[string]bool{"cleared": true})
}

// validTileURL reports whether raw is an absolute http(s) URL.
func validTileURL(raw string) bool {
	return validation.Validator().Var(raw, "required,http_url") == nil
}
