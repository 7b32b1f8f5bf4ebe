// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tomtom215/cartosync/internal/attachments"
)

// maxUploadMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const maxUploadMemory = 8 << 20

// featureQuery identifies the feature an attachment call targets.
type featureQuery struct {
	Layer    string `validate:"required,layerurl"`
	ObjectID string `validate:"required,max=64"`
}

func parseFeatureQuery(r *http.Request) featureQuery {
	q := r.URL.Query()
	return featureQuery{Layer: q.Get("layer"), ObjectID: q.Get("object_id")}
}

// ListAttachments returns queued attachment metadata, optionally narrowed
// by ?layer= and ?object_id=. Content is never included.
func (h *Handler) ListAttachments(w http.ResponseWriter, r *http.Request) {
	q := h.cfg.Orchestrator.Attachments()
	if q == nil {
		respondSuccess(w, r, http.StatusOK, []attachments.Record{})
		return
	}

	ctx := r.Context()
	fq := parseFeatureQuery(r)
	var (
		records []*attachments.Record
		err     error
	)
	switch {
	case fq.Layer != "" && fq.ObjectID != "":
		records, err = q.ListByFeature(ctx, fq.Layer, fq.ObjectID)
	case fq.Layer != "":
		records, err = q.ListByLayer(ctx, fq.Layer)
	default:
		records, err = q.ListAll(ctx)
	}
	if err != nil {
		respondError(w, r, http.StatusInternalServerError, "STORE_ERROR", "Failed to list queued attachments", err)
		return
	}

	out := make([]attachments.Record, len(records))
	for i, rec := range records {
		out[i] = *rec
		out[i].Content = nil
	}
	respondSuccess(w, r, http.StatusOK, out)
}

// AddAttachment uploads the multipart field "file" to the feature named
// by ?layer= and ?object_id=. Offline, the file is queued.
func (h *Handler) AddAttachment(w http.ResponseWriter, r *http.Request) {
	fq := parseFeatureQuery(r)
	if apiErr := validateRequest(&fq); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, attachments.MaxContentBytes+1<<20)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_UPLOAD", "Expected a multipart form with a file field", nil)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, http.StatusBadRequest, "INVALID_UPLOAD", "Missing file field", nil)
		return
	}
	defer file.Close()

	upload := attachments.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Content:     file,
	}
	if apiErr := validateRequest(&upload); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}

	res, err := h.cfg.Orchestrator.AddAttachment(r.Context(), fq.Layer, fq.ObjectID, upload)
	if err != nil {
		respondOrchestratorError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusCreated, res)
}

// DeleteAttachment deletes attachment {id} of the feature named by
// ?layer= and ?object_id=. Negative ids name queued local attachments.
func (h *Handler) DeleteAttachment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		respondError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "Attachment id must be a non-zero integer", nil)
		return
	}
	fq := parseFeatureQuery(r)
	if apiErr := validateRequest(&fq); apiErr != nil {
		respondValidation(w, r, apiErr)
		return
	}

	results, err := h.cfg.Orchestrator.DeleteAttachments(r.Context(), fq.Layer, fq.ObjectID, []int64{id})
	if err != nil {
		respondOrchestratorError(w, r, err)
		return
	}
	respondSuccess(w, r, http.StatusOK, results)
}
