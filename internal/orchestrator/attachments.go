// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/tomtom215/cartosync/internal/attachments"
	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/events"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
	"github.com/tomtom215/cartosync/internal/transport"
)

// ErrAttachmentsUnavailable is returned when no attachment queue is wired.
var ErrAttachmentsUnavailable = errors.New("orchestrator: attachment queue unavailable")

// AttachmentOutcome is the outcome of replaying one queued attachment.
type AttachmentOutcome struct {
	ID        int64           `json:"id"`
	FeatureID string          `json:"feature_id"`
	Type      edits.Operation `json:"type"`
	Success   bool            `json:"success"`
	// ServerID is the id assigned by the service to an added attachment.
	ServerID int64 `json:"server_id,omitempty"`
	// Deferred is set when the owning feature has no server id yet.
	Deferred bool   `json:"deferred,omitempty"`
	Error    string `json:"error,omitempty"`
}

// AttachmentReplay summarises an attachment replay pass.
type AttachmentReplay struct {
	Errors  bool                `json:"errors"`
	Results []AttachmentOutcome `json:"results"`
}

// attachmentEnqueued is the ATTACHMENT_ENQUEUED payload.
type attachmentEnqueued struct {
	Layer        string          `json:"layer"`
	ObjectID     string          `json:"object_id"`
	AttachmentID int64           `json:"attachment_id"`
	Type         edits.Operation `json:"type"`
	LocalURL     string          `json:"local_url,omitempty"`
}

func (o *Orchestrator) emitAttachmentEnqueued(ctx context.Context, rec *attachments.Record) {
	o.emit(ctx, events.AttachmentEnqueued, attachmentEnqueued{
		Layer:        rec.Layer,
		ObjectID:     rec.ObjectID,
		AttachmentID: rec.ID,
		Type:         rec.Type,
		LocalURL:     rec.LocalURL,
	})
}

func readUpload(file attachments.File) (transport.Upload, error) {
	if file.Content == nil {
		return transport.Upload{}, errors.New("attachments: file content is required")
	}
	content, err := io.ReadAll(io.LimitReader(file.Content, attachments.MaxContentBytes+1))
	if err != nil {
		return transport.Upload{}, err
	}
	if len(content) > attachments.MaxContentBytes {
		return transport.Upload{}, attachments.ErrTooLarge
	}
	return transport.Upload{Name: file.Name, ContentType: file.ContentType, Content: content}, nil
}

// AddAttachment attaches file to feature objectID of layer. Offline, the
// file is queued under a new negative id, which the result carries.
func (o *Orchestrator) AddAttachment(ctx context.Context, layer, objectID string, file attachments.File) (*transport.AttachmentResult, error) {
	if o.State() == StateOnline {
		up, err := readUpload(file)
		if err != nil {
			return nil, err
		}
		return o.client.AddAttachment(ctx, layer, objectID, up)
	}
	if o.attachments == nil {
		return nil, ErrAttachmentsUnavailable
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	id, err := o.attachments.NextTempID(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := o.attachments.Store(ctx, layer, id, objectID, file, edits.OpAdd)
	if err != nil {
		return nil, err
	}
	o.emitAttachmentEnqueued(ctx, rec)
	return &transport.AttachmentResult{Success: true, AttachmentID: id}, nil
}

// UpdateAttachment replaces the content of attachmentID. Offline, a local
// attachment keeps its pending ADD with the new content; a server-known
// one gets an UPDATE queued.
func (o *Orchestrator) UpdateAttachment(ctx context.Context, layer, objectID string, attachmentID int64, file attachments.File) (*transport.AttachmentResult, error) {
	if o.State() == StateOnline {
		up, err := readUpload(file)
		if err != nil {
			return nil, err
		}
		return o.client.UpdateAttachment(ctx, layer, objectID, attachmentID, up)
	}
	if o.attachments == nil {
		return nil, ErrAttachmentsUnavailable
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	typ := edits.OpUpdate
	var staleURL string
	if attachmentID < 0 {
		prev, err := o.attachments.Retrieve(ctx, layer, attachmentID)
		if err != nil {
			return nil, fmt.Errorf("update local attachment %d: %w", attachmentID, err)
		}
		typ = edits.OpAdd
		staleURL = prev.LocalURL
	}
	rec, err := o.attachments.Store(ctx, layer, attachmentID, objectID, file, typ)
	if err != nil {
		return nil, err
	}
	if staleURL != "" && staleURL != rec.LocalURL {
		o.attachments.URLs().Revoke(staleURL)
	}
	o.emitAttachmentEnqueued(ctx, rec)
	return &transport.AttachmentResult{Success: true, AttachmentID: attachmentID}, nil
}

// DeleteAttachments removes attachments of a feature. Offline, local
// attachments are dropped from the queue outright and server-known ones
// get a DELETE queued. Results line up with attachmentIDs.
func (o *Orchestrator) DeleteAttachments(ctx context.Context, layer, objectID string, attachmentIDs []int64) ([]transport.AttachmentResult, error) {
	if o.State() == StateOnline {
		return o.client.DeleteAttachments(ctx, layer, objectID, attachmentIDs)
	}
	if o.attachments == nil {
		return nil, ErrAttachmentsUnavailable
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	results := make([]transport.AttachmentResult, len(attachmentIDs))
	for i, id := range attachmentIDs {
		results[i] = transport.AttachmentResult{AttachmentID: id}
		if id < 0 {
			if err := o.attachments.DeleteOne(ctx, layer, id); err != nil {
				results[i].Error = err.Error()
				continue
			}
			results[i].Success = true
			continue
		}
		rec, err := o.attachments.Store(ctx, layer, id, objectID, attachments.File{}, edits.OpDelete)
		if err != nil {
			results[i].Error = err.Error()
			continue
		}
		results[i].Success = true
		o.emitAttachmentEnqueued(ctx, rec)
	}
	return results, nil
}

// sendStoredAttachments replays every queued attachment and deletes the
// confirmed ones. Attachments of features that still carry a temporary id
// are left for a later pass.
func (o *Orchestrator) sendStoredAttachments(ctx context.Context) (*AttachmentReplay, error) {
	records, err := o.attachments.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list queued attachments: %w", err)
	}
	out := &AttachmentReplay{Results: make([]AttachmentOutcome, len(records))}
	if len(records) == 0 {
		return out, nil
	}

	logging.Ctx(ctx).Info().Int("attachments", len(records)).Msg("Replaying queued attachments")
	settled := Settle(ctx, len(records), o.cfg.ReplayConcurrency, func(ctx context.Context, i int) (AttachmentOutcome, error) {
		return o.sendAttachment(ctx, records[i])
	})

	for i, rec := range records {
		res := settled[i].Value
		res.ID, res.FeatureID, res.Type = rec.ID, rec.FeatureID, rec.Type
		if err := settled[i].Err; err != nil {
			res.Success = false
			res.Error = err.Error()
		}
		if res.Success {
			if err := o.attachments.DeleteOne(ctx, rec.Layer, rec.ID); err != nil && !errors.Is(err, attachments.ErrNotFound) {
				res.Success = false
				res.Error = "cleanup: " + err.Error()
			}
		}
		if !res.Deferred {
			metrics.RecordAttachmentUpload(string(rec.Type), res.Success)
		}
		if !res.Success {
			out.Errors = true
		}
		out.Results[i] = res
	}

	o.emit(ctx, events.AttachmentsSent, out)
	return out, nil
}

func (o *Orchestrator) sendAttachment(ctx context.Context, rec *attachments.Record) (AttachmentOutcome, error) {
	if isTempID(rec.ObjectID) {
		return AttachmentOutcome{Deferred: true, Error: "feature has no server id yet"}, nil
	}
	upload := transport.Upload{Name: rec.Name, ContentType: rec.ContentType, Content: rec.Content}

	switch rec.Type {
	case edits.OpAdd:
		r, err := o.client.AddAttachment(ctx, rec.Layer, rec.ObjectID, upload)
		if err != nil {
			return AttachmentOutcome{}, err
		}
		return AttachmentOutcome{Success: r.Success, ServerID: r.AttachmentID, Error: r.Error}, nil
	case edits.OpUpdate:
		r, err := o.client.UpdateAttachment(ctx, rec.Layer, rec.ObjectID, rec.ID, upload)
		if err != nil {
			return AttachmentOutcome{}, err
		}
		return AttachmentOutcome{Success: r.Success, Error: r.Error}, nil
	case edits.OpDelete:
		rs, err := o.client.DeleteAttachments(ctx, rec.Layer, rec.ObjectID, []int64{rec.ID})
		if err != nil {
			return AttachmentOutcome{}, err
		}
		if len(rs) == 0 {
			return AttachmentOutcome{Error: "empty delete result"}, nil
		}
		return AttachmentOutcome{Success: rs[0].Success, Error: rs[0].Error}, nil
	default:
		return AttachmentOutcome{}, fmt.Errorf("attachments: unknown type %q", rec.Type)
	}
}
