// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/events"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
	"github.com/tomtom215/cartosync/internal/transport"
)

// EditReplay is the outcome of replaying one queued edit.
type EditReplay struct {
	ID        string          `json:"id"`
	Layer     string          `json:"layer"`
	Operation edits.Operation `json:"operation"`
	// TempID is the local id of a replayed ADD.
	TempID        string                 `json:"temp_id,omitempty"`
	AddResults    []transport.EditResult `json:"add_results"`
	UpdateResults []transport.EditResult `json:"update_results"`
	DeleteResults []transport.EditResult `json:"delete_results"`
	// Error is set when the call failed or the local cleanup did.
	Error string `json:"error,omitempty"`
	// Retryable tells whether a later GoOnline may get past Error.
	Retryable bool `json:"retryable,omitempty"`
	// Removed is true once the record has left the queue.
	Removed bool `json:"removed"`
}

// Confirmed reports whether the service accepted the edit.
func (r *EditReplay) Confirmed() bool {
	var set []transport.EditResult
	switch r.Operation {
	case edits.OpAdd:
		set = r.AddResults
	case edits.OpUpdate:
		set = r.UpdateResults
	case edits.OpDelete:
		set = r.DeleteResults
	}
	return len(set) > 0 && set[0].Success
}

// ServerID returns the id the service assigned to a replayed ADD.
func (r *EditReplay) ServerID() int64 {
	if r.Operation == edits.OpAdd && len(r.AddResults) > 0 {
		return r.AddResults[0].ObjectID
	}
	return 0
}

// ObjectID returns the entity id the edit was queued under: the temporary
// id for an ADD, the record's own id otherwise.
func (r *EditReplay) ObjectID() string {
	if r.TempID != "" {
		return r.TempID
	}
	return (&edits.Record{ID: r.ID, Layer: r.Layer}).ObjectID()
}

// SyncResult is the answer to GoOnline.
type SyncResult struct {
	Success       bool              `json:"success"`
	CorrelationID string            `json:"correlation_id"`
	Edits         []EditReplay      `json:"edits"`
	Attachments   *AttachmentReplay `json:"attachments,omitempty"`
	Duration      time.Duration     `json:"duration"`
}

// Pending returns the edits that are still queued.
func (r *SyncResult) Pending() []EditReplay {
	var out []EditReplay
	for _, e := range r.Edits {
		if !e.Removed {
			out = append(out, e)
		}
	}
	return out
}

// GoOnline replays the edit queue, then the attachment queue, and ends in
// ONLINE. Records the service did not confirm stay queued; calling
// GoOnline again is the retry. The returned error covers local failures
// only, such as an unreadable queue.
func (o *Orchestrator) GoOnline(ctx context.Context) (*SyncResult, error) {
	if !o.replaying.TryLock() {
		return nil, ErrReplayInProgress
	}
	defer o.replaying.Unlock()

	ctx = logging.ContextWithNewCorrelationID(ctx)
	start := time.Now()
	o.setState(ctx, StateReconnecting)
	defer o.finishReconnect(ctx)

	result := &SyncResult{CorrelationID: logging.CorrelationIDFromContext(ctx)}

	editsOK, err := o.replayEdits(ctx, result)
	if err != nil {
		metrics.RecordReplayPass("error", time.Since(start))
		return nil, err
	}

	attachmentsOK := true
	if o.attachments != nil {
		ar, err := o.sendStoredAttachments(ctx)
		if err != nil {
			metrics.RecordReplayPass("error", time.Since(start))
			return nil, err
		}
		result.Attachments = ar
		attachmentsOK = !ar.Errors
	}

	result.Success = editsOK && attachmentsOK
	result.Duration = time.Since(start)
	o.refreshUsage(ctx)

	outcome := "success"
	if !result.Success {
		outcome = "partial"
	}
	metrics.RecordReplayPass(outcome, result.Duration)
	logging.Ctx(ctx).Info().
		Int("edits", len(result.Edits)).
		Int("pending", len(result.Pending())).
		Bool("success", result.Success).
		Dur("took", result.Duration).
		Msg("Replay pass finished")
	return result, nil
}

// replayEdits sends every queued edit, one call per record, and prunes the
// confirmed ones.
func (o *Orchestrator) replayEdits(ctx context.Context, result *SyncResult) (bool, error) {
	if o.edits == nil {
		return true, nil
	}
	records, err := o.edits.ListAll(ctx)
	if err != nil {
		return false, fmt.Errorf("list queued edits: %w", err)
	}
	if len(records) == 0 {
		logging.Ctx(ctx).Debug().Msg("No queued edits to replay")
		return true, nil
	}

	logging.Ctx(ctx).Info().Int("edits", len(records)).Msg("Replaying queued edits")
	settled := Settle(ctx, len(records), o.cfg.ReplayConcurrency, func(ctx context.Context, i int) (*transport.BulkEditResult, error) {
		return o.replayOne(ctx, records[i])
	})

	replays := make([]EditReplay, len(records))
	for i, rec := range records {
		r := EditReplay{ID: rec.ID, Layer: rec.Layer, Operation: rec.Operation}
		if rec.Operation == edits.OpAdd {
			r.TempID = rec.ObjectID()
		}
		if s := settled[i]; s.Err != nil {
			r.Error = s.Err.Error()
			r.Retryable = transport.IsRetryable(s.Err)
		} else if s.Value != nil {
			r.AddResults = s.Value.AddResults
			r.UpdateResults = s.Value.UpdateResults
			r.DeleteResults = s.Value.DeleteResults
		}
		metrics.RecordReplayRecord(string(rec.Operation), r.Error == "" && r.Confirmed())
		replays[i] = r
	}

	allOK := o.cleanup(ctx, records, replays)
	result.Edits = replays

	// Edits queued while this pass was in flight keep their markers.
	if allOK && o.queueEmpty(ctx) {
		if _, err := o.edits.Phantoms().ResetAll(ctx); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to clear phantom markers")
		}
	} else {
		outcomes := make([]edits.Outcome, len(replays))
		for i := range replays {
			outcomes[i] = edits.Outcome{
				Layer:     replays[i].Layer,
				ObjectID:  replays[i].ObjectID(),
				Operation: replays[i].Operation,
				Success:   replays[i].Removed,
			}
		}
		if _, err := o.edits.Phantoms().ResetConfirmedSubset(ctx, outcomes); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to clear confirmed phantom markers")
		}
	}

	if allOK {
		o.emit(ctx, events.AllEditsSent, replays)
		return true, nil
	}
	o.emit(ctx, events.EditsSentError, replays)
	return false, nil
}

func (o *Orchestrator) queueEmpty(ctx context.Context) bool {
	u, err := o.edits.Usage(ctx)
	return err == nil && u.EditCount == 0
}

func (o *Orchestrator) replayOne(ctx context.Context, rec *edits.Record) (*transport.BulkEditResult, error) {
	f, err := o.edits.Codec().Decode(rec)
	if err != nil {
		return nil, err
	}

	var adds, updates, deletes []*geojson.Feature
	switch rec.Operation {
	case edits.OpAdd:
		if o.view != nil {
			o.view.RemoveLocal(ctx, rec.Layer, rec.ObjectID())
		}
		adds = []*geojson.Feature{f}
	case edits.OpUpdate:
		updates = []*geojson.Feature{f}
	case edits.OpDelete:
		deletes = []*geojson.Feature{f}
	default:
		return nil, fmt.Errorf("edits: unknown operation %q on %s", rec.Operation, rec.ID)
	}

	res, err := o.client.ApplyBulkEdit(ctx, rec.Layer, adds, updates, deletes)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("edit_id", rec.ID).Msg("Replay call failed, edit stays queued")
		return nil, err
	}
	return res, nil
}

// cleanup removes confirmed records from the queue and reports whether
// every record was removed. A record that changed while its replay was in
// flight is left for the next pass, except a confirmed ADD: the service
// already holds that feature, so the newer state is re-queued under the
// server id (see edits.Queue.Promote) and never sent as an ADD again.
func (o *Orchestrator) cleanup(ctx context.Context, records []*edits.Record, replays []EditReplay) bool {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	allOK := true
	for i, rec := range records {
		r := &replays[i]
		if r.Error != "" || !r.Confirmed() {
			allOK = false
			continue
		}

		promotable := rec.Operation == edits.OpAdd && r.ServerID() > 0
		current, err := o.edits.LookupByID(ctx, rec.ID)
		switch {
		case errors.Is(err, edits.ErrNotFound):
			// Deleted locally mid-flight; the service still has the feature.
			if promotable {
				if _, err := o.edits.Promote(ctx, rec, nil, r.ServerID()); err != nil {
					r.Error = "cleanup: " + err.Error()
					allOK = false
					continue
				}
			}
			r.Removed = true
		case err != nil:
			r.Error = "cleanup: " + err.Error()
			allOK = false
			continue
		case current.Operation != rec.Operation || !bytes.Equal(current.Payload, rec.Payload):
			if !promotable {
				logging.Ctx(ctx).Info().Str("edit_id", rec.ID).Msg("Edit changed during replay, keeping newer version")
				allOK = false
				continue
			}
			if _, err := o.edits.Promote(ctx, rec, current, r.ServerID()); err != nil {
				r.Error = "cleanup: " + err.Error()
				allOK = false
				continue
			}
			r.Removed = true
		default:
			if err := o.edits.DeleteByID(ctx, rec.ID); err != nil && !errors.Is(err, edits.ErrNotFound) {
				r.Error = "cleanup: " + err.Error()
				allOK = false
				continue
			}
			r.Removed = true
		}

		if rec.Operation == edits.OpAdd && o.attachments != nil {
			if sid := r.ServerID(); sid != 0 {
				newID := strconv.FormatInt(sid, 10)
				if _, err := o.attachments.ReplaceFeatureID(ctx, rec.Layer, r.TempID, newID); err != nil {
					logging.Ctx(ctx).Error().Err(err).Str("edit_id", rec.ID).Msg("Failed to move attachments to server id")
				}
			}
		}
	}
	return allOK
}
