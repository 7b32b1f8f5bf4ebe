// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package edits implements the durable queue of offline feature edits and
// the phantom markers drawn for them.
//
// Every mutation attempted while offline goes through Validate before it
// is written. Validate collapses repeated edits to one entity into a single
// record using last-write-wins, with two twists: an UPDATE to an entity
// that was created offline stays an ADD, and a DELETE of such an entity
// removes it from the queue altogether (the server never saw it).
package edits

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/tomtom215/cartosync/internal/kvstore"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
)

// ErrNotFound is returned by LookupByID and DeleteByID for unknown ids.
var ErrNotFound = kvstore.ErrNotFound

// AttachmentPurger removes the queued attachments of a feature. The
// attachment queue satisfies it; Validate uses it when an offline ADD is
// deleted before it was ever sent.
type AttachmentPurger interface {
	DeleteAllByFeature(ctx context.Context, layer, objectID string) (int, error)
}

// Validation is the outcome of Validate.
type Validation struct {
	// Accept is false when nothing should be queued.
	Accept bool
	// Operation is the operation to enqueue, which may differ from the
	// requested one.
	Operation Operation
	Feature   *geojson.Feature
}

// Usage summarises the queued edits.
type Usage struct {
	SizeBytes int64 `json:"size_bytes"`
	EditCount int   `json:"edit_count"`
}

// LayerMetadata is the bookkeeping record holding the layer definitions a
// client needs to redraw its layers while offline.
type LayerMetadata struct {
	ID        string            `json:"id"`
	Layers    []json.RawMessage `json:"layers"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Queue owns the edits store.
type Queue struct {
	store    *kvstore.Store
	codec    Codec
	phantoms *PhantomTracker
	purger   AttachmentPurger
}

// NewQueue returns a Queue over store. The store's key path must be "id".
func NewQueue(store *kvstore.Store, codec Codec) *Queue {
	return &Queue{
		store:    store,
		codec:    codec,
		phantoms: &PhantomTracker{store: store},
	}
}

// SetAttachmentPurger wires the cascade used when an offline ADD is deleted.
func (q *Queue) SetAttachmentPurger(p AttachmentPurger) {
	q.purger = p
}

// Codec returns the codec used to build record ids.
func (q *Queue) Codec() Codec {
	return q.codec
}

// Phantoms returns the tracker for markers stored alongside the edits.
func (q *Queue) Phantoms() *PhantomTracker {
	return q.phantoms
}

// Enqueue writes the record for op on f, replacing any earlier record for
// the same entity.
func (q *Queue) Enqueue(ctx context.Context, op Operation, layer string, f *geojson.Feature) (*Record, error) {
	rec, err := q.codec.Encode(op, layer, f)
	if err != nil {
		return nil, err
	}
	if _, err := q.store.PutRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", rec.ID, err)
	}
	metrics.RecordEnqueue(string(rec.Operation))
	logging.Ctx(ctx).Debug().
		Str("edit_id", rec.ID).
		Str("operation", string(rec.Operation)).
		Msg("Edit enqueued")
	return rec, nil
}

// Validate reconciles a requested mutation with whatever is already queued
// for the same entity. It must run before Enqueue.
func (q *Queue) Validate(ctx context.Context, f *geojson.Feature, layer string, op Operation) (Validation, error) {
	oid, err := q.codec.ObjectID(layer, f)
	if err != nil {
		metrics.RecordRejected("missing_key")
		return Validation{}, err
	}
	id := RecordID(layer, oid)

	existing, err := q.LookupByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Validation{Accept: true, Operation: op, Feature: f}, nil
	}
	if err != nil {
		metrics.RecordRejected("error")
		return Validation{}, fmt.Errorf("validate %s: %w", id, err)
	}

	if existing.Operation != OpAdd {
		return Validation{Accept: true, Operation: op, Feature: f}, nil
	}

	switch op {
	case OpUpdate, OpAdd:
		return Validation{Accept: true, Operation: OpAdd, Feature: f}, nil
	case OpDelete:
		if err := q.cancelAdd(ctx, layer, oid, id); err != nil {
			return Validation{}, err
		}
		metrics.RecordRejected("absorbed")
		return Validation{Accept: false, Operation: OpDelete, Feature: f}, nil
	default:
		return Validation{}, fmt.Errorf("edits: unknown operation %q", op)
	}
}

// cancelAdd removes every trace of an entity that was created offline and
// then deleted before replay.
func (q *Queue) cancelAdd(ctx context.Context, layer, oid, id string) error {
	if err := q.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("cancel add %s: %w", id, err)
	}
	if err := q.phantoms.DeleteOne(ctx, PhantomKey(oid)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("cancel add %s: phantom: %w", id, err)
	}
	if q.purger != nil {
		n, err := q.purger.DeleteAllByFeature(ctx, layer, oid)
		if err != nil {
			return fmt.Errorf("cancel add %s: attachments: %w", id, err)
		}
		if n > 0 {
			logging.Ctx(ctx).Debug().Str("edit_id", id).Int("attachments", n).Msg("Dropped attachments of cancelled add")
		}
	}
	logging.Ctx(ctx).Info().Str("edit_id", id).Msg("Offline add cancelled by delete")
	return nil
}

// LookupByID returns the queued record for id, or ErrNotFound.
func (q *Queue) LookupByID(ctx context.Context, id string) (*Record, error) {
	if classify(id) != kindEdit {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	data, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, nil
}

// ListAll returns every queued edit in key order. Phantom markers and the
// layer metadata record are not included.
func (q *Queue) ListAll(ctx context.Context) ([]*Record, error) {
	var out []*Record
	err := q.store.Iterate(ctx, "", func(key string, value []byte) kvstore.Action {
		if classify(key) != kindEdit {
			return kvstore.Continue
		}
		rec, err := decodeRecord(value)
		if err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("Skipping malformed edit record")
			return kvstore.Continue
		}
		out = append(out, rec)
		return kvstore.Continue
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteByID removes the record for id and confirms it is gone.
func (q *Queue) DeleteByID(ctx context.Context, id string) error {
	if classify(id) != kindEdit {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return q.store.DeleteVerified(ctx, id)
}

// Promote moves a replayed ADD that the service confirmed under serverID
// out of its temporary key. sent is the record that was replayed; current
// is what the queue holds for it now, or nil if the entity was deleted
// locally while the call was in flight.
//
// A changed record is queued again as an UPDATE of serverID carrying the
// newer payload; a deleted one as a DELETE of serverID. The phantom marker
// moves to the new id. The new record is written before the old one is
// removed, so a failure part way leaves a duplicate rather than a lost edit.
func (q *Queue) Promote(ctx context.Context, sent, current *Record, serverID int64) (*Record, error) {
	if serverID <= 0 {
		return nil, fmt.Errorf("edits: promote %s: invalid server id %d", sent.ID, serverID)
	}
	op, source := OpUpdate, current
	if current == nil {
		op, source = OpDelete, sent
	}
	f, err := q.codec.Decode(source)
	if err != nil {
		return nil, err
	}
	q.codec.SetObjectID(f, serverID)

	rec, err := q.Enqueue(ctx, op, sent.Layer, f)
	if err != nil {
		return nil, fmt.Errorf("promote %s: %w", sent.ID, err)
	}
	marker, err := NewPhantomMarker(rec.ObjectID(), op, f)
	if err != nil {
		return nil, err
	}
	if err := q.phantoms.Add(ctx, marker); err != nil {
		return nil, fmt.Errorf("promote %s: phantom: %w", sent.ID, err)
	}

	if current != nil {
		if err := q.DeleteByID(ctx, current.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("promote %s: %w", sent.ID, err)
		}
	}
	if err := q.phantoms.DeleteOne(ctx, PhantomKey(sent.ObjectID())); err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("promote %s: phantom: %w", sent.ID, err)
	}
	logging.Ctx(ctx).Info().
		Str("edit_id", sent.ID).
		Str("new_id", rec.ID).
		Str("operation", string(op)).
		Msg("Replayed add re-queued under server id")
	return rec, nil
}

// Reset clears the whole store: edits, phantom markers and layer metadata.
// Edits that failed to sync are lost too.
func (q *Queue) Reset(ctx context.Context) error {
	if err := q.store.Clear(ctx); err != nil {
		return err
	}
	metrics.UpdateEditQueue(0, 0)
	logging.Warn().Msg("Edit queue reset, all unsynced edits discarded")
	return nil
}

// Usage sums the serialized size of queued edits and counts them.
func (q *Queue) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	err := q.store.Iterate(ctx, "", func(key string, value []byte) kvstore.Action {
		if classify(key) == kindEdit {
			u.SizeBytes += int64(len(value))
			u.EditCount++
		}
		return kvstore.Continue
	})
	if err != nil {
		return Usage{}, err
	}
	metrics.UpdateEditQueue(u.EditCount, u.SizeBytes)
	return u, nil
}

// NextTempID returns a negative id lower than every temporary id already
// queued as an ADD on layer, or -1 if there are none.
func (q *Queue) NextTempID(ctx context.Context, layer string) (int64, error) {
	lowest := int64(0)
	prefix := layer + "/"
	err := q.store.Iterate(ctx, prefix, func(key string, value []byte) kvstore.Action {
		if classify(key) != kindEdit {
			return kvstore.Continue
		}
		rec, err := decodeRecord(value)
		if err != nil || rec.Operation != OpAdd || rec.Layer != layer {
			return kvstore.Continue
		}
		n, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
		if err == nil && n < lowest {
			lowest = n
		}
		return kvstore.Continue
	})
	if err != nil {
		return 0, err
	}
	return lowest - 1, nil
}

// StoreLayerMetadata replaces the stored layer definitions.
func (q *Queue) StoreLayerMetadata(ctx context.Context, layers []json.RawMessage) error {
	_, err := q.store.PutRecord(ctx, LayerMetadata{
		ID:        LayerMetadataKey,
		Layers:    layers,
		UpdatedAt: time.Now().UTC(),
	})
	return err
}

// LayerMetadata returns the stored layer definitions, or ErrNotFound.
func (q *Queue) LayerMetadata(ctx context.Context) (*LayerMetadata, error) {
	data, err := q.store.Get(ctx, LayerMetadataKey)
	if err != nil {
		return nil, err
	}
	var md LayerMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("decode layer metadata: %w", err)
	}
	return &md, nil
}
