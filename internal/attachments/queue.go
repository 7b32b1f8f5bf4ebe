// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package attachments queues file attachments added, changed or removed
// while offline.
//
// Records are stored under "att:<layer>\x00<id>" with a secondary index
// entry "idx:<layer>/<objectId>\x00<id>" written in the same transaction,
// so attachments can be listed per feature or per layer by prefix scan.
// Negative ids are local and unique across the queue; positive ids are
// attachments the server already knows about and are only unique within
// their layer, hence the layer in the record key.
package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/kvstore"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
	"github.com/tomtom215/cartosync/internal/validation"
)

const (
	recordPrefix = "att:"
	indexPrefix  = "idx:"
	indexSep     = "\x00"

	// MaxContentBytes caps a single attachment held in the queue.
	MaxContentBytes = 64 << 20
)

var (
	// ErrNotFound is returned for unknown attachment ids.
	ErrNotFound = kvstore.ErrNotFound

	// ErrTooLarge is returned when file content exceeds MaxContentBytes.
	ErrTooLarge = errors.New("attachments: file exceeds size limit")
)

// File is the caller-supplied attachment. Content is read fully by Store.
type File struct {
	Name        string    `validate:"required,max=255"`
	ContentType string    `validate:"required,mediatype"`
	Content     io.Reader `validate:"-"`
}

// Record is one queued attachment operation.
type Record struct {
	ID          int64           `json:"id"`
	FeatureID   string          `json:"feature_id"`
	Layer       string          `json:"layer"`
	ObjectID    string          `json:"object_id"`
	Type        edits.Operation `json:"type"`
	Name        string          `json:"name,omitempty"`
	ContentType string          `json:"content_type,omitempty"`
	Size        int64           `json:"size"`
	Content     []byte          `json:"content,omitempty"`
	LocalURL    string          `json:"local_url,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// IsLocal reports whether the server has never seen this attachment.
func (r *Record) IsLocal() bool {
	return r.ID < 0
}

// Usage summarises the queued attachments.
type Usage struct {
	SizeBytes       int64 `json:"size_bytes"`
	AttachmentCount int   `json:"attachment_count"`
}

// Queue owns the attachments store.
type Queue struct {
	store *kvstore.Store
	urls  *URLRegistry
}

// NewQueue returns a Queue over store.
func NewQueue(store *kvstore.Store) *Queue {
	return &Queue{store: store, urls: NewURLRegistry()}
}

// URLs returns the registry of local display URLs.
func (q *Queue) URLs() *URLRegistry {
	return q.urls
}

func recordKey(layer string, id int64) string {
	return recordPrefix + layer + indexSep + strconv.FormatInt(id, 10)
}

// idFromKey returns the attachment id at the end of a record or index key.
func idFromKey(key string) (int64, bool) {
	i := strings.LastIndex(key, indexSep)
	if i < 0 {
		return 0, false
	}
	id, err := strconv.ParseInt(key[i+1:], 10, 64)
	return id, err == nil
}

func featurePrefix(layer, objectID string) string {
	return indexPrefix + edits.RecordID(layer, objectID) + indexSep
}

func indexKey(featureID string, id int64) string {
	return indexPrefix + featureID + indexSep + strconv.FormatInt(id, 10)
}

// Store reads file into memory and queues it as attachment id of feature
// objectID on layer. DELETE entries carry no content and need no file
// metadata. A failure leaves nothing queued; the caller must retry.
func (q *Queue) Store(ctx context.Context, layer string, id int64, objectID string, file File, typ edits.Operation) (*Record, error) {
	if !typ.Valid() {
		return nil, fmt.Errorf("attachments: unknown type %q", typ)
	}
	if objectID == "" {
		return nil, errors.New("attachments: object id is required")
	}

	rec := &Record{
		ID:        id,
		FeatureID: edits.RecordID(layer, objectID),
		Layer:     layer,
		ObjectID:  objectID,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	}

	if typ != edits.OpDelete {
		if err := validation.Struct(file); err != nil {
			return nil, err
		}
		if file.Content == nil {
			return nil, errors.New("attachments: file content is required")
		}
		content, err := io.ReadAll(io.LimitReader(file.Content, MaxContentBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read attachment %d: %w", id, err)
		}
		if len(content) > MaxContentBytes {
			return nil, ErrTooLarge
		}
		rec.Name = file.Name
		rec.ContentType = file.ContentType
		rec.Content = content
		rec.Size = int64(len(content))
		rec.LocalURL = q.urls.Register(id)
	}

	if err := q.put(ctx, rec); err != nil {
		q.urls.Revoke(rec.LocalURL)
		return nil, err
	}

	logging.Ctx(ctx).Debug().
		Int64("attachment_id", id).
		Str("feature_id", rec.FeatureID).
		Str("type", string(typ)).
		Int64("size", rec.Size).
		Msg("Attachment queued")
	return rec, nil
}

// put writes rec and its index entry, dropping a stale index entry if the
// id was previously queued under another feature.
func (q *Queue) put(ctx context.Context, rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal attachment %d: %w", rec.ID, err)
	}
	key := recordKey(rec.Layer, rec.ID)
	return q.store.Update(ctx, func(tx *kvstore.Txn) error {
		prev, err := tx.Get(key)
		switch {
		case err == nil:
			var old Record
			if json.Unmarshal(prev, &old) == nil && old.FeatureID != rec.FeatureID {
				if err := tx.Delete(indexKey(old.FeatureID, old.ID)); err != nil {
					return err
				}
			}
		case !errors.Is(err, kvstore.ErrNotFound):
			return err
		}
		if err := tx.Put(key, data); err != nil {
			return err
		}
		return tx.Put(indexKey(rec.FeatureID, rec.ID), nil)
	})
}

// Retrieve returns attachment id of layer, or ErrNotFound.
func (q *Queue) Retrieve(ctx context.Context, layer string, id int64) (*Record, error) {
	data, err := q.store.Get(ctx, recordKey(layer, id))
	if err != nil {
		return nil, err
	}
	return q.decode(data)
}

func (q *Queue) decode(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode attachment: %w", err)
	}
	if r.LocalURL != "" {
		q.urls.Restore(r.LocalURL, r.ID)
	}
	return &r, nil
}

// ListAll returns every queued attachment ordered by key.
func (q *Queue) ListAll(ctx context.Context) ([]*Record, error) {
	var out []*Record
	err := q.store.Iterate(ctx, recordPrefix, func(key string, value []byte) kvstore.Action {
		r, err := q.decode(value)
		if err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("Skipping malformed attachment record")
			return kvstore.Continue
		}
		out = append(out, r)
		return kvstore.Continue
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListByFeature returns the attachments queued for one feature.
func (q *Queue) ListByFeature(ctx context.Context, layer, objectID string) ([]*Record, error) {
	return q.listIndexed(ctx, layer, featurePrefix(layer, objectID))
}

// ListByLayer returns the attachments queued for every feature of layer.
func (q *Queue) ListByLayer(ctx context.Context, layer string) ([]*Record, error) {
	return q.listIndexed(ctx, layer, indexPrefix+layer+"/")
}

func (q *Queue) listIndexed(ctx context.Context, layer, prefix string) ([]*Record, error) {
	ids, err := q.indexedIDs(ctx, prefix)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		r, err := q.Retrieve(ctx, layer, id)
		if errors.Is(err, ErrNotFound) {
			logging.Warn().Int64("attachment_id", id).Msg("Attachment index points at missing record")
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (q *Queue) indexedIDs(ctx context.Context, prefix string) ([]int64, error) {
	var ids []int64
	err := q.store.Iterate(ctx, prefix, func(key string, _ []byte) kvstore.Action {
		if id, ok := idFromKey(key); ok {
			ids = append(ids, id)
		}
		return kvstore.Continue
	})
	return ids, err
}

// DeleteOne removes attachment id of layer, confirms it is gone and
// releases its local URL.
func (q *Queue) DeleteOne(ctx context.Context, layer string, id int64) error {
	rec, err := q.Retrieve(ctx, layer, id)
	if err != nil {
		return err
	}
	if err := q.store.DeleteVerified(ctx, recordKey(layer, id)); err != nil {
		return err
	}
	if err := q.store.Delete(ctx, indexKey(rec.FeatureID, id)); err != nil {
		logging.Warn().Err(err).Int64("attachment_id", id).Msg("Failed to remove attachment index entry")
	}
	q.urls.Revoke(rec.LocalURL)
	return nil
}

// DeleteAllByFeature removes every attachment of a feature and returns how
// many were removed.
func (q *Queue) DeleteAllByFeature(ctx context.Context, layer, objectID string) (int, error) {
	ids, err := q.indexedIDs(ctx, featurePrefix(layer, objectID))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, id := range ids {
		err := q.DeleteOne(ctx, layer, id)
		switch {
		case err == nil:
			n++
		case errors.Is(err, ErrNotFound):
			_ = q.store.Delete(ctx, indexKey(edits.RecordID(layer, objectID), id))
		default:
			return n, err
		}
	}
	return n, nil
}

// ReplaceFeatureID moves every attachment of oldObjectID on layer to
// newObjectID and returns how many were moved. Used once a feature created
// offline has been assigned its server id.
func (q *Queue) ReplaceFeatureID(ctx context.Context, layer, oldObjectID, newObjectID string) (int, error) {
	if oldObjectID == newObjectID {
		return 0, nil
	}
	ids, err := q.indexedIDs(ctx, featurePrefix(layer, oldObjectID))
	if err != nil {
		return 0, err
	}
	newFeatureID := edits.RecordID(layer, newObjectID)
	n := 0
	for _, id := range ids {
		rec, err := q.Retrieve(ctx, layer, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		rec.FeatureID = newFeatureID
		rec.ObjectID = newObjectID
		if err := q.put(ctx, rec); err != nil {
			return n, fmt.Errorf("move attachment %d: %w", id, err)
		}
		n++
	}
	if n > 0 {
		logging.Ctx(ctx).Debug().
			Str("layer", layer).
			Str("from", oldObjectID).
			Str("to", newObjectID).
			Int("attachments", n).
			Msg("Attachments moved to server feature id")
	}
	return n, nil
}

// NextTempID returns a negative attachment id lower than any queued one.
func (q *Queue) NextTempID(ctx context.Context) (int64, error) {
	lowest := int64(0)
	err := q.store.Iterate(ctx, recordPrefix, func(key string, _ []byte) kvstore.Action {
		if id, ok := idFromKey(key); ok && id < lowest {
			lowest = id
		}
		return kvstore.Continue
	})
	if err != nil {
		return 0, err
	}
	return lowest - 1, nil
}

// Usage sums the serialized size of queued attachments and counts them.
func (q *Queue) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	err := q.store.Iterate(ctx, recordPrefix, func(_ string, value []byte) kvstore.Action {
		u.SizeBytes += int64(len(value))
		u.AttachmentCount++
		return kvstore.Continue
	})
	if err != nil {
		return Usage{}, err
	}
	metrics.UpdateAttachmentQueue(u.AttachmentCount, u.SizeBytes)
	return u, nil
}

// Reset drops every queued attachment.
func (q *Queue) Reset(ctx context.Context) error {
	if err := q.store.Clear(ctx); err != nil {
		return err
	}
	q.urls.RevokeAll()
	metrics.UpdateAttachmentQueue(0, 0)
	return nil
}

// Reader returns the content of r as an io.Reader.
func (r *Record) Reader() io.Reader {
	return bytes.NewReader(r.Content)
}
