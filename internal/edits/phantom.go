// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package edits

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"

	"github.com/tomtom215/cartosync/internal/kvstore"
	"github.com/tomtom215/cartosync/internal/logging"
)

// PhantomOperationProperty is the property on a marker's payload that
// tells the renderer how to style it.
const PhantomOperationProperty = "phantom_operation"

// PhantomMarker is the placeholder drawn for an edit that has not been
// confirmed by the server yet.
type PhantomMarker struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// ObjectID returns the entity id the marker stands for.
func (m *PhantomMarker) ObjectID() string {
	return phantomObjectID(m.ID)
}

// Feature decodes the marker payload.
func (m *PhantomMarker) Feature() (*geojson.Feature, error) {
	return geojson.UnmarshalFeature(m.Payload)
}

// NewPhantomMarker builds a marker for the entity objectID from f's
// geometry, tagged with op for styling.
func NewPhantomMarker(objectID string, op Operation, f *geojson.Feature) (*PhantomMarker, error) {
	if f == nil {
		return nil, ErrNilFeature
	}
	marker := geojson.NewFeature(f.Geometry)
	marker.Properties[PhantomOperationProperty] = string(op)
	payload, err := marker.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal phantom %s: %w", objectID, err)
	}
	return &PhantomMarker{ID: PhantomKey(objectID), Payload: payload}, nil
}

// Outcome is what the tracker needs to know about one replayed edit.
type Outcome struct {
	Layer     string
	ObjectID  string
	Operation Operation
	Success   bool
}

// PhantomTracker manages the markers kept in the edits store.
type PhantomTracker struct {
	store *kvstore.Store
}

// Add writes m, replacing any marker with the same id.
func (p *PhantomTracker) Add(ctx context.Context, m *PhantomMarker) error {
	if classify(m.ID) != kindPhantom {
		return fmt.Errorf("edits: %q is not a phantom key", m.ID)
	}
	_, err := p.store.PutRecord(ctx, m)
	return err
}

// ListAll returns every marker.
func (p *PhantomTracker) ListAll(ctx context.Context) ([]*PhantomMarker, error) {
	var out []*PhantomMarker
	err := p.store.Iterate(ctx, PhantomPrefix+PhantomToken, func(key string, value []byte) kvstore.Action {
		var m PhantomMarker
		if err := json.Unmarshal(value, &m); err != nil {
			logging.Warn().Err(err).Str("key", key).Msg("Skipping malformed phantom marker")
			return kvstore.Continue
		}
		out = append(out, &m)
		return kvstore.Continue
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteOne removes the marker id and confirms it is gone.
func (p *PhantomTracker) DeleteOne(ctx context.Context, id string) error {
	if classify(id) != kindPhantom {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p.store.DeleteVerified(ctx, id)
}

// ResetAll removes every marker and returns how many there were.
func (p *PhantomTracker) ResetAll(ctx context.Context) (int, error) {
	n, err := p.store.DeletePrefix(ctx, PhantomPrefix+PhantomToken)
	if err != nil {
		return 0, err
	}
	logging.Ctx(ctx).Debug().Int("markers", n).Msg("Phantom markers cleared")
	return n, nil
}

// ResetConfirmedSubset removes the markers of successful outcomes only and
// returns how many were removed. Markers are matched on entity id alone,
// without the layer, so a confirmed edit on one layer also clears the
// marker of an unconfirmed edit with the same id on another layer.
func (p *PhantomTracker) ResetConfirmedSubset(ctx context.Context, outcomes []Outcome) (int, error) {
	removed := 0
	var errs []error
	for _, o := range outcomes {
		if !o.Success || o.ObjectID == "" {
			continue
		}
		err := p.DeleteOne(ctx, PhantomKey(o.ObjectID))
		switch {
		case err == nil:
			removed++
		case errors.Is(err, ErrNotFound):
		default:
			errs = append(errs, err)
		}
	}
	return removed, errors.Join(errs...)
}
