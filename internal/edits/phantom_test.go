// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package edits

import (
	"context"
	"errors"
	"testing"
)

func addMarkers(ctx context.Context, t *testing.T, p *PhantomTracker, ids ...string) {
	t.Helper()
	for _, id := range ids {
		m, err := NewPhantomMarker(id, OpUpdate, newFeature(id, "m"))
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Add(ctx, m); err != nil {
			t.Fatalf("Add %s: %v", id, err)
		}
	}
}

func TestPhantomMarkerPayload(t *testing.T) {
	t.Parallel()

	m, err := NewPhantomMarker("-4", OpDelete, newFeature(-4, "x"))
	if err != nil {
		t.Fatal(err)
	}
	if m.ID != "phantom-layer|@|-4" {
		t.Errorf("ID = %s", m.ID)
	}
	if m.ObjectID() != "-4" {
		t.Errorf("ObjectID = %s", m.ObjectID())
	}
	f, err := m.Feature()
	if err != nil {
		t.Fatal(err)
	}
	if f.Properties[PhantomOperationProperty] != "delete" {
		t.Errorf("operation property = %v", f.Properties[PhantomOperationProperty])
	}
	if f.Geometry == nil || f.Geometry.GeoJSONType() != "Point" {
		t.Errorf("geometry not carried over: %v", f.Geometry)
	}
}

func TestPhantomAddRejectsForeignKeys(t *testing.T) {
	t.Parallel()
	q, _ := setupQueue(t)

	err := q.Phantoms().Add(context.Background(), &PhantomMarker{ID: testLayer + "/1"})
	if err == nil {
		t.Error("expected error for non-phantom key")
	}
}

func TestPhantomDeleteOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := setupQueue(t)
	p := q.Phantoms()

	addMarkers(ctx, t, p, "1")
	if err := p.DeleteOne(ctx, PhantomKey("1")); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if err := p.DeleteOne(ctx, PhantomKey("1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete should report not found, got %v", err)
	}
}

func TestPhantomResetAllLeavesEdits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := setupQueue(t)

	enqueueValidated(ctx, t, q, OpAdd, newFeature(-1, "a"))
	enqueueValidated(ctx, t, q, OpAdd, newFeature(-2, "b"))

	n, err := q.Phantoms().ResetAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("ResetAll removed %d, want 2", n)
	}
	u, _ := q.Usage(ctx)
	if u.EditCount != 2 {
		t.Errorf("edits affected by ResetAll: %+v", u)
	}
}

func TestPhantomResetConfirmedSubset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := setupQueue(t)
	p := q.Phantoms()

	addMarkers(ctx, t, p, "-1", "7", "8")

	n, err := p.ResetConfirmedSubset(ctx, []Outcome{
		{Layer: testLayer, ObjectID: "-1", Operation: OpAdd, Success: true},
		{Layer: testLayer, ObjectID: "7", Operation: OpUpdate, Success: false},
		{Layer: testLayer, ObjectID: "8", Operation: OpDelete, Success: true},
		{Layer: testLayer, ObjectID: "99", Operation: OpDelete, Success: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("removed %d, want 2", n)
	}

	left, _ := p.ListAll(ctx)
	if len(left) != 1 || left[0].ObjectID() != "7" {
		t.Errorf("remaining markers = %v", left)
	}
}

func TestPhantomMatchIgnoresLayer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	q, _ := setupQueue(t)
	p := q.Phantoms()

	addMarkers(ctx, t, p, "5")

	// A success on another layer with the same id clears the marker.
	n, err := p.ResetConfirmedSubset(ctx, []Outcome{
		{Layer: "https://example.test/FeatureServer/9", ObjectID: "5", Operation: OpUpdate, Success: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed %d, want 1", n)
	}
}
