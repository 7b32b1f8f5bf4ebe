// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package edits

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/goccy/go-json"
	"github.com/paulmach/orb/geojson"
)

// Operation is the kind of mutation a queued edit carries.
type Operation string

const (
	OpAdd    Operation = "add"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is one of the three known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpAdd, OpUpdate, OpDelete:
		return true
	}
	return false
}

// DefaultUniqueIDAttribute is the feature property that carries the entity id.
const DefaultUniqueIDAttribute = "OBJECTID"

// Record is one queued mutation. ID is "<layer>/<objectId>" and is unique
// within the edits store.
type Record struct {
	ID           string          `json:"id"`
	Operation    Operation       `json:"operation"`
	Layer        string          `json:"layer"`
	GeometryType string          `json:"geometry_type,omitempty"`
	Payload      json.RawMessage `json:"payload"`
}

// ObjectID returns the entity id portion of the record id.
func (r *Record) ObjectID() string {
	if len(r.ID) > len(r.Layer) && r.ID[:len(r.Layer)] == r.Layer && r.ID[len(r.Layer)] == '/' {
		return r.ID[len(r.Layer)+1:]
	}
	return ""
}

// MissingKeyError is returned when a feature lacks the unique-id attribute.
type MissingKeyError struct {
	Attribute string
	Layer     string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("feature for layer %s has no %q attribute", e.Layer, e.Attribute)
}

// ErrNilFeature is returned when a nil feature is encoded.
var ErrNilFeature = errors.New("edits: feature is nil")

// RecordID builds the composite key for an entity.
func RecordID(layer, objectID string) string {
	return layer + "/" + objectID
}

// Codec converts features to and from queued records.
type Codec struct {
	// UniqueIDAttribute names the property holding the entity id.
	UniqueIDAttribute string
}

// NewCodec returns a Codec for attr, defaulting to OBJECTID.
func NewCodec(attr string) Codec {
	if attr == "" {
		attr = DefaultUniqueIDAttribute
	}
	return Codec{UniqueIDAttribute: attr}
}

// ObjectID returns the entity id of f as a string.
func (c Codec) ObjectID(layer string, f *geojson.Feature) (string, error) {
	if f == nil {
		return "", ErrNilFeature
	}
	id, ok := FormatObjectID(f.Properties[c.UniqueIDAttribute])
	if !ok {
		return "", &MissingKeyError{Attribute: c.UniqueIDAttribute, Layer: layer}
	}
	return id, nil
}

// SetObjectID stores id on f under the unique-id attribute.
func (c Codec) SetObjectID(f *geojson.Feature, id int64) {
	if f.Properties == nil {
		f.Properties = geojson.Properties{}
	}
	f.Properties[c.UniqueIDAttribute] = id
}

// Encode builds the record for op on f.
func (c Codec) Encode(op Operation, layer string, f *geojson.Feature) (*Record, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("edits: unknown operation %q", op)
	}
	oid, err := c.ObjectID(layer, f)
	if err != nil {
		return nil, err
	}
	payload, err := f.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("marshal feature %s: %w", oid, err)
	}
	rec := &Record{
		ID:        RecordID(layer, oid),
		Operation: op,
		Layer:     layer,
		Payload:   payload,
	}
	if f.Geometry != nil {
		rec.GeometryType = f.Geometry.GeoJSONType()
	}
	return rec, nil
}

// Decode reconstructs the feature stored in r.
func (c Codec) Decode(r *Record) (*geojson.Feature, error) {
	if len(r.Payload) == 0 {
		return nil, fmt.Errorf("edits: record %s has no payload", r.ID)
	}
	f, err := geojson.UnmarshalFeature(r.Payload)
	if err != nil {
		return nil, fmt.Errorf("unmarshal feature %s: %w", r.ID, err)
	}
	return f, nil
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// maxIntegralID is 2^63; integral floats at or beyond it do not fit int64.
const maxIntegralID = float64(1 << 63)

// FormatObjectID renders an attribute value as an entity id. Integral
// numbers are printed without a fraction so that -1, -1.0, json.Number("-1.0")
// and "-1" all produce the same key. Integral values outside the int64 range
// are rejected.
func FormatObjectID(v interface{}) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case float64:
		if math.IsNaN(id) || math.IsInf(id, 0) {
			return "", false
		}
		if id == math.Trunc(id) {
			if id >= maxIntegralID || id < -maxIntegralID {
				return "", false
			}
			return strconv.FormatInt(int64(id), 10), true
		}
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case float32:
		return FormatObjectID(float64(id))
	case int:
		return strconv.Itoa(id), true
	case int32:
		return strconv.FormatInt(int64(id), 10), true
	case int64:
		return strconv.FormatInt(id, 10), true
	case uint64:
		return strconv.FormatUint(id, 10), true
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		f, err := id.Float64()
		if err != nil {
			return "", false
		}
		return FormatObjectID(f)
	default:
		return "", false
	}
}
