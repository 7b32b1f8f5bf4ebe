// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package transport defines how queued edits and attachments reach the
// remote feature service, and provides an HTTP implementation wrapped in a
// circuit breaker.
//
// The service is treated as a black box that answers each bulk call with
// one result per submitted record. A result with Success false is a normal
// answer; only a returned error means the call itself failed.
package transport

import (
	"context"

	"github.com/paulmach/orb/geojson"
)

// EditResult is the service's verdict on one submitted record.
type EditResult struct {
	Success  bool   `json:"success"`
	ObjectID int64  `json:"objectId,omitempty"`
	Error    string `json:"error,omitempty"`
}

// BulkEditResult holds per-record results in submission order. Any of the
// slices may be empty.
type BulkEditResult struct {
	AddResults    []EditResult `json:"addResults"`
	UpdateResults []EditResult `json:"updateResults"`
	DeleteResults []EditResult `json:"deleteResults"`
}

// FeatureTransport applies edits to a layer on the service.
type FeatureTransport interface {
	ApplyBulkEdit(ctx context.Context, layer string, adds, updates, deletes []*geojson.Feature) (*BulkEditResult, error)
}

// FeatureTransportFunc adapts a function to FeatureTransport.
type FeatureTransportFunc func(ctx context.Context, layer string, adds, updates, deletes []*geojson.Feature) (*BulkEditResult, error)

// ApplyBulkEdit calls f.
func (f FeatureTransportFunc) ApplyBulkEdit(ctx context.Context, layer string, adds, updates, deletes []*geojson.Feature) (*BulkEditResult, error) {
	return f(ctx, layer, adds, updates, deletes)
}

// Upload is the file part of an attachment call.
type Upload struct {
	Name        string
	ContentType string
	Content     []byte
}

// AttachmentResult is the service's verdict on one attachment operation.
// AttachmentID is the server id assigned by an add.
type AttachmentResult struct {
	Success      bool   `json:"success"`
	AttachmentID int64  `json:"objectId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// AttachmentTransport manages attachments of features on the service.
type AttachmentTransport interface {
	AddAttachment(ctx context.Context, layer, objectID string, file Upload) (*AttachmentResult, error)
	UpdateAttachment(ctx context.Context, layer, objectID string, attachmentID int64, file Upload) (*AttachmentResult, error)
	DeleteAttachments(ctx context.Context, layer, objectID string, attachmentIDs []int64) ([]AttachmentResult, error)
}

// Pinger checks whether the service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// Client is everything the sync engine needs from the service.
type Client interface {
	FeatureTransport
	AttachmentTransport
	Pinger
}
