// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package edits

import "strings"

// The edits store holds three kinds of record side by side, told apart
// only by key. The layout is kept stable so queues written by an earlier
// session can still be read:
//
//	feature-layer-object-1001          layer metadata (one record)
//	phantom-layer|@|<objectId>         phantom marker
//	<layerUrl>/<objectId>              edit record
//
// Nothing outside this file should inspect key shapes.
const (
	LayerMetadataKey = "feature-layer-object-1001"
	PhantomPrefix    = "phantom-layer"
	PhantomToken     = "|@|"
)

type keyKind int

const (
	kindEdit keyKind = iota
	kindPhantom
	kindMetadata
)

func classify(key string) keyKind {
	switch {
	case key == LayerMetadataKey:
		return kindMetadata
	case strings.HasPrefix(key, PhantomPrefix+PhantomToken):
		return kindPhantom
	default:
		return kindEdit
	}
}

// PhantomKey returns the marker key for an entity id. It is not qualified
// by layer, so equal ids on different layers share one marker.
func PhantomKey(objectID string) string {
	return PhantomPrefix + PhantomToken + objectID
}

func phantomObjectID(key string) string {
	return strings.TrimPrefix(key, PhantomPrefix+PhantomToken)
}
