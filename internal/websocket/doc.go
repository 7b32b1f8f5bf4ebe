// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

/*
Package websocket streams sync notifications to connected browsers.

A Hub owns the set of connected clients. A Relay subscribes to the event bus
and hands every notification to the hub, which writes it to each client as

	{"type": "EDITS_SENT_ERROR", "data": {...event...}}

Both Hub and Relay implement suture.Service and are run under the
supervisor tree. Slow clients whose send queue fills up are disconnected
rather than allowed to stall the broadcast.
*/
package websocket
