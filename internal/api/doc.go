// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

/*
Package api serves the local admin API of the sync engine.

Routes:

	GET    /api/v1/health              liveness and offline support
	GET    /api/v1/status              state, queue and cache usage, monitor, breaker
	POST   /api/v1/offline             switch to OFFLINE
	POST   /api/v1/online              replay the queues and switch to ONLINE
	GET    /api/v1/edits               queued edit records
	POST   /api/v1/edits               apply adds/updates/deletes to a layer
	DELETE /api/v1/edits               drop every queue, body {"confirm":true}
	GET    /api/v1/attachments         queued attachment metadata
	POST   /api/v1/attachments         add an attachment (multipart field "file")
	DELETE /api/v1/attachments/{id}    delete an attachment
	GET    /api/v1/layers              stored layer definitions
	PUT    /api/v1/layers              replace the stored layer definitions
	GET    /api/v1/tiles?url=          cached tile, fetched on a miss
	DELETE /api/v1/tiles               clear the tile cache
	GET    /api/v1/events              websocket stream of sync events
	GET    /metrics                    Prometheus metrics

Every JSON response uses the APIResponse envelope.
*/
package api
