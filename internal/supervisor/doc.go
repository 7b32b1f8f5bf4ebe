// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

/*
Package supervisor runs the long-lived parts of the server under a suture
tree, restarting any that fail.

	cartosync (root)
	├── storage-layer
	│   └── store-maintenance      value-log GC for the three stores
	├── sync-layer
	│   ├── connectivity-monitor   probes the service, drives ONLINE/OFFLINE
	│   ├── websocket-hub          live event fan-out
	│   └── websocket-relay        event bus -> hub
	└── api-layer
	    └── http-server            admin API

Supervisor events (service failures, backoff, stop timeouts) are logged
through sutureslog on top of the zerolog process logger.
*/
package supervisor
