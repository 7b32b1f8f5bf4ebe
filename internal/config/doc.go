// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

/*
Package config loads the server configuration.

Values are layered with koanf, each layer overriding the previous one:

 1. Built-in defaults (defaultConfig)
 2. An optional YAML file, taken from CONFIG_PATH or the first of
    DefaultConfigPaths that exists
 3. Environment variables

# Environment Variables

Store:
  - STORE_DIR: Parent directory of the three stores (default: /data/cartosync)
  - STORE_IN_MEMORY: Keep the stores in RAM only (default: false)
  - STORE_SYNC_WRITES: fsync every commit (default: true)
  - STORE_VERSION: Schema version; raising it wipes the stores (default: 2)
  - STORE_GC_INTERVAL: Value-log GC interval (default: 10m)

Queue:
  - UNIQUE_ID_ATTRIBUTE: Feature property holding the entity id (default: OBJECTID)

Transport:
  - TRANSPORT_PING_URL: URL probed for connectivity
  - TRANSPORT_TIMEOUT: Per-request timeout (default: 30s)
  - TRANSPORT_PROXY_PATH: Optional proxy prefix, requests go to "<proxy>?<url>"
  - TRANSPORT_TOKEN: Bearer token sent to the feature service
  - BREAKER_TIMEOUT: How long the breaker stays open (default: 30s)

Sync:
  - SYNC_REPLAY_CONCURRENCY: Concurrent replay calls, 0 for unbounded (default: 8)
  - SYNC_PROBE_INTERVAL: Connectivity probe interval (default: 30s)
  - SYNC_AUTO_RECONNECT: Replay automatically once the service answers (default: true)
  - SYNC_INITIAL_STATE: ONLINE or OFFLINE (default: ONLINE)

Tiles:
  - TILES_FETCH_RATE, TILES_FETCH_BURST, TILES_USER_AGENT
  - TILES_MEMORY_BYTES: In-memory tile layer size, 0 to disable (default: 32MiB)
  - TILES_MEMORY_TTL: In-memory tile lifetime (default: 10m)

Server:
  - HTTP_HOST, HTTP_PORT, HTTP_SHUTDOWN_TIMEOUT
  - HTTP_RATE_LIMIT, HTTP_RATE_WINDOW: Per-IP limit on replay and edit
    submission (default: 60 per 1m, 0 disables)
  - WS_ALLOWED_ORIGINS: Comma-separated browser origins allowed on the API
    (CORS) and the event stream

Logging:
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

Any key can also be set with its dotted path in upper case and underscores,
e.g. SYNC_PROBE_INTERVAL for sync.probe_interval.
*/
package config
