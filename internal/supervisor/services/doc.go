// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package services adapts blocking servers to suture.Service.
//
// Most components (store maintenance, connectivity monitor, websocket hub)
// implement suture.Service themselves; this package holds the wrappers for
// things that do not, such as *http.Server.
package services
