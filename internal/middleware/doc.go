// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package middleware holds the HTTP middleware of the admin API:
// request ids tied to logging correlation ids, and Prometheus request
// metrics labelled by chi route pattern.
package middleware
