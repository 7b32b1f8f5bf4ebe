// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package attachments

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LocalURLPrefix starts every local display URL.
const LocalURLPrefix = "blob:cartosync/"

// URLRegistry hands out process-local URLs under which a queued
// attachment can be displayed before it is uploaded. URLs are released
// when the attachment leaves the queue.
type URLRegistry struct {
	mu   sync.RWMutex
	urls map[string]int64
}

// NewURLRegistry returns an empty registry.
func NewURLRegistry() *URLRegistry {
	return &URLRegistry{urls: make(map[string]int64)}
}

// Register issues a new URL for attachment id.
func (r *URLRegistry) Register(id int64) string {
	u := LocalURLPrefix + uuid.NewString()
	r.mu.Lock()
	r.urls[u] = id
	r.mu.Unlock()
	return u
}

// Restore re-registers a URL read back from the store after a restart.
func (r *URLRegistry) Restore(u string, id int64) {
	if !strings.HasPrefix(u, LocalURLPrefix) {
		return
	}
	r.mu.Lock()
	if _, ok := r.urls[u]; !ok {
		r.urls[u] = id
	}
	r.mu.Unlock()
}

// Resolve returns the attachment id behind u.
func (r *URLRegistry) Resolve(u string) (int64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.urls[u]
	return id, ok
}

// Revoke releases u. Unknown or empty URLs are ignored.
func (r *URLRegistry) Revoke(u string) {
	if u == "" {
		return
	}
	r.mu.Lock()
	delete(r.urls, u)
	r.mu.Unlock()
}

// RevokeAll releases every URL.
func (r *URLRegistry) RevokeAll() {
	r.mu.Lock()
	r.urls = make(map[string]int64)
	r.mu.Unlock()
}

// Len returns the number of live URLs.
func (r *URLRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.urls)
}
