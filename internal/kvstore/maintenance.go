// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package kvstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/tomtom215/cartosync/internal/logging"
)

// Maintainer periodically refreshes size metrics and runs value log GC on
// a set of stores. It implements suture.Service.
type Maintainer struct {
	stores   []*Store
	interval time.Duration
}

// NewMaintainer returns a Maintainer for stores. A non-positive interval
// defaults to ten minutes.
func NewMaintainer(interval time.Duration, stores ...*Store) *Maintainer {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Maintainer{stores: stores, interval: interval}
}

// Serve runs until ctx is cancelled.
func (m *Maintainer) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.RunOnce()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.RunOnce()
		}
	}
}

// RunOnce performs one maintenance pass over every store.
func (m *Maintainer) RunOnce() {
	for _, s := range m.stores {
		if err := s.RunGC(); err != nil && !errors.Is(err, ErrClosed) {
			logging.Error().Err(err).Str("store", s.schema.Name).Msg("Store GC failed")
		}
		st := s.Stats()
		logging.Debug().
			Str("store", s.schema.Name).
			Int64("lsm_bytes", st.LSMBytes).
			Int64("vlog_bytes", st.VLogBytes).
			Msg("Store maintenance pass")
	}
}

// String implements fmt.Stringer for supervisor logs.
func (m *Maintainer) String() string {
	names := make([]string, 0, len(m.stores))
	for _, s := range m.stores {
		names = append(names, s.schema.Name)
	}
	return "store-maintainer[" + strings.Join(names, ",") + "]"
}
