// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package main

import (
	"errors"
	"net/http"

	"github.com/tomtom215/cartosync/internal/config"
	"github.com/tomtom215/cartosync/internal/kvstore"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/transport"
)

// storeSet holds the three stores. A nil member could not be opened.
type storeSet struct {
	edits       *kvstore.Store
	attachments *kvstore.Store
	tiles       *kvstore.Store
}

func storeOptions(cfg *config.StoreConfig) kvstore.Options {
	opts := kvstore.DefaultOptions(cfg.Dir)
	opts.InMemory = cfg.InMemory
	opts.SyncWrites = cfg.SyncWrites
	opts.Compression = cfg.Compression
	if cfg.CloseTimeout > 0 {
		opts.CloseTimeout = cfg.CloseTimeout
	}
	if cfg.GCRatio > 0 {
		opts.GCRatio = cfg.GCRatio
	}
	return opts
}

// openStores opens every store it can. Failures are logged and leave the
// member nil so the matching feature reports itself unsupported.
func openStores(cfg *config.StoreConfig) storeSet {
	opts := storeOptions(cfg)
	open := func(name, objectStore, keyPath string) *kvstore.Store {
		s, err := kvstore.Open(kvstore.Schema{
			Name:      name,
			Version:   cfg.Version,
			StoreName: objectStore,
			KeyPath:   keyPath,
		}, opts)
		if err != nil {
			ev := logging.Error()
			if errors.Is(err, kvstore.ErrStoreUnavailable) {
				ev = logging.Warn()
			}
			ev.Err(err).Str("store", name).Msg("Store unavailable, feature disabled")
			return nil
		}
		return s
	}
	return storeSet{
		edits:       open(cfg.EditsName, "edits", "id"),
		attachments: open(cfg.AttachmentsName, "attachments", "id"),
		tiles:       open(cfg.TilesName, "tilepath", "url"),
	}
}

func (s storeSet) open() []*kvstore.Store {
	var out []*kvstore.Store
	for _, st := range []*kvstore.Store{s.edits, s.attachments, s.tiles} {
		if st != nil {
			out = append(out, st)
		}
	}
	return out
}

func (s storeSet) closeAll() {
	for _, st := range s.open() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Str("store", st.Schema().Name).Msg("Error closing store")
		}
	}
}

// buildClient returns the feature service client and, when enabled, the
// circuit breaker wrapping it. The breaker is nil when disabled.
func buildClient(cfg *config.TransportConfig) (transport.Client, *transport.BreakerClient) {
	var client transport.Client = transport.NewHTTPClient(&http.Client{Transport: http.DefaultTransport}, transport.HTTPConfig{
		PingURL:   cfg.PingURL,
		Timeout:   cfg.Timeout,
		ProxyPath: cfg.ProxyPath,
		Token:     cfg.Token,
	})
	if !cfg.Breaker.Enabled {
		return client, nil
	}
	breaker := transport.NewBreakerClient(client, transport.BreakerConfig{
		Name:         "feature-service",
		MaxRequests:  cfg.Breaker.MaxRequests,
		Interval:     cfg.Breaker.Interval,
		Timeout:      cfg.Breaker.Timeout,
		MinRequests:  cfg.Breaker.MinRequests,
		FailureRatio: cfg.Breaker.FailureRatio,
	})
	return breaker, breaker
}
