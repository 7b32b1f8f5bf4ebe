// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package tiles caches basemap tile images by URL for offline display.
package tiles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/cartosync/internal/kvstore"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
)

// Usage summarises the cache. SizeBytes counts URL and image bytes.
type Usage struct {
	SizeBytes int64 `json:"size_bytes"`
	TileCount int   `json:"tile_count"`
}

// Cache stores tile images keyed by URL. Misses are not errors.
//
// Images returned by Get may be shared with the in-memory layer and must
// not be modified.
type Cache struct {
	store *kvstore.Store
	mem   *memoryLRU
}

// NewCache returns a Cache over store.
func NewCache(store *kvstore.Store) *Cache {
	return &Cache{store: store}
}

// WithMemory puts an LRU of up to maxBytes of images in front of the
// store. Entries expire after ttl. A non-positive maxBytes disables it.
func (c *Cache) WithMemory(maxBytes int64, ttl time.Duration) *Cache {
	if maxBytes > 0 {
		c.mem = newMemoryLRU(maxBytes, ttl)
	}
	return c
}

// Get returns the image for url and whether it was cached.
func (c *Cache) Get(ctx context.Context, url string) ([]byte, bool, error) {
	if c.mem != nil {
		if img, ok := c.mem.get(url); ok {
			metrics.RecordTileLookup(true)
			return img, true, nil
		}
	}
	img, err := c.store.Get(ctx, url)
	if errors.Is(err, kvstore.ErrNotFound) {
		metrics.RecordTileLookup(false)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	metrics.RecordTileLookup(true)
	if c.mem != nil {
		c.mem.add(url, img)
	}
	return img, true, nil
}

// Put stores img under url, replacing any cached copy.
func (c *Cache) Put(ctx context.Context, url string, img []byte) error {
	if url == "" {
		return fmt.Errorf("tiles: empty url")
	}
	if err := c.store.Put(ctx, url, img); err != nil {
		return err
	}
	if c.mem != nil {
		c.mem.add(url, img)
	}
	return nil
}

// Delete evicts url. Evicting an uncached url is not an error.
func (c *Cache) Delete(ctx context.Context, url string) error {
	if c.mem != nil {
		c.mem.remove(url)
	}
	return c.store.Delete(ctx, url)
}

// Clear evicts every tile.
func (c *Cache) Clear(ctx context.Context) error {
	if c.mem != nil {
		c.mem.clear()
	}
	if err := c.store.Clear(ctx); err != nil {
		return err
	}
	metrics.TileCacheBytes.Set(0)
	logging.Info().Msg("Tile cache cleared")
	return nil
}

// ForEach calls visit for every cached tile until it returns false.
func (c *Cache) ForEach(ctx context.Context, visit func(url string, img []byte) bool) error {
	return c.store.Iterate(ctx, "", func(key string, value []byte) kvstore.Action {
		if visit(key, value) {
			return kvstore.Continue
		}
		return kvstore.Stop
	})
}

// Usage counts cached tiles and their size.
func (c *Cache) Usage(ctx context.Context) (Usage, error) {
	var u Usage
	err := c.ForEach(ctx, func(url string, img []byte) bool {
		u.SizeBytes += int64(len(url) + len(img))
		u.TileCount++
		return true
	})
	if err != nil {
		return Usage{}, err
	}
	metrics.TileCacheBytes.Set(float64(u.SizeBytes))
	return u, nil
}
