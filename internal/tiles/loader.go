// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package tiles

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
)

// maxTileBytes guards against misconfigured endpoints returning huge bodies.
const maxTileBytes = 8 << 20

// LoaderConfig configures network fetches on cache miss.
type LoaderConfig struct {
	// Rate is the sustained number of tile requests per second.
	Rate float64
	// Burst is the number of requests allowed at once.
	Burst int
	// Timeout bounds each request.
	Timeout time.Duration
	// ProxyPath, when set, is prefixed to every request as "<proxy>?<url>".
	ProxyPath string
	// UserAgent is sent with every request.
	UserAgent string
}

// Loader serves tiles from the cache and fetches misses from the network.
type Loader struct {
	cache   *Cache
	client  *http.Client
	limiter *rate.Limiter
	cfg     LoaderConfig
}

// NewLoader returns a Loader. A nil client uses a client with cfg.Timeout.
func NewLoader(cache *Cache, client *http.Client, cfg LoaderConfig) *Loader {
	if cfg.Rate <= 0 {
		cfg.Rate = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Loader{
		cache:   cache,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst),
		cfg:     cfg,
	}
}

// GetOrFetch returns the cached image for url, fetching and storing it on
// a miss. fromCache reports which path served the request.
func (l *Loader) GetOrFetch(ctx context.Context, url string) (img []byte, fromCache bool, err error) {
	img, ok, err := l.cache.Get(ctx, url)
	if err != nil {
		return nil, false, err
	}
	if ok {
		return img, true, nil
	}

	img, err = l.fetch(ctx, url)
	metrics.RecordTileFetch(err == nil)
	if err != nil {
		return nil, false, err
	}
	if err := l.cache.Put(ctx, url, img); err != nil {
		logging.Warn().Err(err).Str("url", url).Msg("Failed to cache fetched tile")
	}
	return img, false, nil
}

func (l *Loader) requestURL(url string) string {
	if l.cfg.ProxyPath == "" {
		return url
	}
	return l.cfg.ProxyPath + "?" + url
}

func (l *Loader) fetch(ctx context.Context, url string) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("tile fetch %s: %w", url, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.requestURL(url), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("tile request %s: %w", url, err)
	}
	if l.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", l.cfg.UserAgent)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tile fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tile fetch %s: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("tile read %s: %w", url, err)
	}
	if len(body) > maxTileBytes {
		return nil, fmt.Errorf("tile fetch %s: body exceeds %d bytes", url, maxTileBytes)
	}
	return body, nil
}
