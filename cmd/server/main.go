// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package main runs the Cartosync sync engine with its local admin API.
//
// Startup order:
//
//  1. Configuration (koanf: defaults, config.yaml, environment)
//  2. Logging
//  3. Stores for edits, attachments and tiles. A store that cannot be
//     opened is reported and the matching feature runs as unsupported.
//  4. Feature service transport behind a circuit breaker
//  5. Event bus, orchestrator, connectivity monitor, tile loader
//  6. Supervisor tree: store maintenance, monitor, websocket hub and
//     relay, HTTP server
//
// SIGINT and SIGTERM stop the tree; stores are closed last.
//
// Example:
//
//	export TRANSPORT_PING_URL=https://maps.example.com/FeatureServer
//	export STORE_DIR=/var/lib/cartosync
//	./cartosync
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/cartosync/internal/api"
	"github.com/tomtom215/cartosync/internal/attachments"
	"github.com/tomtom215/cartosync/internal/config"
	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/events"
	"github.com/tomtom215/cartosync/internal/kvstore"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/orchestrator"
	"github.com/tomtom215/cartosync/internal/supervisor"
	"github.com/tomtom215/cartosync/internal/supervisor/services"
	"github.com/tomtom215/cartosync/internal/tiles"
	"github.com/tomtom215/cartosync/internal/websocket"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("version", version).
		Str("store_dir", cfg.Store.Dir).
		Bool("in_memory", cfg.Store.InMemory).
		Str("initial_state", cfg.Sync.InitialState).
		Msg("Starting Cartosync")

	st := openStores(&cfg.Store)
	defer st.closeAll()

	var (
		editQueue       *edits.Queue
		attachmentQueue *attachments.Queue
	)
	if st.edits != nil {
		editQueue = edits.NewQueue(st.edits, edits.NewCodec(cfg.Queue.UniqueIDAttribute))
	}
	if st.attachments != nil {
		attachmentQueue = attachments.NewQueue(st.attachments)
		if editQueue != nil {
			editQueue.SetAttachmentPurger(attachmentQueue)
		}
	}

	client, breaker := buildClient(&cfg.Transport)

	bus := events.NewBus(events.BusConfig{SubscriberBuffer: int(cfg.Events.SubscriberBuffer)})
	defer func() {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}()

	orch := orchestrator.New(editQueue, attachmentQueue, client, bus, orchestrator.Config{
		ReplayConcurrency: cfg.Sync.ReplayConcurrency,
		InitialState:      orchestrator.State(cfg.Sync.InitialState),
	})
	monitor := orchestrator.NewMonitor(orch, client, orchestrator.MonitorConfig{
		Interval:      cfg.Sync.ProbeInterval,
		ProbeTimeout:  cfg.Sync.ProbeTimeout,
		AutoReconnect: cfg.Sync.AutoReconnect,
	})

	var (
		tileCache  *tiles.Cache
		tileLoader *tiles.Loader
	)
	if st.tiles != nil {
		tileCache = tiles.NewCache(st.tiles).WithMemory(cfg.Tiles.MemoryBytes, cfg.Tiles.MemoryTTL)
		tileLoader = tiles.NewLoader(tileCache, nil, tiles.LoaderConfig{
			Rate:      cfg.Tiles.FetchRate,
			Burst:     cfg.Tiles.FetchBurst,
			Timeout:   cfg.Tiles.Timeout,
			ProxyPath: cfg.Transport.ProxyPath,
			UserAgent: cfg.Tiles.UserAgent,
		})
	}

	var breakerState api.BreakerState
	if breaker != nil {
		breakerState = breaker
	}

	hub := websocket.NewHub()
	handler := api.NewHandler(api.Config{
		Orchestrator:   orch,
		Monitor:        monitor,
		Tiles:          tileCache,
		TileLoader:     tileLoader,
		Hub:            hub,
		Breaker:        breakerState,
		AllowedOrigins: cfg.Events.AllowedOrigins,
		RateLimit: api.RateLimitConfig{
			Requests: cfg.Server.RateLimitRequests,
			Window:   cfg.Server.RateLimitWindow,
		},
		Version: version,
	})
	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	if open := st.open(); len(open) > 0 {
		tree.AddStorageService(kvstore.NewMaintainer(cfg.Store.GCInterval, open...))
	}
	tree.AddSyncService(monitor)
	tree.AddSyncService(hub)
	tree.AddSyncService(websocket.NewRelay(bus, hub))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}
	logging.Info().Msg("Cartosync stopped")
}
