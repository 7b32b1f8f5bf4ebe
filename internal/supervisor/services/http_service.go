// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/tomtom215/cartosync/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
//
// Tests substitute a fake so the lifecycle can be checked without binding
// a port. Satisfied by *http.Server:
//   - ListenAndServe() error
//   - Shutdown(ctx context.Context) error
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs the admin API server as a supervised service.
//
// It bridges the blocking ListenAndServe call and suture's context-aware
// Serve:
//
//  1. ListenAndServe runs in its own goroutine
//  2. Serve waits for ctx to end or the server to fail
//  3. On ctx end, Shutdown drains open requests within shutdownTimeout
//
// A listener failure (port in use, for example) is returned so the API
// layer of the supervisor tree restarts the service with backoff.
//
// Example usage:
//
//	server := &http.Server{Addr: cfg.Server.Addr(), Handler: router}
//	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

// NewHTTPServerService wraps server for the supervisor tree.
//
// shutdownTimeout bounds how long in-flight requests (a replay started via
// POST /online, for example) may run once shutdown begins. A non-positive
// value defaults to 10s.
func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{
		server:          server,
		shutdownTimeout: shutdownTimeout,
		name:            "http-server",
	}
}

// Serve implements suture.Service.
//
// This method:
//  1. Starts the server and logs its address when it is an *http.Server
//  2. Returns a wrapped error if ListenAndServe fails
//  3. Otherwise blocks until ctx ends and calls Shutdown on a fresh context
//
// After a clean shutdown Serve returns ctx.Err(), which suture treats as a
// normal stop. http.ErrServerClosed is never reported as a failure.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	if srv, ok := h.server.(*http.Server); ok {
		logging.Info().Str("addr", srv.Addr).Msg("Admin API listening")
	}

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil

	case <-ctx.Done():
		// ctx is already done; shut down on a fresh one.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()

		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		logging.Info().Msg("Admin API stopped")
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string {
	return h.name
}
