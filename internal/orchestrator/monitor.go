// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/transport"
)

// MonitorConfig tunes the connectivity monitor.
type MonitorConfig struct {
	// Interval between probes.
	Interval time.Duration
	// ProbeTimeout bounds a single probe.
	ProbeTimeout time.Duration
	// AutoReconnect replays the queue once the service answers again.
	// Only an OFFLINE state entered by the monitor itself is left
	// automatically; a manual GoOffline sticks.
	AutoReconnect bool
}

// Monitor probes the feature service and drives the orchestrator between
// ONLINE and OFFLINE. It implements suture.Service.
type Monitor struct {
	o      *Orchestrator
	pinger transport.Pinger
	cfg    MonitorConfig

	mu sync.Mutex
	// tookOffline is set while an OFFLINE state is owned by the monitor.
	tookOffline bool
	lastErr     error
	lastProbe   time.Time
}

// NewMonitor returns a monitor for o.
func NewMonitor(o *Orchestrator, pinger transport.Pinger, cfg MonitorConfig) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 || cfg.ProbeTimeout > cfg.Interval {
		cfg.ProbeTimeout = cfg.Interval
	}
	return &Monitor{o: o, pinger: pinger, cfg: cfg}
}

// Serve implements suture.Service.
func (m *Monitor) Serve(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", m.cfg.Interval).
		Bool("auto_reconnect", m.cfg.AutoReconnect).
		Msg("Connectivity monitor started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}

func (m *Monitor) String() string {
	return "connectivity-monitor"
}

// Probe runs one connectivity check and applies the resulting transition.
func (m *Monitor) Probe(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	err := m.pinger.Ping(pctx)
	cancel()
	if ctx.Err() != nil {
		return
	}

	m.mu.Lock()
	m.lastErr = err
	m.lastProbe = time.Now()
	took := m.tookOffline
	m.mu.Unlock()

	state := m.o.State()
	switch {
	case err != nil && state == StateOnline:
		logging.Warn().Err(err).Msg("Feature service unreachable, switching to offline mode")
		m.o.GoOffline(ctx)
		m.setTookOffline(true)

	case err == nil && state == StateOffline && took && m.cfg.AutoReconnect:
		logging.Info().Msg("Feature service reachable again, replaying queued edits")
		res, rerr := m.o.GoOnline(ctx)
		switch {
		case errors.Is(rerr, ErrReplayInProgress):
			return
		case rerr != nil:
			logging.Error().Err(rerr).Msg("Automatic replay failed")
		default:
			logging.Info().
				Bool("success", res.Success).
				Int("pending", len(res.Pending())).
				Msg("Automatic replay finished")
		}
		m.setTookOffline(false)

	case state != StateOffline:
		m.setTookOffline(false)
	}
}

func (m *Monitor) setTookOffline(v bool) {
	m.mu.Lock()
	m.tookOffline = v
	m.mu.Unlock()
}

// MonitorStatus is the last probe outcome.
type MonitorStatus struct {
	LastProbe time.Time `json:"last_probe"`
	Reachable bool      `json:"reachable"`
	Error     string    `json:"error,omitempty"`
}

// Status returns the last probe outcome.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := MonitorStatus{LastProbe: m.lastProbe, Reachable: m.lastErr == nil && !m.lastProbe.IsZero()}
	if m.lastErr != nil {
		st.Error = m.lastErr.Error()
	}
	return st
}
