// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package orchestrator is the connectivity state machine in front of the
// feature service. While online it delegates edits to the transport; while
// offline it reconciles them into the edit and attachment queues; on
// reconnect it replays the queues and prunes what the service confirmed.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/tomtom215/cartosync/internal/attachments"
	"github.com/tomtom215/cartosync/internal/edits"
	"github.com/tomtom215/cartosync/internal/events"
	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
	"github.com/tomtom215/cartosync/internal/transport"
)

// ErrReplayInProgress is returned by GoOnline while a replay is running.
var ErrReplayInProgress = errors.New("orchestrator: replay already in progress")

// ErrOfflineUnsupported is returned by offline edits when no edit queue
// could be opened.
var ErrOfflineUnsupported = errors.New("orchestrator: offline editing is not supported")

// LayerView is the display side of a layer. Before a queued ADD is
// replayed its locally drawn copy is removed, since the service will hand
// back the feature under its real id.
type LayerView interface {
	RemoveLocal(ctx context.Context, layer, objectID string)
}

// Config tunes the orchestrator.
type Config struct {
	// ReplayConcurrency bounds concurrent transport calls during replay.
	// Zero means one call per queued record, all at once.
	ReplayConcurrency int
	// InitialState defaults to ONLINE.
	InitialState State
}

// Orchestrator routes edits by connectivity state.
type Orchestrator struct {
	edits       *edits.Queue
	attachments *attachments.Queue
	client      transport.Client
	emitter     events.Emitter
	view        LayerView
	cfg         Config

	stateMu sync.RWMutex
	state   State

	// writeMu serializes local queue writers: offline edits and replay
	// cleanup.
	writeMu sync.Mutex

	replaying sync.Mutex
}

// New wires an orchestrator. emitter may be nil. A nil editQueue leaves
// online pass-through working and reports offline editing as unsupported.
func New(editQueue *edits.Queue, attachmentQueue *attachments.Queue, client transport.Client, emitter events.Emitter, cfg Config) *Orchestrator {
	if emitter == nil {
		emitter = events.Discard
	}
	if !cfg.InitialState.Valid() {
		cfg.InitialState = StateOnline
	}
	o := &Orchestrator{
		edits:       editQueue,
		attachments: attachmentQueue,
		client:      client,
		emitter:     emitter,
		cfg:         cfg,
		state:       cfg.InitialState,
	}
	metrics.SetConnectivityState(string(o.state), allStates...)
	return o
}

// SetLayerView registers the display hook used during replay.
func (o *Orchestrator) SetLayerView(v LayerView) {
	o.view = v
}

// State returns the current state.
func (o *Orchestrator) State() State {
	o.stateMu.RLock()
	defer o.stateMu.RUnlock()
	return o.state
}

func (o *Orchestrator) setState(ctx context.Context, s State) {
	o.stateMu.Lock()
	prev := o.state
	o.state = s
	o.stateMu.Unlock()
	if prev != s {
		metrics.SetConnectivityState(string(s), allStates...)
		logging.Ctx(ctx).Info().Str("from", string(prev)).Str("state", string(s)).Msg("Connectivity state changed")
	}
}

// finishReconnect moves RECONNECTING to ONLINE. A GoOffline that arrived
// during replay wins.
func (o *Orchestrator) finishReconnect(ctx context.Context) {
	o.stateMu.Lock()
	if o.state != StateReconnecting {
		o.stateMu.Unlock()
		return
	}
	o.state = StateOnline
	o.stateMu.Unlock()
	metrics.SetConnectivityState(string(StateOnline), allStates...)
	logging.Ctx(ctx).Info().Str("from", string(StateReconnecting)).Str("state", string(StateOnline)).Msg("Connectivity state changed")
}

// GoOffline switches to OFFLINE immediately.
func (o *Orchestrator) GoOffline(ctx context.Context) {
	o.setState(ctx, StateOffline)
}

// OfflineSupported reports whether edits can be queued.
func (o *Orchestrator) OfflineSupported() bool {
	return o.edits != nil
}

// Edits returns the edit queue.
func (o *Orchestrator) Edits() *edits.Queue {
	return o.edits
}

// Attachments returns the attachment queue.
func (o *Orchestrator) Attachments() *attachments.Queue {
	return o.attachments
}

// ApplyResult is the answer to ApplyEdit. Result slices line up with the
// submitted features. When Queued is true the results describe local
// queueing, and ObjectID carries the temporary id assigned to an ADD.
type ApplyResult struct {
	Queued  bool `json:"queued"`
	Success bool `json:"success"`
	transport.BulkEditResult
}

func (r *ApplyResult) allSucceeded() bool {
	for _, set := range [][]transport.EditResult{r.AddResults, r.UpdateResults, r.DeleteResults} {
		for _, res := range set {
			if !res.Success {
				return false
			}
		}
	}
	return true
}

// ApplyEdit applies adds, updates and deletes to layer. Online, the call
// goes to the feature service and EDITS_SENT is emitted. Otherwise every
// feature is reconciled and queued on its own, so one bad feature does
// not stop the rest; EDITS_ENQUEUED or EDITS_ENQUEUED_ERROR follows.
//
// ADD features are given a fresh temporary id in place.
func (o *Orchestrator) ApplyEdit(ctx context.Context, layer string, adds, updates, deletes []*geojson.Feature) (*ApplyResult, error) {
	if o.State() == StateOnline {
		res, err := o.client.ApplyBulkEdit(ctx, layer, adds, updates, deletes)
		if err != nil {
			return nil, err
		}
		out := &ApplyResult{BulkEditResult: *res}
		out.Success = out.allSucceeded()
		o.emit(ctx, events.EditsSent, out)
		return out, nil
	}

	if o.edits == nil {
		return nil, ErrOfflineUnsupported
	}

	o.writeMu.Lock()
	out := &ApplyResult{Queued: true}
	out.AddResults = o.enqueueBatch(ctx, layer, edits.OpAdd, adds)
	out.UpdateResults = o.enqueueBatch(ctx, layer, edits.OpUpdate, updates)
	out.DeleteResults = o.enqueueBatch(ctx, layer, edits.OpDelete, deletes)
	o.writeMu.Unlock()

	out.Success = out.allSucceeded()
	if out.Success {
		o.emit(ctx, events.EditsEnqueued, out)
	} else {
		o.emit(ctx, events.EditsEnqueuedError, out)
	}
	o.refreshUsage(ctx)
	return out, nil
}

// enqueueBatch must be called with writeMu held.
func (o *Orchestrator) enqueueBatch(ctx context.Context, layer string, op edits.Operation, features []*geojson.Feature) []transport.EditResult {
	results := make([]transport.EditResult, len(features))
	for i, f := range features {
		res, err := o.enqueueOne(ctx, layer, op, f)
		if err != nil {
			logging.Ctx(ctx).Warn().Err(err).Str("layer", layer).Str("operation", string(op)).Msg("Failed to queue edit")
			res.Success = false
			res.Error = err.Error()
		}
		results[i] = res
	}
	return results
}

func (o *Orchestrator) enqueueOne(ctx context.Context, layer string, op edits.Operation, f *geojson.Feature) (transport.EditResult, error) {
	if f == nil {
		return transport.EditResult{}, edits.ErrNilFeature
	}
	codec := o.edits.Codec()

	if op == edits.OpAdd {
		tmp, err := o.edits.NextTempID(ctx, layer)
		if err != nil {
			return transport.EditResult{}, err
		}
		codec.SetObjectID(f, tmp)
	}

	v, err := o.edits.Validate(ctx, f, layer, op)
	if err != nil {
		return transport.EditResult{}, err
	}
	oid, err := codec.ObjectID(layer, f)
	if err != nil {
		return transport.EditResult{}, err
	}
	res := transport.EditResult{Success: true, ObjectID: numericID(oid)}
	if !v.Accept {
		return res, nil
	}

	if _, err := o.edits.Enqueue(ctx, v.Operation, layer, v.Feature); err != nil {
		return res, err
	}
	marker, err := edits.NewPhantomMarker(oid, v.Operation, v.Feature)
	if err != nil {
		return res, err
	}
	if err := o.edits.Phantoms().Add(ctx, marker); err != nil {
		return res, err
	}
	return res, nil
}

func (o *Orchestrator) emit(ctx context.Context, name events.Name, payload interface{}) {
	if err := o.emitter.Emit(ctx, name, payload); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("event", string(name)).Msg("Failed to emit sync event")
	}
}

func (o *Orchestrator) refreshUsage(ctx context.Context) {
	if o.edits != nil {
		if _, err := o.edits.Usage(ctx); err != nil {
			logging.Ctx(ctx).Debug().Err(err).Msg("Edit usage refresh failed")
		}
	}
	if o.attachments != nil {
		if _, err := o.attachments.Usage(ctx); err != nil {
			logging.Ctx(ctx).Debug().Err(err).Msg("Attachment usage refresh failed")
		}
	}
}

func numericID(oid string) int64 {
	n, err := strconv.ParseInt(oid, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func isTempID(oid string) bool {
	n, err := strconv.ParseInt(oid, 10, 64)
	return err == nil && n < 0
}

// Reset discards every queued edit, phantom marker, layer definition and
// attachment. It fails with ErrReplayInProgress while a replay runs.
func (o *Orchestrator) Reset(ctx context.Context) error {
	if !o.replaying.TryLock() {
		return ErrReplayInProgress
	}
	defer o.replaying.Unlock()
	if o.edits == nil {
		return ErrOfflineUnsupported
	}

	o.writeMu.Lock()
	defer o.writeMu.Unlock()
	if err := o.edits.Reset(ctx); err != nil {
		return fmt.Errorf("reset edit queue: %w", err)
	}
	if o.attachments != nil {
		if err := o.attachments.Reset(ctx); err != nil {
			return fmt.Errorf("reset attachment queue: %w", err)
		}
	}
	o.refreshUsage(ctx)
	logging.Ctx(ctx).Warn().Msg("Offline queues reset")
	return nil
}
