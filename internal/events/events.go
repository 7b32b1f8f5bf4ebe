// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

// Package events carries sync notifications from the orchestrator to
// whoever is listening: the websocket relay, tests, or an embedding
// application.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Name identifies a sync notification.
type Name string

const (
	// EditsSent: an online edit call completed. Payload is the bulk result.
	EditsSent Name = "EDITS_SENT"
	// EditsEnqueued: an offline edit call was queued. Payload lists the
	// accepted records.
	EditsEnqueued Name = "EDITS_ENQUEUED"
	// EditsEnqueuedError: at least one record of an offline call failed to
	// queue.
	EditsEnqueuedError Name = "EDITS_ENQUEUED_ERROR"
	// AllEditsSent: a replay pass confirmed every queued edit.
	AllEditsSent Name = "ALL_EDITS_SENT"
	// EditsSentError: a replay pass left some edits queued. Payload carries
	// every result of the pass.
	EditsSentError Name = "EDITS_SENT_ERROR"
	// AttachmentEnqueued: an offline attachment operation was queued.
	AttachmentEnqueued Name = "ATTACHMENT_ENQUEUED"
	// AttachmentsSent: attachment replay finished.
	AttachmentsSent Name = "ATTACHMENTS_SENT"
)

// Names lists every notification in a stable order.
func Names() []Name {
	return []Name{EditsSent, EditsEnqueued, EditsEnqueuedError, AllEditsSent, EditsSentError, AttachmentEnqueued, AttachmentsSent}
}

// Event is one delivered notification.
type Event struct {
	ID            string          `json:"id"`
	Name          Name            `json:"name"`
	At            time.Time       `json:"at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Decode unmarshals the payload into v.
func (e Event) Decode(v interface{}) error {
	return json.Unmarshal(e.Payload, v)
}

// Emitter publishes notifications. Implementations must not block the
// caller on slow listeners.
type Emitter interface {
	Emit(ctx context.Context, name Name, payload interface{}) error
}

// Subscriber hands out a stream of events until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// Discard drops every notification.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(context.Context, Name, interface{}) error { return nil }

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Emitter.
func (r *Recorder) Emit(_ context.Context, name Name, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.events = append(r.events, Event{Name: name, At: time.Now(), Payload: data})
	r.mu.Unlock()
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in order.
func (r *Recorder) Names() []Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Name, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Last returns the most recent event with the given name.
func (r *Recorder) Last(name Name) (Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Name == name {
			return r.events[i], true
		}
	}
	return Event{}, false
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Fanout sends every notification to each emitter in turn and returns the
// first error.
type Fanout []Emitter

// Emit implements Emitter.
func (f Fanout) Emit(ctx context.Context, name Name, payload interface{}) error {
	var first error
	for _, e := range f {
		if err := e.Emit(ctx, name, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
