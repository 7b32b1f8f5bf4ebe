// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"

	"github.com/tomtom215/cartosync/internal/logging"
	"github.com/tomtom215/cartosync/internal/metrics"
)

// Topic is the single watermill topic sync notifications travel on.
const Topic = "cartosync.sync"

const (
	metaName          = "name"
	metaCorrelationID = "correlation_id"
)

// ErrBusClosed is returned after Close.
var ErrBusClosed = errors.New("event bus closed")

// BusConfig tunes the in-process bus.
type BusConfig struct {
	// SubscriberBuffer is the per-subscriber queue. Events beyond it are
	// dropped for that subscriber only.
	SubscriberBuffer int
}

// Bus is an in-process pub/sub for sync notifications backed by a
// watermill GoChannel. Publishing waits for each subscriber to take the
// message, which keeps delivery ordered, but subscribers never block
// the publisher beyond that hand-off.
type Bus struct {
	pubsub *gochannel.GoChannel
	buffer int

	mu     sync.RWMutex
	closed bool
}

// NewBus creates a bus.
func NewBus(cfg BusConfig) *Bus {
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = 64
	}
	logger := watermill.NewSlogLogger(logging.NewSlogLogger())
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            int64(cfg.SubscriberBuffer),
			BlockPublishUntilSubscriberAck: true,
		}, logger),
		buffer: cfg.SubscriberBuffer,
	}
}

// Emit implements Emitter.
func (b *Bus) Emit(ctx context.Context, name Name, payload interface{}) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}

	ev := Event{
		ID:            watermill.NewUUID(),
		Name:          name,
		At:            time.Now().UTC(),
		CorrelationID: logging.CorrelationIDFromContext(ctx),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", name, err)
		}
		ev.Payload = data
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	msg := message.NewMessage(ev.ID, data)
	msg.Metadata.Set(metaName, string(name))
	if ev.CorrelationID != "" {
		msg.Metadata.Set(metaCorrelationID, ev.CorrelationID)
	}
	if err := b.pubsub.Publish(Topic, msg); err != nil {
		return fmt.Errorf("publish %s: %w", name, err)
	}

	logging.Ctx(ctx).Debug().Str("event", string(name)).Msg("Sync event emitted")
	return nil
}

// Subscribe implements Subscriber. The returned channel is closed when ctx
// ends or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return nil, ErrBusClosed
	}

	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	out := make(chan Event, b.buffer)
	metrics.EventSubscribers.Inc()
	go func() {
		defer metrics.EventSubscribers.Dec()
		defer close(out)
		for msg := range msgs {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logging.Warn().Err(err).Str("message_id", msg.UUID).Msg("Dropping undecodable sync event")
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- ev:
			default:
				logging.Warn().Str("event", string(ev.Name)).Msg("Subscriber queue full, dropping sync event")
			}
		}
	}()
	return out, nil
}

// Close shuts the bus down and ends every subscription.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}
