// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package websocket

import (
	"context"
	"errors"

	"github.com/tomtom215/cartosync/internal/events"
	"github.com/tomtom215/cartosync/internal/logging"
)

// Relay forwards bus events to the hub.
type Relay struct {
	source events.Subscriber
	hub    *Hub
}

// NewRelay returns a relay from source to hub.
func NewRelay(source events.Subscriber, hub *Hub) *Relay {
	return &Relay{source: source, hub: hub}
}

// Serve implements suture.Service. It returns when ctx ends; a closed
// subscription is reported as an error so the supervisor resubscribes.
func (r *Relay) Serve(ctx context.Context) error {
	sub, err := r.source.Subscribe(ctx)
	if err != nil {
		return err
	}
	logging.Debug().Msg("websocket relay subscribed")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errors.New("event subscription closed")
			}
			r.hub.BroadcastEvent(ev)
		}
	}
}

func (r *Relay) String() string {
	return "websocket-relay"
}
