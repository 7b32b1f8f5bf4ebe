// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package orchestrator

// State is the connectivity state of the orchestrator.
type State string

const (
	// StateOnline passes edits straight to the feature service.
	StateOnline State = "ONLINE"
	// StateOffline queues every edit locally.
	StateOffline State = "OFFLINE"
	// StateReconnecting is held while queued edits are replayed. Edits
	// arriving meanwhile are queued.
	StateReconnecting State = "RECONNECTING"
)

var allStates = []string{string(StateOnline), string(StateOffline), string(StateReconnecting)}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateOnline, StateOffline, StateReconnecting:
		return true
	}
	return false
}
