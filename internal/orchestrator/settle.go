// Cartosync - Offline Map Editing Queue and Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cartosync

package orchestrator

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Settled is the outcome of one task run by Settle.
type Settled[T any] struct {
	Value T
	Err   error
}

// Settle runs fn for every index in [0, n) with at most limit tasks in
// flight and waits for all of them. A failing task never cancels the
// others; its error is kept at its index. A panic in a task is recovered
// and reported as that task's error. limit <= 0 means unbounded.
func Settle[T any](ctx context.Context, n, limit int, fn func(ctx context.Context, i int) (T, error)) []Settled[T] {
	out := make([]Settled[T], n)
	if n == 0 {
		return out
	}

	// A plain Group, not WithContext: one failure must not cancel the rest.
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i := 0; i < n; i++ {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					out[i] = Settled[T]{Err: fmt.Errorf("task %d panicked: %v", i, r)}
				}
			}()
			v, err := fn(ctx, i)
			out[i] = Settled[T]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return out
}
