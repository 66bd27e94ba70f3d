// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package walker implements the traversal engine.
//
// A Walker is an ephemeral typed value with fields, a FIFO visit queue and
// an append-only report sequence. The Engine moves it from location to
// location and fires the abilities registered for each (location, walker)
// type pair. Walkers are never persisted.
//
// # State Machine
//
//	Spawned ─► Running ─┬─► Disengaged ─┐
//	             ▲   │  └─► Exhausted ──┴─► Completed
//	             │   ▼
//	           Suspended
//
// Running → Suspended happens inside Here.Await. A Completed walker cannot
// be run again.
//
// # Dispatch Order
//
// At a location of type T for a walker of type W:
//
//	entry: T's entry abilities triggered by W, then W's entry abilities
//	       triggered by T
//	exit:  W's exit abilities triggered by T, then T's exit abilities
//	       triggered by W
//
// Exit abilities fire when the walker moves on, and for the last location
// when the queue runs dry.
package walker

import (
	"maps"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// State is the walker lifecycle state.
type State int32

const (
	StateSpawned State = iota
	StateRunning
	StateSuspended
	StateDisengaged
	StateExhausted
	StateCompleted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateSpawned:
		return "spawned"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDisengaged:
		return "disengaged"
	case StateExhausted:
		return "exhausted"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Walker is a traversal unit.
//
// Thread Safety: Fields is owned by the spawn's goroutine of control.
// State, Location and Reports may be read from any goroutine.
type Walker struct {
	// Type is the walker type tag.
	Type string

	// Fields is the walker's state. Abilities may read and modify it.
	Fields map[string]any

	state    atomic.Int32
	location atomic.Uint64

	mu      sync.Mutex
	queue   []anchor.ID
	reports []any
}

// New creates a walker in state Spawned. Fields are copied.
func New(typ string, fields map[string]any) *Walker {
	f := maps.Clone(fields)
	if f == nil {
		f = make(map[string]any)
	}
	return &Walker{Type: typ, Fields: f}
}

// State returns the current lifecycle state.
func (w *Walker) State() State {
	return State(w.state.Load())
}

func (w *Walker) setState(s State) {
	w.state.Store(int32(s))
}

// Location returns the anchor the walker occupies. Zero before the first
// move and while visiting another walker.
func (w *Walker) Location() anchor.ID {
	return anchor.ID(w.location.Load())
}

func (w *Walker) setLocation(id anchor.ID) {
	w.location.Store(uint64(id))
}

// Reports returns a copy of the reports accumulated so far.
func (w *Walker) Reports() []any {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]any, len(w.reports))
	copy(out, w.reports)
	return out
}

// Pending returns the number of queued visits.
func (w *Walker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

func (w *Walker) report(v any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.reports = append(w.reports, v)
}

func (w *Walker) enqueue(ids ...anchor.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = append(w.queue, ids...)
}

func (w *Walker) pop() (anchor.ID, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return 0, false
	}
	id := w.queue[0]
	w.queue = w.queue[1:]
	return id, true
}

func (w *Walker) clearQueue() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.queue = nil
}
