// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package walker

import (
	"context"
	"fmt"
	"maps"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/execctx"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/index"
)

// Here is what an ability body sees: the walker, the location and the
// execution context.
//
// Thread Safety: Valid only for the duration of the ability call.
type Here struct {
	engine  *Engine
	ec      *execctx.Context
	walker  *Walker
	loc     *location
	ability string
	phase   Phase
}

// Walker returns the walker being dispatched.
func (h *Here) Walker() *Walker { return h.walker }

// Context returns the execution context.
func (h *Here) Context() *execctx.Context { return h.ec }

// Graph returns the graph index bound to the execution context's scope.
func (h *Here) Graph() *index.Graph { return h.ec.Graph() }

// Ability returns the name of the running ability.
func (h *Here) Ability() string { return h.ability }

// Phase returns the running ability's phase.
func (h *Here) Phase() Phase { return h.phase }

// ID returns the location anchor's ID. Zero while visiting a walker.
func (h *Here) ID() anchor.ID { return h.loc.id }

// Kind returns the location kind.
func (h *Here) Kind() anchor.Kind { return h.loc.kind }

// Type returns the location type.
func (h *Here) Type() string { return h.loc.typ }

// Location returns the location anchor as loaded on arrival, or nil while
// visiting a walker. Use Reload after changing it through the graph.
func (h *Here) Location() *anchor.Anchor { return h.loc.anchor }

// Host returns the visited walker, or nil at a node or edge.
func (h *Here) Host() *Walker { return h.loc.host }

// Reload refreshes the location anchor from the session. A walker location
// has no anchor and returns anchor.ErrKindMismatch.
func (h *Here) Reload(ctx context.Context) (*anchor.Anchor, error) {
	if h.loc.host != nil {
		return nil, fmt.Errorf("location is walker %q: %w", h.loc.typ, anchor.ErrKindMismatch)
	}
	a, err := h.ec.Graph().Get(ctx, h.loc.id)
	if err != nil {
		return nil, err
	}
	h.loc.anchor = a
	return a, nil
}

// Update merges fields into the location anchor's current fields and
// refreshes it. Use Graph().Update to replace them.
func (h *Here) Update(ctx context.Context, fields map[string]any) (*anchor.Anchor, error) {
	if h.loc.host != nil {
		return nil, fmt.Errorf("location is walker %q: %w", h.loc.typ, anchor.ErrKindMismatch)
	}
	cur, err := h.ec.Graph().Get(ctx, h.loc.id)
	if err != nil {
		return nil, err
	}
	merged := maps.Clone(cur.Fields)
	if merged == nil {
		merged = make(map[string]any, len(fields))
	}
	maps.Copy(merged, fields)
	a, err := h.ec.Graph().Update(ctx, h.loc.id, merged)
	if err != nil {
		return nil, err
	}
	h.loc.anchor = a
	return a, nil
}

// Outgoing returns the location's outbound neighbors.
func (h *Here) Outgoing(ctx context.Context, filters ...index.Filter) ([]anchor.ID, error) {
	return h.ec.Graph().Outgoing(ctx, h.loc.id, filters...)
}

// Incoming returns the location's inbound neighbors.
func (h *Here) Incoming(ctx context.Context, filters ...index.Filter) ([]anchor.ID, error) {
	return h.ec.Graph().Incoming(ctx, h.loc.id, filters...)
}

// Visit appends ids to the walker's queue in order. Duplicates are kept.
func (h *Here) Visit(ids ...anchor.ID) {
	h.walker.enqueue(ids...)
}

// VisitElse appends ids to the queue, or runs fallback once when ids is
// empty. It returns fallback's error.
func (h *Here) VisitElse(ids []anchor.ID, fallback func() error) error {
	if len(ids) > 0 {
		h.walker.enqueue(ids...)
		return nil
	}
	if fallback == nil {
		return nil
	}
	return fallback()
}

// Report appends v to the walker's reports.
func (h *Here) Report(v any) {
	h.walker.report(v)
}

// Spawn runs a child walker to completion in the same execution context
// and returns its result. The parent resumes when it returns.
func (h *Here) Spawn(ctx context.Context, target anchor.ID, walkerType string, args map[string]any) Result {
	return h.engine.Spawn(ctx, h.ec, target, walkerType, args)
}

// Visitor runs visitor with this walker as its host. See Engine.Visitor.
func (h *Here) Visitor(ctx context.Context, visitor *Walker) Result {
	return h.engine.Visitor(ctx, h.ec, h.walker, visitor)
}

// Await suspends the walker while fn runs.
//
// Description:
//
//	The walker is Suspended until fn returns or ctx ends, then Running
//	again. If ctx ends first Await returns ctx.Err() without waiting for
//	fn, which must itself honor ctx.
func (h *Here) Await(ctx context.Context, fn func(context.Context) error) error {
	h.walker.setState(StateSuspended)
	defer h.walker.setState(StateRunning)

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
