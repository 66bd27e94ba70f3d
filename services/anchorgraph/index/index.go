// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index provides adjacency queries and graph mutations over a
// session's view of the anchor store.
//
// Adjacency lives on the node anchors themselves: Out lists edges the node
// is the source of, In lists edges it is the target of. A query merges both
// lists, keeps the edges traversable in the requested direction and returns
// them in edge creation order (ascending edge ID). Every anchor the Graph
// reads or writes is checked against its Scope; a denied access is a
// *anchor.PermissionError, never an empty result.
package index

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
)

// Direction selects which edges of a node a query follows.
type Direction int

const (
	// Outbound follows edges traversable away from the node.
	Outbound Direction = iota

	// Inbound follows edges traversable towards the node.
	Inbound

	// Any follows every edge attached to the node.
	Any
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case Outbound:
		return "outgoing"
	case Inbound:
		return "incoming"
	case Any:
		return "both"
	default:
		return "unknown"
	}
}

// Graph is a scoped view of the anchor graph through one session.
//
// Thread Safety: Safe for concurrent use to the extent the underlying
// session is; mutations from concurrent goroutines on the same nodes are
// last-put-wins within L1.
type Graph struct {
	session *memory.Session
	scope   Scope
}

// New binds a session to a scope.
func New(session *memory.Session, scope Scope) *Graph {
	return &Graph{session: session, scope: scope}
}

// Session returns the underlying session.
func (g *Graph) Session() *memory.Session {
	return g.session
}

// Scope returns the access scope.
func (g *Graph) Scope() Scope {
	return g.scope
}

// Get returns a readable anchor.
//
// Outputs:
//
//	*anchor.Anchor - A copy owned by the caller.
//	error - ErrNotFound (wrapped) or *anchor.PermissionError.
func (g *Graph) Get(ctx context.Context, id anchor.ID) (*anchor.Anchor, error) {
	a, err := g.session.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.scope.CheckRead(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Node returns a readable node.
//
// Outputs:
//
//	error - ErrNotFound, ErrKindMismatch or *anchor.PermissionError.
func (g *Graph) Node(ctx context.Context, id anchor.ID) (*anchor.Anchor, error) {
	return g.node(ctx, id, false)
}

// Outgoing returns the nodes reachable over one edge leaving id.
func (g *Graph) Outgoing(ctx context.Context, id anchor.ID, filters ...Filter) ([]anchor.ID, error) {
	return g.endpoints(ctx, id, Outbound, filters)
}

// Incoming returns the nodes that reach id over one edge.
func (g *Graph) Incoming(ctx context.Context, id anchor.ID, filters ...Filter) ([]anchor.ID, error) {
	return g.endpoints(ctx, id, Inbound, filters)
}

// Both returns the nodes at the other end of every edge attached to id.
func (g *Graph) Both(ctx context.Context, id anchor.ID, filters ...Filter) ([]anchor.ID, error) {
	return g.endpoints(ctx, id, Any, filters)
}

func (g *Graph) endpoints(ctx context.Context, id anchor.ID, dir Direction, filters []Filter) ([]anchor.ID, error) {
	edges, err := g.Edges(ctx, id, dir, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]anchor.ID, len(edges))
	for i, e := range edges {
		out[i] = e.Opposite(id)
	}
	return out, nil
}

// Edges returns the edge anchors attached to node id in direction dir.
//
// Description:
//
//	A forward edge is outbound at its source and inbound at its target. A
//	bidirectional edge is both at either endpoint. A self-loop appears
//	once. Results are in edge creation order; an empty result is not an
//	error. Edges that were deleted in this session are not returned.
//
// Inputs:
//
//	ctx - For tier reads.
//	id - A readable node.
//	dir - Outbound, Inbound or Any.
//	filters - All must match.
//
// Outputs:
//
//	[]*anchor.Anchor - Copies of the matching edges.
//	error - ErrNotFound, ErrKindMismatch or *anchor.PermissionError.
func (g *Graph) Edges(ctx context.Context, id anchor.ID, dir Direction, filters ...Filter) ([]*anchor.Anchor, error) {
	node, err := g.node(ctx, id, false)
	if err != nil {
		return nil, err
	}
	traversals.WithLabelValues(dir.String()).Inc()

	ids := make([]anchor.ID, 0, len(node.Out)+len(node.In))
	ids = append(ids, node.Out...)
	ids = append(ids, node.In...)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	var result []*anchor.Anchor
	for _, eid := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e, err := g.session.Load(ctx, eid)
		if errors.Is(err, anchor.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if err := g.scope.CheckRead(e); err != nil {
			return nil, err
		}
		if !traversable(e, id, dir) || !matches(e, filters) {
			continue
		}
		result = append(result, e)
	}
	return result, nil
}

// traversable reports whether edge e can be followed from node in dir.
func traversable(e *anchor.Anchor, node anchor.ID, dir Direction) bool {
	fwd := e.Dir&anchor.Forward != 0
	back := e.Dir&anchor.Backward != 0
	switch dir {
	case Outbound:
		return (e.Source == node && fwd) || (e.Target == node && back)
	case Inbound:
		return (e.Target == node && fwd) || (e.Source == node && back)
	default:
		return e.Source == node || e.Target == node
	}
}

// node loads a node and checks access.
func (g *Graph) node(ctx context.Context, id anchor.ID, write bool) (*anchor.Anchor, error) {
	return g.load(ctx, id, anchor.KindNode, write)
}

func (g *Graph) load(ctx context.Context, id anchor.ID, kind anchor.Kind, write bool) (*anchor.Anchor, error) {
	a, err := g.session.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Kind != kind {
		return nil, fmt.Errorf("anchor %d is a %s, want %s: %w", id, a.Kind, kind, anchor.ErrKindMismatch)
	}
	if write {
		err = g.scope.CheckWrite(a)
	} else {
		err = g.scope.CheckRead(a)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}
