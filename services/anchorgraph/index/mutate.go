// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"errors"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// ConnectOption configures Connect.
type ConnectOption func(*connectConfig)

type connectConfig struct {
	typ    string
	fields map[string]any
	dir    anchor.Direction
}

// Typed gives the new edge a type tag and initial fields.
func Typed(typ string, fields map[string]any) ConnectOption {
	return func(c *connectConfig) {
		c.typ = typ
		c.fields = fields
	}
}

// Bidirectional makes the new edge traversable both ways.
func Bidirectional() ConnectOption {
	return func(c *connectConfig) {
		c.dir = anchor.Both
	}
}

// CreateNode allocates a node owned by the scope's root.
//
// Outputs:
//
//	*anchor.Anchor - A copy of the new node.
//	error - *anchor.ValidationError if fields fail the type schema.
func (g *Graph) CreateNode(ctx context.Context, typ string, fields map[string]any) (*anchor.Anchor, error) {
	a, err := g.session.Allocate(ctx, anchor.KindNode, typ, fields, g.scope.Owner())
	if err != nil {
		return nil, err
	}
	mutations.WithLabelValues("create_node").Inc()
	return a, nil
}

// Connect creates an edge from one node to another.
//
// Description:
//
//	Without options the edge has type "edge", no fields and is forward
//	only. Both endpoints must be writable because both adjacency lists
//	change. Self-loops and parallel edges are allowed.
//
// Inputs:
//
//	ctx - For tier reads.
//	from - Source node.
//	to - Target node.
//	opts - Typed and Bidirectional.
//
// Outputs:
//
//	*anchor.Anchor - A copy of the new edge.
//	error - ErrNotFound, ErrKindMismatch, *anchor.PermissionError or
//	  *anchor.ValidationError. Endpoint checks run before anything
//	  changes.
func (g *Graph) Connect(ctx context.Context, from, to anchor.ID, opts ...ConnectOption) (*anchor.Anchor, error) {
	cfg := connectConfig{typ: anchor.TypeEdge, dir: anchor.Forward}
	for _, opt := range opts {
		opt(&cfg)
	}

	src, err := g.node(ctx, from, true)
	if err != nil {
		return nil, err
	}
	dst := src
	if to != from {
		if dst, err = g.node(ctx, to, true); err != nil {
			return nil, err
		}
	}

	edge, err := g.session.Allocate(ctx, anchor.KindEdge, cfg.typ, cfg.fields, g.scope.Owner())
	if err != nil {
		return nil, err
	}
	edge.Source, edge.Target, edge.Dir = from, to, cfg.dir
	if err := g.session.Put(edge); err != nil {
		return nil, err
	}

	src.Out = append(src.Out, edge.ID)
	dst.In = append(dst.In, edge.ID)
	if err := g.session.Put(src); err != nil {
		return nil, err
	}
	if dst != src {
		if err := g.session.Put(dst); err != nil {
			return nil, err
		}
	}
	mutations.WithLabelValues("connect").Inc()
	return edge, nil
}

// Disconnect deletes every edge followable from one node to another.
//
// Outputs:
//
//	int - Number of edges deleted. Zero is not an error.
//	error - As Edges and DeleteEdge.
func (g *Graph) Disconnect(ctx context.Context, from, to anchor.ID, filters ...Filter) (int, error) {
	edges, err := g.Edges(ctx, from, Outbound, filters...)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range edges {
		if e.Opposite(from) != to {
			continue
		}
		if err := g.DeleteEdge(ctx, e.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// DeleteEdge detaches an edge from its endpoints and deletes it.
func (g *Graph) DeleteEdge(ctx context.Context, id anchor.ID) error {
	edge, err := g.load(ctx, id, anchor.KindEdge, true)
	if err != nil {
		return err
	}
	ends := []anchor.ID{edge.Source}
	if edge.Target != edge.Source {
		ends = append(ends, edge.Target)
	}
	for _, end := range ends {
		n, err := g.node(ctx, end, true)
		if errors.Is(err, anchor.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		n.DetachEdge(id)
		if err := g.session.Put(n); err != nil {
			return err
		}
	}
	if err := g.session.Delete(ctx, id); err != nil {
		return err
	}
	mutations.WithLabelValues("delete_edge").Inc()
	return nil
}

// DeleteNode deletes a node and every edge attached to it. Roots cannot
// be deleted.
func (g *Graph) DeleteNode(ctx context.Context, id anchor.ID) error {
	n, err := g.node(ctx, id, true)
	if err != nil {
		return err
	}
	if n.IsRoot() {
		return anchor.NewValidationError(n.Type, "", "root nodes cannot be deleted")
	}
	edges, err := g.Edges(ctx, id, Any)
	if err != nil {
		return err
	}
	for _, e := range edges {
		if err := g.DeleteEdge(ctx, e.ID); err != nil {
			return err
		}
	}
	if err := g.session.Delete(ctx, id); err != nil {
		return err
	}
	mutations.WithLabelValues("delete_node").Inc()
	return nil
}

// Update replaces the fields of a writable node or edge.
//
// Description:
//
//	The new fields are checked against the anchor's type schema, with
//	defaults filled, exactly as on creation. Adjacency and ownership are
//	unchanged.
//
// Outputs:
//
//	*anchor.Anchor - A copy of the updated anchor.
//	error - ErrNotFound, *anchor.PermissionError or *anchor.ValidationError.
func (g *Graph) Update(ctx context.Context, id anchor.ID, fields map[string]any) (*anchor.Anchor, error) {
	a, err := g.session.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := g.scope.CheckWrite(a); err != nil {
		return nil, err
	}
	checked, err := g.session.Tiers().Types().Check(a.Kind, a.Type, fields)
	if err != nil {
		return nil, err
	}
	a.Fields = checked
	if err := g.session.Put(a); err != nil {
		return nil, err
	}
	mutations.WithLabelValues("update").Inc()
	return a, nil
}
