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
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
	badgerstore "github.com/AleutianAI/anchorgraph/services/anchorgraph/storage/badger"
)

func newTestTiers(t *testing.T) *memory.Tiers {
	t.Helper()
	store, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return memory.NewTiers(store, memory.WithCache(memory.NewTTLCache(time.Minute)))
}

// newRootGraph allocates a root in a fresh session and returns a graph
// scoped to it.
func newRootGraph(t *testing.T, tiers *memory.Tiers, shared ...anchor.ID) *Graph {
	t.Helper()
	s := tiers.NewSession()
	root, err := s.Allocate(context.Background(), anchor.KindNode, anchor.TypeRoot, nil, 0)
	require.NoError(t, err)
	return New(s, RootScope{Root: root.ID, Shared: shared})
}

func createNodes(t *testing.T, g *Graph, names ...string) []anchor.ID {
	t.Helper()
	ids := make([]anchor.ID, len(names))
	for i, name := range names {
		n, err := g.CreateNode(context.Background(), "place", map[string]any{"name": name})
		require.NoError(t, err)
		ids[i] = n.ID
	}
	return ids
}

// TestGraph_OutgoingOrder verifies creation order and direction.
func TestGraph_OutgoingOrder(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b", "c", "d")
	a, b, c, d := n[0], n[1], n[2], n[3]

	for _, to := range []anchor.ID{c, b, d} {
		_, err := g.Connect(ctx, a, to)
		require.NoError(t, err)
	}

	out, err := g.Outgoing(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{c, b, d}, out)

	in, err := g.Incoming(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{a}, in)

	out, err = g.Outgoing(ctx, b)
	require.NoError(t, err)
	assert.Empty(t, out, "an empty result is not an error")

	in, err = g.Incoming(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, in)
}

// TestGraph_MixedOrder verifies outgoing and incoming edges interleave by
// creation order.
func TestGraph_MixedOrder(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b", "c")
	a, b, c := n[0], n[1], n[2]

	_, err := g.Connect(ctx, b, a)
	require.NoError(t, err)
	_, err = g.Connect(ctx, a, c)
	require.NoError(t, err)

	both, err := g.Both(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{b, c}, both)
}

// TestGraph_Bidirectional verifies one anchor serves both directions.
func TestGraph_Bidirectional(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b")
	a, b := n[0], n[1]

	e, err := g.Connect(ctx, a, b, Bidirectional(), Typed("road", map[string]any{"km": 12}))
	require.NoError(t, err)
	assert.True(t, e.Bidirectional())
	assert.Equal(t, "road", e.Type)
	assert.Equal(t, int64(12), e.Fields["km"])

	out, err := g.Outgoing(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{a}, out)

	in, err := g.Incoming(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{b}, in)

	edges, err := g.Edges(ctx, a, Outbound)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, e.ID, edges[0].ID)
}

// TestGraph_SelfLoopAndMultiEdge verifies self-loops appear once and
// parallel edges each appear.
func TestGraph_SelfLoopAndMultiEdge(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b")
	a, b := n[0], n[1]

	_, err := g.Connect(ctx, a, a)
	require.NoError(t, err)
	_, err = g.Connect(ctx, a, b)
	require.NoError(t, err)
	_, err = g.Connect(ctx, a, b)
	require.NoError(t, err)

	out, err := g.Outgoing(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{a, b, b}, out)

	in, err := g.Incoming(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{a}, in)

	both, err := g.Both(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{a, b, b}, both)
}

// TestGraph_Filters verifies type, comparison and expression filters.
func TestGraph_Filters(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "hub", "x", "y", "z")
	hub, x, y, z := n[0], n[1], n[2], n[3]

	_, err := g.Connect(ctx, hub, x, Typed("likes", map[string]any{"weight": 1}))
	require.NoError(t, err)
	_, err = g.Connect(ctx, hub, y, Typed("likes", map[string]any{"weight": 2.5}))
	require.NoError(t, err)
	_, err = g.Connect(ctx, hub, z, Typed("knows", map[string]any{"weight": 3, "since": "2019"}))
	require.NoError(t, err)

	likes, err := g.Outgoing(ctx, hub, EdgeType("likes"))
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{x, y}, likes)

	heavy, err := g.Outgoing(ctx, hub, Where("weight", Ge, 2))
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{y, z}, heavy)

	heavyLikes, err := g.Outgoing(ctx, hub, EdgeType("likes"), Where("weight", Gt, 2))
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{y}, heavyLikes)

	expr, err := Expr(`has(fields.since) && fields.since < "2020"`)
	require.NoError(t, err)
	since, err := g.Outgoing(ctx, hub, expr)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{z}, since)

	mixed, err := Expr(`type == "likes" && fields.weight > 2`)
	require.NoError(t, err)
	got, err := g.Outgoing(ctx, hub, mixed)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{y}, got)

	none, err := g.Outgoing(ctx, hub, EdgeType("unknown"))
	require.NoError(t, err)
	assert.Empty(t, none)
}

// TestWhere_Compare verifies comparison semantics on a single edge.
func TestWhere_Compare(t *testing.T) {
	e := &anchor.Anchor{Kind: anchor.KindEdge, Fields: map[string]any{
		"n":    int64(3),
		"f":    2.5,
		"s":    "beta",
		"b":    true,
		"list": []any{int64(1)},
		"big":  int64(1 << 53),
		"huge": uint64(math.MaxUint64),
	}}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"int eq float", Where("n", Eq, 3.0), true},
		{"int lt", Where("n", Lt, 4), true},
		{"int le", Where("n", Le, 3), true},
		{"float gt int", Where("f", Gt, 2), true},
		{"float ge", Where("f", Ge, 2.6), false},
		{"string lt", Where("s", Lt, "gamma"), true},
		{"string ne", Where("s", Ne, "beta"), false},
		{"bool eq", Where("b", Eq, true), true},
		{"bool ne", Where("b", Ne, false), true},
		{"bool unordered", Where("b", Gt, false), false},
		{"list eq", Where("list", Eq, []int64{1}), true},
		{"number vs string", Where("n", Eq, "3"), false},
		{"missing", Where("nope", Ne, 1), false},
		{"large int ne", Where("big", Eq, int64(1<<53+1)), false},
		{"large int lt", Where("big", Lt, int64(1<<53+1)), true},
		{"large int eq", Where("big", Eq, int64(1<<53)), true},
		{"uint above int64", Where("huge", Gt, int64(math.MaxInt64)), true},
		{"uint vs negative", Where("huge", Gt, -1), true},
		{"uint eq", Where("huge", Eq, uint64(math.MaxUint64)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter(e))
		})
	}
}

// TestExpr_Errors verifies compile-time rejection.
func TestExpr_Errors(t *testing.T) {
	_, err := Expr(`fields.weight >`)
	assert.ErrorIs(t, err, anchor.ErrValidation)

	_, err = Expr(`1 + 2`)
	assert.ErrorIs(t, err, anchor.ErrValidation)

	f, err := Expr(`fields.weight > 1`)
	require.NoError(t, err)
	assert.False(t, f(&anchor.Anchor{Kind: anchor.KindEdge}), "missing field is no match")
}

// TestGraph_KindMismatch verifies edges are not traversable as nodes.
func TestGraph_KindMismatch(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b")
	e, err := g.Connect(ctx, n[0], n[1])
	require.NoError(t, err)

	_, err = g.Outgoing(ctx, e.ID)
	assert.ErrorIs(t, err, anchor.ErrKindMismatch)
	_, err = g.Connect(ctx, e.ID, n[1])
	assert.ErrorIs(t, err, anchor.ErrKindMismatch)
	assert.ErrorIs(t, g.DeleteEdge(ctx, n[0]), anchor.ErrKindMismatch)

	_, err = g.Outgoing(ctx, 999999)
	assert.ErrorIs(t, err, anchor.ErrNotFound)
}

// TestGraph_DeleteEdgeAndDisconnect verifies detachment from both ends.
func TestGraph_DeleteEdgeAndDisconnect(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b", "c")
	a, b, c := n[0], n[1], n[2]

	e1, err := g.Connect(ctx, a, b)
	require.NoError(t, err)
	_, err = g.Connect(ctx, a, b, Typed("other", nil))
	require.NoError(t, err)
	_, err = g.Connect(ctx, b, a, Bidirectional())
	require.NoError(t, err)
	_, err = g.Connect(ctx, a, c)
	require.NoError(t, err)

	require.NoError(t, g.DeleteEdge(ctx, e1.ID))
	_, err = g.Get(ctx, e1.ID)
	assert.ErrorIs(t, err, anchor.ErrNotFound)
	in, err := g.Incoming(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{a, a}, in, "the typed edge and the bidirectional edge remain")

	removed, err := g.Disconnect(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, removed, "the typed edge and the bidirectional edge")

	out, err := g.Outgoing(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{c}, out)

	removed, err = g.Disconnect(ctx, a, b)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

// TestGraph_DisconnectFiltered verifies filters narrow Disconnect.
func TestGraph_DisconnectFiltered(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b")

	_, err := g.Connect(ctx, n[0], n[1], Typed("keep", nil))
	require.NoError(t, err)
	_, err = g.Connect(ctx, n[0], n[1], Typed("drop", nil))
	require.NoError(t, err)

	removed, err := g.Disconnect(ctx, n[0], n[1], EdgeType("drop"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	edges, err := g.Edges(ctx, n[0], Outbound)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "keep", edges[0].Type)
}

// TestGraph_DeleteNode verifies edge cascade and root protection.
func TestGraph_DeleteNode(t *testing.T) {
	ctx := context.Background()
	g := newRootGraph(t, newTestTiers(t))
	n := createNodes(t, g, "a", "b", "c")
	a, b, c := n[0], n[1], n[2]

	_, err := g.Connect(ctx, a, b)
	require.NoError(t, err)
	_, err = g.Connect(ctx, b, c)
	require.NoError(t, err)
	_, err = g.Connect(ctx, b, b)
	require.NoError(t, err)

	require.NoError(t, g.DeleteNode(ctx, b))
	_, err = g.Get(ctx, b)
	assert.ErrorIs(t, err, anchor.ErrNotFound)

	out, err := g.Outgoing(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, out)
	in, err := g.Incoming(ctx, c)
	require.NoError(t, err)
	assert.Empty(t, in)

	root := g.Scope().Owner()
	assert.ErrorIs(t, g.DeleteNode(ctx, root), anchor.ErrValidation)
}

// TestGraph_Update verifies schema checks on field replacement.
func TestGraph_Update(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers(t)
	require.NoError(t, tiers.Types().Define(anchor.TypeDef{
		Kind:     anchor.KindNode,
		Name:     "person",
		Schema:   map[string]string{"age": "gte=0"},
		Defaults: map[string]any{"age": 0},
	}))
	g := newRootGraph(t, tiers)

	p, err := g.CreateNode(ctx, "person", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), p.Fields["age"])

	updated, err := g.Update(ctx, p.ID, map[string]any{"name": "ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, int64(36), updated.Fields["age"])

	_, err = g.Update(ctx, p.ID, map[string]any{"age": -1})
	assert.ErrorIs(t, err, anchor.ErrValidation)

	got, err := g.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(36), got.Fields["age"])
}

// TestGraph_Scope verifies cross-root access is denied, not hidden.
func TestGraph_Scope(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers(t)

	system := newRootGraph(t, tiers)
	sysRoot := system.Scope().Owner()
	shared := createNodes(t, system, "lobby")[0]
	require.NoError(t, system.Session().Commit(ctx))

	alice := newRootGraph(t, tiers, sysRoot)
	mine := createNodes(t, alice, "home")[0]
	require.NoError(t, alice.Session().Commit(ctx))

	bob := newRootGraph(t, tiers, sysRoot)

	_, err := bob.Get(ctx, mine)
	var perr *anchor.PermissionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "read", perr.Op)
	assert.Equal(t, alice.Scope().Owner(), perr.Owner)

	_, err = bob.Outgoing(ctx, mine)
	assert.ErrorIs(t, err, anchor.ErrPermissionDenied)

	lobby, err := bob.Get(ctx, shared)
	require.NoError(t, err, "system anchors are readable")
	assert.Equal(t, "lobby", lobby.Fields["name"])

	_, err = bob.Update(ctx, shared, map[string]any{"name": "mine now"})
	assert.ErrorIs(t, err, anchor.ErrPermissionDenied)

	home := createNodes(t, bob, "home")[0]
	_, err = bob.Connect(ctx, home, shared)
	assert.ErrorIs(t, err, anchor.ErrPermissionDenied, "linking changes the shared node")
	_, err = bob.Connect(ctx, home, mine)
	assert.ErrorIs(t, err, anchor.ErrPermissionDenied)
}

// TestGraph_PersistedAdjacency verifies adjacency survives commit and a
// fresh session reading from lower tiers.
func TestGraph_PersistedAdjacency(t *testing.T) {
	ctx := context.Background()
	tiers := newTestTiers(t)
	g := newRootGraph(t, tiers)
	n := createNodes(t, g, "a", "b", "c")
	_, err := g.Connect(ctx, n[0], n[1])
	require.NoError(t, err)
	_, err = g.Connect(ctx, n[0], n[2], Typed("t", map[string]any{"w": 1}))
	require.NoError(t, err)
	require.NoError(t, g.Session().Commit(ctx))

	fresh := New(tiers.NewSession(), g.Scope())
	out, err := fresh.Outgoing(ctx, n[0])
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{n[1], n[2]}, out)

	typed, err := fresh.Outgoing(ctx, n[0], Where("w", Eq, 1))
	require.NoError(t, err)
	assert.Equal(t, []anchor.ID{n[2]}, typed)
}
