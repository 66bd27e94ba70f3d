// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// link wires a forward edge between two nodes.
func link(t *testing.T, s *Store, from, to *anchor.Anchor) *anchor.Anchor {
	t.Helper()
	id, err := s.NextID(context.Background())
	require.NoError(t, err)
	e := &anchor.Anchor{
		ID: id, Kind: anchor.KindEdge, Type: anchor.TypeEdge, Root: from.Root,
		Fields: map[string]any{}, Source: from.ID, Target: to.ID, Dir: anchor.Forward,
	}
	from.Out = append(from.Out, id)
	to.In = append(to.In, id)
	return e
}

// TestStore_Collect verifies reachable anchors survive and orphans are
// reclaimed, including orphaned subgraphs with cycles.
func TestStore_Collect(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	root := newRoot(t, s)
	_, _, err := s.BindRoot(ctx, "frank", root)
	require.NoError(t, err)

	a := newNode(t, s, root.ID, "a", nil)
	b := newNode(t, s, root.ID, "b", nil)
	e1 := link(t, s, root, a)
	e2 := link(t, s, a, b)
	// b is reachable only against edge direction from c.
	c := newNode(t, s, root.ID, "c", nil)
	e3 := link(t, s, c, b)

	// x <-> y is a cycle nobody can reach.
	x := newNode(t, s, root.ID, "x", nil)
	y := newNode(t, s, root.ID, "y", nil)
	e4 := link(t, s, x, y)
	e5 := link(t, s, y, x)

	require.NoError(t, s.Commit(ctx, &anchor.Batch{Puts: []*anchor.Anchor{
		root, a, b, c, x, y, e1, e2, e3, e4, e5,
	}}))

	res, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Roots)
	assert.Equal(t, 11, res.Scanned)
	assert.Equal(t, 4, res.Swept)
	assert.Equal(t, 0, res.Skipped)

	for _, kept := range []*anchor.Anchor{root, a, b, c, e1, e2, e3} {
		_, err := s.Get(ctx, kept.ID)
		assert.NoError(t, err, "reachable %s was reclaimed", kept)
	}
	for _, gone := range []*anchor.Anchor{x, y, e4, e5} {
		_, err := s.Get(ctx, gone.ID)
		assert.ErrorIs(t, err, anchor.ErrNotFound, "orphan %s survived", gone)
	}

	owned, err := s.OwnedBy(ctx, root.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 7)

	res, err = s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Swept)
}

// TestStore_SweepSkipsTouched verifies an anchor committed after the scan
// is not reclaimed.
func TestStore_SweepSkipsTouched(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := newNode(t, s, 0, "loose", nil)
	orphan.Root = 1
	require.NoError(t, s.Commit(ctx, &anchor.Batch{Puts: []*anchor.Anchor{orphan}}))

	scanned, err := s.scanVersions(ctx)
	require.NoError(t, err)

	orphan.Fields["touched"] = true
	require.NoError(t, s.Commit(ctx, &anchor.Batch{Puts: []*anchor.Anchor{orphan}}))

	swept, skipped, err := s.sweep([]anchor.ID{orphan.ID}, scanned)
	require.NoError(t, err)
	assert.Equal(t, 0, swept)
	assert.Equal(t, 1, skipped)

	_, err = s.Get(ctx, orphan.ID)
	assert.NoError(t, err)
}

// TestCollector_Lifecycle verifies Start, RunNow and Stop.
func TestCollector_Lifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := newNode(t, s, 0, "loose", nil)
	orphan.Root = 1
	require.NoError(t, s.Commit(ctx, &anchor.Batch{Puts: []*anchor.Anchor{orphan}}))

	c, err := NewCollector(s, time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	assert.Error(t, c.Start(ctx), "second start must fail")

	res, err := c.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Swept)
	assert.Equal(t, res, c.Last())

	c.Stop()
	c.Stop()

	_, err = NewCollector(nil, time.Second, nil)
	assert.Error(t, err)
	_, err = NewCollector(s, 0, nil)
	assert.Error(t, err)
}

// TestCollector_Ticks verifies the loop runs collections on its own.
func TestCollector_Ticks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	orphan := newNode(t, s, 0, "loose", nil)
	orphan.Root = 1
	require.NoError(t, s.Commit(ctx, &anchor.Batch{Puts: []*anchor.Anchor{orphan}}))

	c, err := NewCollector(s, 10*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, c.Start(ctx))
	defer c.Stop()

	assert.Eventually(t, func() bool {
		_, err := s.Get(ctx, orphan.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}
