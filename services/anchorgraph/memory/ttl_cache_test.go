// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testAnchor(id anchor.ID, name string) *anchor.Anchor {
	return &anchor.Anchor{
		ID:      id,
		Kind:    anchor.KindNode,
		Type:    "person",
		Root:    1,
		Fields:  map[string]any{"name": name},
		Version: 1,
	}
}

// TestTTLCache_GetSet verifies basic storage and copy semantics.
func TestTTLCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(time.Minute)

	_, ok, err := c.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)

	a := testAnchor(7, "ada")
	require.NoError(t, c.Set(ctx, a))
	a.Fields["name"] = "mutated"

	got, ok, err := c.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ada", got.Fields["name"])

	got.Fields["name"] = "also mutated"
	again, _, _ := c.Get(ctx, 7)
	assert.Equal(t, "ada", again.Fields["name"])

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, "memory", c.Name())
}

// TestTTLCache_Expiry verifies entries expire lazily on Get.
func TestTTLCache_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(time.Minute, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, testAnchor(1, "a")))
	clock.Advance(59 * time.Second)
	_, ok, _ := c.Get(ctx, 1)
	assert.True(t, ok, "entry should live until its TTL")

	clock.Advance(time.Second)
	_, ok, _ = c.Get(ctx, 1)
	assert.False(t, ok, "entry should expire at its TTL")
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, int64(1), c.Stats().Expirations)
}

// TestTTLCache_SetRestartsTTL verifies a Set refreshes the deadline.
func TestTTLCache_SetRestartsTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(time.Minute, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, testAnchor(1, "a")))
	clock.Advance(45 * time.Second)
	require.NoError(t, c.Set(ctx, testAnchor(1, "b")))
	clock.Advance(45 * time.Second)

	got, ok, _ := c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "b", got.Fields["name"])
}

// TestTTLCache_FillKeepsNewer verifies a read-through fill never replaces
// a live entry at the same or a newer version.
func TestTTLCache_FillKeepsNewer(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(time.Minute, WithClock(clock.Now))

	require.NoError(t, c.Fill(ctx, testAnchor(1, "v1")))
	got, ok, _ := c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "v1", got.Fields["name"], "empty slot is filled")

	v2 := testAnchor(1, "v2")
	v2.Version = 2
	require.NoError(t, c.Set(ctx, v2))

	clock.Advance(45 * time.Second)
	require.NoError(t, c.Fill(ctx, testAnchor(1, "v1")))
	got, ok, _ = c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "v2", got.Fields["name"])

	same := testAnchor(1, "v2 again")
	same.Version = 2
	require.NoError(t, c.Fill(ctx, same))
	clock.Advance(15 * time.Second)
	_, ok, _ = c.Get(ctx, 1)
	assert.False(t, ok, "a skipped fill does not restart the TTL")

	require.NoError(t, c.Fill(ctx, testAnchor(1, "v1")))
	got, ok, _ = c.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, "v1", got.Fields["name"], "expired entries are replaced")

	v3 := testAnchor(1, "v3")
	v3.Version = 3
	require.NoError(t, c.Fill(ctx, v3))
	got, _, _ = c.Get(ctx, 1)
	assert.Equal(t, "v3", got.Fields["name"], "newer versions replace older ones")
}

// TestTTLCache_NoExpiry verifies a zero TTL disables expiry.
func TestTTLCache_NoExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(0, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, testAnchor(1, "a")))
	clock.Advance(24 * time.Hour)
	_, ok, _ := c.Get(ctx, 1)
	assert.True(t, ok)
	assert.Equal(t, 0, c.Sweep())
}

// TestTTLCache_Capacity verifies least recently used eviction.
func TestTTLCache_Capacity(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(time.Hour, WithCapacity(2))

	require.NoError(t, c.Set(ctx, testAnchor(1, "a")))
	require.NoError(t, c.Set(ctx, testAnchor(2, "b")))
	_, _, _ = c.Get(ctx, 1) // 2 is now least recent
	require.NoError(t, c.Set(ctx, testAnchor(3, "c")))

	_, ok, _ := c.Get(ctx, 2)
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok, _ = c.Get(ctx, 1)
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, 3)
	assert.True(t, ok)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(1), c.Stats().Evictions)
}

// TestTTLCache_Sweep verifies bulk removal of expired entries only.
func TestTTLCache_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(time.Minute, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, testAnchor(1, "a")))
	require.NoError(t, c.Set(ctx, testAnchor(2, "b")))
	clock.Advance(30 * time.Second)
	require.NoError(t, c.Set(ctx, testAnchor(3, "c")))
	clock.Advance(30 * time.Second)

	assert.Equal(t, 2, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok, _ := c.Get(ctx, 3)
	assert.True(t, ok)
}

// TestTTLCache_SetTTL verifies a TTL change applies to later sets only.
func TestTTLCache_SetTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewTTLCache(time.Minute, WithClock(clock.Now))

	require.NoError(t, c.Set(ctx, testAnchor(1, "a")))
	c.SetTTL(time.Hour)
	assert.Equal(t, time.Hour, c.TTL())
	require.NoError(t, c.Set(ctx, testAnchor(2, "b")))

	clock.Advance(2 * time.Minute)
	_, ok, _ := c.Get(ctx, 1)
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, 2)
	assert.True(t, ok)
}

// TestTTLCache_DeletePurge verifies invalidation.
func TestTTLCache_DeletePurge(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(time.Minute)

	for i := anchor.ID(1); i <= 3; i++ {
		require.NoError(t, c.Set(ctx, testAnchor(i, "x")))
	}
	require.NoError(t, c.Delete(ctx, 1, 2, 99))
	assert.Equal(t, 1, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, CacheStats{}, c.Stats())
}

// TestSweeper_Lifecycle verifies start, double start and idempotent stop.
func TestSweeper_Lifecycle(t *testing.T) {
	_, err := NewSweeper(nil, time.Second, nil)
	assert.Error(t, err)
	_, err = NewSweeper(NewTTLCache(time.Minute), 0, nil)
	assert.Error(t, err)

	s, err := NewSweeper(NewTTLCache(time.Minute), time.Hour, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
	require.NoError(t, s.Start(context.Background()), "a stopped sweeper can restart")
	s.Stop()
}

// TestSweeper_Ticks verifies expired entries are removed without reads.
func TestSweeper_Ticks(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(10 * time.Millisecond)
	require.NoError(t, c.Set(ctx, testAnchor(1, "a")))

	s, err := NewSweeper(c, 5*time.Millisecond, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	assert.Eventually(t, func() bool { return c.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}
