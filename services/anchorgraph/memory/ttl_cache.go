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
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// CacheStats reports in-process cache counters.
type CacheStats struct {
	Len         int   `json:"len"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
}

// TTLCache is the in-process L2: a TTL cache with an optional LRU bound.
//
// Description:
//
//	Every entry expires TTL after it was last Set. Expired entries are
//	dropped lazily on Get and in bulk by Sweep (see Sweeper). With a
//	positive capacity the least recently used entry is evicted when the
//	cache is full; with zero capacity the cache is bounded only by TTL.
//
// Thread Safety: All methods are safe for concurrent use.
//
// Performance:
//
//	| Operation | Complexity |
//	|-----------|------------|
//	| Get       | O(1)       |
//	| Set       | O(1)       |
//	| Delete    | O(k)       |
//	| Sweep     | O(n)       |
type TTLCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	items    map[anchor.ID]*list.Element
	order    *list.List // Front = most recent, Back = least recent
	now      func() time.Time

	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

type ttlEntry struct {
	anchor  *anchor.Anchor
	expires time.Time
}

// TTLOption configures a TTLCache.
type TTLOption func(*TTLCache)

// WithCapacity bounds the cache to n entries with LRU eviction.
func WithCapacity(n int) TTLOption {
	return func(c *TTLCache) {
		c.capacity = n
	}
}

// WithClock replaces time.Now. Used by tests.
func WithClock(now func() time.Time) TTLOption {
	return func(c *TTLCache) {
		c.now = now
	}
}

// NewTTLCache creates an in-process cache.
//
// Inputs:
//
//	ttl - Entry lifetime. Zero or negative disables expiry.
//	opts - Optional capacity and clock.
//
// Outputs:
//
//	*TTLCache - The cache. Never nil.
func NewTTLCache(ttl time.Duration, opts ...TTLOption) *TTLCache {
	c := &TTLCache{
		ttl:   ttl,
		items: make(map[anchor.ID]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns "memory".
func (c *TTLCache) Name() string { return "memory" }

// Get returns a copy of the cached anchor if present and not expired.
func (c *TTLCache) Get(_ context.Context, id anchor.ID) (*anchor.Anchor, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[id]
	if !ok {
		c.misses.Add(1)
		return nil, false, nil
	}
	e := elem.Value.(*ttlEntry)
	if c.expired(e) {
		c.removeElement(elem)
		c.expirations.Add(1)
		cacheRemovals.WithLabelValues("expired").Inc()
		c.misses.Add(1)
		return nil, false, nil
	}
	c.order.MoveToFront(elem)
	c.hits.Add(1)
	return e.anchor.Clone(), true, nil
}

// Set stores a copy of a and restarts its TTL.
func (c *TTLCache) Set(_ context.Context, a *anchor.Anchor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store(a)
	return nil
}

// Fill stores a unless a live entry at the same or a newer Version exists.
// A kept entry keeps its deadline.
func (c *TTLCache) Fill(_ context.Context, a *anchor.Anchor) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[a.ID]; ok {
		e := elem.Value.(*ttlEntry)
		if !c.expired(e) && e.anchor.Version >= a.Version {
			return nil
		}
	}
	c.store(a)
	return nil
}

// store inserts or replaces the entry for a. Callers hold mu.
func (c *TTLCache) store(a *anchor.Anchor) {
	e := &ttlEntry{anchor: a.Clone(), expires: c.deadline()}
	if elem, ok := c.items[a.ID]; ok {
		elem.Value = e
		c.order.MoveToFront(elem)
		return
	}
	if c.capacity > 0 && c.order.Len() >= c.capacity {
		c.evictOldest()
	}
	c.items[a.ID] = c.order.PushFront(e)
}

// Delete removes entries.
func (c *TTLCache) Delete(_ context.Context, ids ...anchor.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range ids {
		if elem, ok := c.items[id]; ok {
			c.removeElement(elem)
		}
	}
	return nil
}

// Sweep removes every expired entry.
//
// Outputs:
//
//	int - Number of entries removed.
func (c *TTLCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if c.expired(elem.Value.(*ttlEntry)) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	if removed > 0 {
		c.expirations.Add(int64(removed))
		cacheRemovals.WithLabelValues("expired").Add(float64(removed))
	}
	return removed
}

// SetTTL changes the lifetime of entries set from now on. Entries already
// cached keep their deadline.
func (c *TTLCache) SetTTL(ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ttl = ttl
}

// TTL returns the current entry lifetime.
func (c *TTLCache) TTL() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl
}

// Len returns the number of entries, expired ones included until swept.
func (c *TTLCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Purge removes all entries and resets the counters.
func (c *TTLCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[anchor.ID]*list.Element)
	c.order.Init()
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.expirations.Store(0)
}

// Stats returns the counters.
func (c *TTLCache) Stats() CacheStats {
	return CacheStats{
		Len:         c.Len(),
		Hits:        c.hits.Load(),
		Misses:      c.misses.Load(),
		Evictions:   c.evictions.Load(),
		Expirations: c.expirations.Load(),
	}
}

// deadline returns the expiry of an entry set now. Caller holds the lock.
func (c *TTLCache) deadline() time.Time {
	if c.ttl <= 0 {
		return time.Time{}
	}
	return c.now().Add(c.ttl)
}

// expired reports whether e is past its deadline. Caller holds the lock.
func (c *TTLCache) expired(e *ttlEntry) bool {
	return !e.expires.IsZero() && !c.now().Before(e.expires)
}

// evictOldest removes the least recently used entry. Caller holds the lock.
func (c *TTLCache) evictOldest() {
	if elem := c.order.Back(); elem != nil {
		c.removeElement(elem)
		c.evictions.Add(1)
		cacheRemovals.WithLabelValues("evicted").Inc()
	}
}

// removeElement unlinks elem. Caller holds the lock.
func (c *TTLCache) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*ttlEntry).anchor.ID)
}
