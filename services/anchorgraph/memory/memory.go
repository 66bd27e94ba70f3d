// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package memory implements the three-tier anchor memory hierarchy.
//
//	L1  Volatile    per session, holds loaded and mutated anchors
//	L2  Cache       shared across sessions, TTL expiry (in-process or Redis)
//	L3  Persistent  durable, authoritative (storage/badger)
//
// Reads go L1 → L2 → L3 and populate the tiers they missed. Writes land in
// L1 only and are marked dirty. Session.Commit is the single point where a
// session's changes become visible to others: dirty anchors are written to
// L3 in one transaction, then L2 is refreshed. L2 may serve stale anchors to
// other processes until the entry's TTL elapses.
//
// # Thread Safety
//
// Tiers is safe for concurrent use and is shared by every session of a
// process. A Session belongs to one request; its methods are serialized.
package memory

import (
	"context"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// Persistent is the durable tier contract.
type Persistent interface {
	// Get returns a caller-owned copy or an error wrapping anchor.ErrNotFound.
	Get(ctx context.Context, id anchor.ID) (*anchor.Anchor, error)

	// NextID allocates a never-reused anchor ID.
	NextID(ctx context.Context) (anchor.ID, error)

	// Commit writes the batch atomically and sets the Version of every put.
	Commit(ctx context.Context, b *anchor.Batch) error
}

// Cache is the shared tier contract.
//
// Implementations store copies: a value passed to Set or returned by Get is
// never aliased.
type Cache interface {
	// Get returns the cached anchor. A miss is (nil, false, nil).
	Get(ctx context.Context, id anchor.ID) (*anchor.Anchor, bool, error)

	// Set stores a, replacing any entry and restarting its TTL.
	Set(ctx context.Context, a *anchor.Anchor) error

	// Fill stores a read-through copy of a unless a live entry with the
	// same or a newer Version is already cached.
	Fill(ctx context.Context, a *anchor.Anchor) error

	// Delete invalidates entries. Missing IDs are ignored.
	Delete(ctx context.Context, ids ...anchor.ID) error

	// Name identifies the backend in logs and metrics.
	Name() string
}

// NopCache is a Cache that stores nothing.
type NopCache struct{}

// Get always misses.
func (NopCache) Get(context.Context, anchor.ID) (*anchor.Anchor, bool, error) {
	return nil, false, nil
}

// Set does nothing.
func (NopCache) Set(context.Context, *anchor.Anchor) error { return nil }

// Fill does nothing.
func (NopCache) Fill(context.Context, *anchor.Anchor) error { return nil }

// Delete does nothing.
func (NopCache) Delete(context.Context, ...anchor.ID) error { return nil }

// Name returns "none".
func (NopCache) Name() string { return "none" }

// Tiers wires L2 and L3 together and hands out sessions.
type Tiers struct {
	store  Persistent
	cache  Cache
	types  *anchor.TypeRegistry
	policy anchor.ConflictPolicy
	logger *slog.Logger

	// flight collapses concurrent L3 reads of the same ID.
	flight singleflight.Group
}

// Option configures Tiers.
type Option func(*Tiers)

// WithCache sets the shared tier. Default: NopCache.
func WithCache(c Cache) Option {
	return func(t *Tiers) {
		t.cache = c
	}
}

// WithTypes sets the registry used to validate allocated anchors.
// Default: a non-strict registry with only the built-in types.
func WithTypes(r *anchor.TypeRegistry) Option {
	return func(t *Tiers) {
		t.types = r
	}
}

// WithConflictPolicy sets how commits treat concurrent modification.
// Default: anchor.LastWriteWins.
func WithConflictPolicy(p anchor.ConflictPolicy) Option {
	return func(t *Tiers) {
		t.policy = p
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(t *Tiers) {
		t.logger = l
	}
}

// NewTiers creates the shared tier wiring.
//
// Inputs:
//
//	store - The durable tier. Must not be nil.
//	opts - Optional cache, type registry, conflict policy and logger.
//
// Outputs:
//
//	*Tiers - Ready to hand out sessions.
func NewTiers(store Persistent, opts ...Option) *Tiers {
	t := &Tiers{
		store:  store,
		cache:  NopCache{},
		policy: anchor.LastWriteWins,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.types == nil {
		t.types = anchor.NewTypeRegistry()
	}
	t.logger = t.logger.With(slog.String("component", "memory"), slog.String("cache", t.cache.Name()))
	return t
}

// Types returns the type registry.
func (t *Tiers) Types() *anchor.TypeRegistry {
	return t.types
}

// Cache returns the shared tier.
func (t *Tiers) Cache() Cache {
	return t.cache
}

// Policy returns the conflict policy.
func (t *Tiers) Policy() anchor.ConflictPolicy {
	return t.policy
}

// NewSession starts a session with an empty L1.
func (t *Tiers) NewSession() *Session {
	return &Session{tiers: t, l1: NewVolatile()}
}

// fetch reads id from L2, then L3, populating L2 on an L3 hit. The returned
// anchor may be shared with concurrent callers and must be cloned before
// it is handed out.
func (t *Tiers) fetch(ctx context.Context, id anchor.ID) (*anchor.Anchor, error) {
	a, ok, err := t.cache.Get(ctx, id)
	if err != nil {
		// L2 is an optimization; fall through to L3.
		cacheErrors.WithLabelValues(t.cache.Name(), "get").Inc()
		logging.WithTrace(ctx, t.logger).Warn("cache read failed",
			slog.Uint64("anchor", uint64(id)), slog.String("error", err.Error()))
	}
	if ok {
		lookups.WithLabelValues("l2", "hit").Inc()
		return a, nil
	}
	lookups.WithLabelValues("l2", "miss").Inc()

	v, err, _ := t.flight.Do(id.String(), func() (interface{}, error) {
		a, err := t.store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// A commit may have refreshed L2 while the read was in flight.
		if err := t.cache.Fill(ctx, a); err != nil {
			cacheErrors.WithLabelValues(t.cache.Name(), "fill").Inc()
			logging.WithTrace(ctx, t.logger).Warn("cache fill failed",
				slog.Uint64("anchor", uint64(id)), slog.String("error", err.Error()))
		}
		return a, nil
	})
	if err != nil {
		if anchorMissing(err) {
			lookups.WithLabelValues("l3", "miss").Inc()
		} else {
			lookups.WithLabelValues("l3", "error").Inc()
		}
		return nil, err
	}
	lookups.WithLabelValues("l3", "hit").Inc()
	return v.(*anchor.Anchor), nil
}
