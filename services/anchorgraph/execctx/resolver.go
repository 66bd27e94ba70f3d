// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package execctx binds a request to the roots it may see.
//
// A Resolver maps an acting identity to its user root, creating and
// persisting the root on first access. The resulting Context carries the
// session (L1) and a graph index scoped to the user root plus read-only
// access to the system root. Nothing is held across requests: every
// request resolves its own Context and closes it when done.
package execctx

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/index"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
)

// Reserved identities.
const (
	// SystemIdentity owns the shared system root.
	SystemIdentity = "__system__"

	// GuestIdentity owns the root shared by anonymous callers.
	GuestIdentity = "__guest__"
)

var tracer = otel.Tracer("anchorgraph.execctx")

// RootBinder is the durable identity index.
//
// storage/badger.Store implements it.
type RootBinder interface {
	// RootFor returns the root bound to identity, if any.
	RootFor(ctx context.Context, identity string) (anchor.ID, bool, error)

	// BindRoot atomically binds identity to root unless already bound and
	// returns whichever root ends up bound.
	BindRoot(ctx context.Context, identity string, root *anchor.Anchor) (*anchor.Anchor, bool, error)

	// NextID allocates an anchor ID.
	NextID(ctx context.Context) (anchor.ID, error)
}

// Resolver creates Contexts.
//
// Thread Safety: Safe for concurrent use. Bound roots never change, so
// resolved roots are memoized for the life of the Resolver.
type Resolver struct {
	tiers  *memory.Tiers
	binder RootBinder
	logger *slog.Logger

	flight singleflight.Group

	mu    sync.RWMutex
	roots map[string]anchor.ID
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger. Default: slog.Default().
func WithResolverLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver creates a resolver.
//
// Inputs:
//
//	tiers - Shared memory tiers. Each Context gets a session from it.
//	binder - Durable identity index, usually the same store as tiers' L3.
//	opts - Optional logger.
func NewResolver(tiers *memory.Tiers, binder RootBinder, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		tiers:  tiers,
		binder: binder,
		logger: slog.Default(),
		roots:  make(map[string]anchor.ID),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "execctx"))
	return r
}

// Resolve returns a Context for identity.
//
// Description:
//
//	An empty identity resolves to the shared guest root. A known identity
//	resolves to its existing root. A new identity gets a fresh root that
//	is persisted, together with its identity binding, in one transaction
//	before Resolve returns. Concurrent first-time resolutions of the same
//	identity yield one root. The system root is created the same way on
//	first use.
//
// Inputs:
//
//	ctx - For tier access.
//	identity - The acting identity. SystemIdentity is reserved; use System.
//
// Outputs:
//
//	*Context - A new context. The caller must Close it.
//	error - *anchor.ValidationError for a reserved identity, or a
//	  PersistenceError.
func (r *Resolver) Resolve(ctx context.Context, identity string) (*Context, error) {
	if identity == SystemIdentity {
		return nil, anchor.NewValidationError("", "identity", "identity is reserved")
	}
	kind := "user"
	if identity == "" || identity == GuestIdentity {
		identity, kind = GuestIdentity, "guest"
	}

	ctx, span := tracer.Start(ctx, "Resolver.Resolve", trace.WithAttributes(
		attribute.String("execctx.kind", kind),
	))
	defer span.End()

	system, err := r.root(ctx, SystemIdentity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	user, err := r.root(ctx, identity)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	resolutions.WithLabelValues(kind).Inc()

	scope := index.RootScope{Root: user, Shared: []anchor.ID{system}}
	c := newContext(r.tiers, identity, system, user, scope, r.logger)
	span.SetAttributes(attribute.String("execctx.session", c.ID()))
	return c, nil
}

// System returns a privileged Context that owns the system root.
func (r *Resolver) System(ctx context.Context) (*Context, error) {
	system, err := r.root(ctx, SystemIdentity)
	if err != nil {
		return nil, err
	}
	resolutions.WithLabelValues("system").Inc()
	return newContext(r.tiers, SystemIdentity, system, system, index.RootScope{Root: system}, r.logger), nil
}

// root returns the root bound to identity, binding a new one if needed.
func (r *Resolver) root(ctx context.Context, identity string) (anchor.ID, error) {
	r.mu.RLock()
	id, ok := r.roots[identity]
	r.mu.RUnlock()
	if ok {
		return id, nil
	}

	v, err, _ := r.flight.Do(identity, func() (interface{}, error) {
		id, found, err := r.binder.RootFor(ctx, identity)
		if err != nil {
			return anchor.ID(0), err
		}
		if !found {
			id, err = r.bind(ctx, identity)
			if err != nil {
				return anchor.ID(0), err
			}
		}
		r.mu.Lock()
		r.roots[identity] = id
		r.mu.Unlock()
		return id, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(anchor.ID), nil
}

func (r *Resolver) bind(ctx context.Context, identity string) (anchor.ID, error) {
	id, err := r.binder.NextID(ctx)
	if err != nil {
		return 0, anchor.Persistence("next_id", err)
	}
	candidate := &anchor.Anchor{
		ID:     id,
		Kind:   anchor.KindNode,
		Type:   anchor.TypeRoot,
		Root:   id,
		Fields: map[string]any{"identity": identity},
	}
	bound, created, err := r.binder.BindRoot(ctx, identity, candidate)
	if err != nil {
		return 0, err
	}
	if created {
		rootsCreated.Inc()
		logging.WithTrace(ctx, r.logger).Info("bound new root",
			slog.String("identity", identity),
			slog.Uint64("root", uint64(bound.ID)))
	}
	return bound.ID, nil
}
