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
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// Session is one request's view of the anchor graph.
//
// Every anchor the session reads or writes is held in its L1. Mutations are
// invisible to other sessions until Commit. Anchors returned by a session
// are copies; changing one has no effect until it is passed to Put.
//
// Thread Safety: Methods are serialized by an internal mutex, so a session
// may be shared by the walkers of one request, but its isolation guarantees
// are per session, not per goroutine.
type Session struct {
	tiers *Tiers

	mu sync.Mutex
	l1 *Volatile
}

// Load returns a copy of anchor id.
//
// Description:
//
//	Looks in L1, then L2, then L3. An L3 hit fills L2; any lower-tier hit
//	fills L1 so later reads in this session see the same state. Anchors
//	deleted in this session are reported missing.
//
// Outputs:
//
//	*anchor.Anchor - A copy owned by the caller.
//	error - Wraps anchor.ErrNotFound on a miss; PersistenceError on L3
//	  failure.
func (s *Session) Load(ctx context.Context, id anchor.ID) (*anchor.Anchor, error) {
	if !id.Valid() {
		return nil, anchor.NotFound(id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.l1.get(id); ok {
		lookups.WithLabelValues("l1", "hit").Inc()
		if e.deleted {
			return nil, anchor.NotFound(id)
		}
		return e.anchor.Clone(), nil
	}
	lookups.WithLabelValues("l1", "miss").Inc()

	a, err := s.tiers.fetch(ctx, id)
	if err != nil {
		return nil, err
	}
	e := s.l1.loaded(a.Clone())
	return e.anchor.Clone(), nil
}

// Put records a mutation of an existing or allocated anchor.
//
// Description:
//
//	Normalizes the fields and stores a copy in L1 marked dirty. If the
//	anchor was loaded earlier its loaded version is kept as the conflict
//	base. Putting an anchor this session deleted is an error.
//
// Inputs:
//
//	a - The anchor. ID must be allocated; Kind must be node or edge.
//
// Outputs:
//
//	error - ValidationError for bad fields or kind; NotFound for a deleted
//	  anchor.
func (s *Session) Put(a *anchor.Anchor) error {
	if a == nil || !a.ID.Valid() {
		return anchor.NewValidationError("", "id", "anchor id is not allocated")
	}
	if a.Kind != anchor.KindNode && a.Kind != anchor.KindEdge {
		return anchor.NewValidationError(a.Type, "kind", fmt.Sprintf("%s anchors are not stored", a.Kind))
	}
	fields, err := anchor.Normalize(a.Type, a.Fields)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.l1.get(a.ID); ok && e.deleted {
		return anchor.NotFound(a.ID)
	}
	c := a.Clone()
	c.Fields = fields
	s.l1.put(c, false)
	return nil
}

// Allocate creates a new anchor in this session.
//
// Description:
//
//	Validates fields against the type registry, draws a fresh ID from L3
//	and stores the anchor in L1 as dirty. The ID is consumed even if the
//	session is later discarded. A zero root makes the anchor its own root.
//
// Inputs:
//
//	ctx - For the ID allocation.
//	kind - KindNode or KindEdge.
//	typ - Type tag.
//	fields - Initial fields. May be nil.
//	root - Owning root.
//
// Outputs:
//
//	*anchor.Anchor - A copy of the new anchor.
//	error - ValidationError, or PersistenceError if no ID could be drawn.
func (s *Session) Allocate(ctx context.Context, kind anchor.Kind, typ string, fields map[string]any, root anchor.ID) (*anchor.Anchor, error) {
	if kind != anchor.KindNode && kind != anchor.KindEdge {
		return nil, anchor.NewValidationError(typ, "kind", fmt.Sprintf("cannot allocate %s anchors", kind))
	}
	checked, err := s.tiers.types.Check(kind, typ, fields)
	if err != nil {
		return nil, err
	}
	id, err := s.tiers.store.NextID(ctx)
	if err != nil {
		return nil, anchor.Persistence("next_id", err)
	}
	if root == 0 {
		root = id
	}
	a := &anchor.Anchor{ID: id, Kind: kind, Type: typ, Root: root, Fields: checked}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.l1.put(a, true)
	return a.Clone(), nil
}

// Delete removes anchor id at the next commit.
//
// An anchor allocated in this session and never committed is dropped
// immediately. Deleting an unknown or already deleted anchor returns
// NotFound.
func (s *Session) Delete(ctx context.Context, id anchor.ID) error {
	if _, err := s.Load(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, _ := s.l1.get(id)
	if e.created {
		delete(s.l1.entries, id)
		return nil
	}
	s.l1.tombstone(id)
	return nil
}

// Commit flushes every dirty anchor.
//
// Description:
//
//	1. All dirty puts and deletes go to L3 in one batch. On failure L1 is
//	   untouched, so Commit can be retried or the session discarded.
//	2. L2 is refreshed: committed anchors are set, deleted anchors are
//	   invalidated. L2 failures are logged; L3 is authoritative.
//	3. Dirty flags are cleared and L1 versions advance to the committed
//	   versions.
//
// Outputs:
//
//	error - PersistenceError, wrapping anchor.ErrConflict when rejected by
//	  the conflict policy or anchor.ErrBatchTooLarge when the dirty set
//	  does not fit in one store transaction.
func (s *Session) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.l1.dirtyIDs()
	if len(ids) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "Session.Commit", trace.WithAttributes(
		attribute.Int("memory.dirty", len(ids)),
	))
	defer span.End()

	batch := &anchor.Batch{Base: make(map[anchor.ID]uint64, len(ids)), Policy: s.tiers.policy}
	for _, id := range ids {
		e := s.l1.entries[id]
		if e.deleted {
			batch.Deletes = append(batch.Deletes, id)
		} else {
			batch.Puts = append(batch.Puts, e.anchor.Clone())
		}
		batch.Base[id] = e.base
	}

	if err := s.tiers.store.Commit(ctx, batch); err != nil {
		sessionCommits.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var pe *anchor.PersistenceError
		if !errors.As(err, &pe) {
			err = anchor.Persistence("commit", err)
		}
		return err
	}
	sessionCommits.WithLabelValues("ok").Inc()

	logger := logging.WithTrace(ctx, s.tiers.logger)
	for _, a := range batch.Puts {
		e := s.l1.entries[a.ID]
		e.anchor.Version = a.Version
		e.base = a.Version
		e.dirty = false
		e.created = false
		if err := s.tiers.cache.Set(ctx, a); err != nil {
			cacheErrors.WithLabelValues(s.tiers.cache.Name(), "set").Inc()
			logger.Warn("cache refresh failed", slog.Uint64("anchor", uint64(a.ID)), slog.String("error", err.Error()))
		}
	}
	for _, id := range batch.Deletes {
		delete(s.l1.entries, id)
	}
	if len(batch.Deletes) > 0 {
		if err := s.tiers.cache.Delete(ctx, batch.Deletes...); err != nil {
			cacheErrors.WithLabelValues(s.tiers.cache.Name(), "delete").Inc()
			logger.Warn("cache invalidation failed", slog.Int("anchors", len(batch.Deletes)), slog.String("error", err.Error()))
		}
	}

	logger.Debug("session committed", slog.Int("puts", len(batch.Puts)), slog.Int("deletes", len(batch.Deletes)))
	return nil
}

// Discard drops all uncommitted state and everything cached in L1.
func (s *Session) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.l1.reset()
}

// Dirty returns the number of uncommitted changes.
func (s *Session) Dirty() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l1.Dirty()
}

// Len returns the number of anchors held in L1.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.l1.Len()
}

// Tiers returns the tiers the session reads through.
func (s *Session) Tiers() *Tiers {
	return s.tiers
}
