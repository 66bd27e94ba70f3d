// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package execctx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/index"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/memory"
)

// Context is one request's execution scope.
//
// Thread Safety: The accessors are safe for concurrent use. Graph
// mutations go through one session; see memory.Session.
type Context struct {
	id       string
	identity string
	system   anchor.ID
	user     anchor.ID
	started  time.Time
	logger   *slog.Logger

	session *memory.Session
	graph   *index.Graph

	mu    sync.RWMutex
	entry anchor.ID
}

func newContext(tiers *memory.Tiers, identity string, system, user anchor.ID, scope index.Scope, logger *slog.Logger) *Context {
	session := tiers.NewSession()
	id := uuid.NewString()
	return &Context{
		id:       id,
		identity: identity,
		system:   system,
		user:     user,
		entry:    user,
		started:  time.Now(),
		logger:   logger.With(slog.String("session", id), slog.String("identity", identity)),
		session:  session,
		graph:    index.New(session, scope),
	}
}

// ID returns the unique session identifier.
func (c *Context) ID() string { return c.id }

// Identity returns the resolved identity. Anonymous callers resolve to
// GuestIdentity.
func (c *Context) Identity() string { return c.identity }

// SystemRoot returns the shared system root.
func (c *Context) SystemRoot() anchor.ID { return c.system }

// UserRoot returns the root this context owns.
func (c *Context) UserRoot() anchor.ID { return c.user }

// IsSystem reports whether this is the privileged system context.
func (c *Context) IsSystem() bool { return c.user == c.system }

// EntryNode returns the default traversal start. It is the user root
// unless WithEntry changed it.
func (c *Context) EntryNode() anchor.ID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entry
}

// WithEntry sets the traversal start after checking it is a readable node.
//
// Outputs:
//
//	error - ErrNotFound, ErrKindMismatch or *anchor.PermissionError; the
//	  entry node is unchanged on error.
func (c *Context) WithEntry(ctx context.Context, id anchor.ID) error {
	if _, err := c.graph.Node(ctx, id); err != nil {
		return err
	}
	c.mu.Lock()
	c.entry = id
	c.mu.Unlock()
	return nil
}

// Session returns the context's L1 view.
func (c *Context) Session() *memory.Session { return c.session }

// Graph returns the graph index bound to this context's scope.
func (c *Context) Graph() *index.Graph { return c.graph }

// Logger returns a logger tagged with the session and identity.
func (c *Context) Logger() *slog.Logger { return c.logger }

// Commit flushes the session's dirty anchors. It is never called
// implicitly.
func (c *Context) Commit(ctx context.Context) error {
	dirty := c.session.Dirty()
	if err := c.session.Commit(ctx); err != nil {
		return err
	}
	if dirty > 0 {
		logging.WithTrace(ctx, c.logger).Debug("context committed", slog.Int("anchors", dirty))
	}
	return nil
}

// Close discards uncommitted state. The context must not be used after.
func (c *Context) Close() {
	if n := c.session.Dirty(); n > 0 {
		c.logger.Debug("discarding uncommitted anchors", slog.Int("anchors", n))
	}
	c.session.Discard()
	contextDuration.Observe(time.Since(c.started).Seconds())
}
