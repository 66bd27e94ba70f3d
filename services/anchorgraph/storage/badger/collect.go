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
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// sweepChunk is the number of anchors deleted per sweep transaction.
const sweepChunk = 500

// CollectResult summarizes one reachability collection.
type CollectResult struct {
	Roots    int           `json:"roots"`
	Scanned  int           `json:"scanned"`
	Marked   int           `json:"marked"`
	Swept    int           `json:"swept"`
	Skipped  int           `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Collect reclaims anchors that are not reachable from any root.
//
// Description:
//
//	1. Scan: snapshot every stored anchor ID with its version.
//	2. Mark: walk from every bound root, one goroutine per root, following
//	   node adjacency and edge endpoints in both directions.
//	3. Sweep: delete unmarked anchors in chunked transactions. An anchor
//	   whose version moved since the scan was touched by a concurrent commit
//	   and is skipped; it is reconsidered by the next collection.
//
//	Anchors committed after the scan are never candidates. A reachable
//	anchor is never reclaimed.
//
// Inputs:
//
//	ctx - Cancels between phases and between sweep chunks.
//
// Outputs:
//
//	CollectResult - Counts for each phase.
//	error - A PersistenceError on storage failure, or the context error.
//
// Thread Safety: Safe to run concurrently with commits. Running two
// collections at once is safe but wasteful.
func (s *Store) Collect(ctx context.Context) (CollectResult, error) {
	ctx, span := startSpan(ctx, "Collect")
	defer span.End()
	start := time.Now()

	var res CollectResult
	scanned, err := s.scanVersions(ctx)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Scanned = len(scanned)

	roots, err := s.Roots(ctx)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Roots = len(roots)

	marked, err := s.mark(ctx, roots)
	if err != nil {
		span.RecordError(err)
		return res, err
	}
	res.Marked = len(marked)

	candidates := make([]anchor.ID, 0)
	for id := range scanned {
		if _, ok := marked[id]; !ok {
			candidates = append(candidates, id)
		}
	}

	for lo := 0; lo < len(candidates); lo += sweepChunk {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		hi := min(lo+sweepChunk, len(candidates))
		swept, skipped, err := s.sweep(candidates[lo:hi], scanned)
		if errors.Is(err, badger.ErrConflict) {
			res.Skipped += hi - lo
			continue
		}
		if err != nil {
			span.RecordError(err)
			return res, anchor.Persistence("collect", err)
		}
		res.Swept += swept
		res.Skipped += skipped
	}

	res.Duration = time.Since(start)
	collectDuration.Observe(res.Duration.Seconds())
	sweptTotal.Add(float64(res.Swept))
	span.SetAttributes(
		attribute.Int("collect.marked", res.Marked),
		attribute.Int("collect.swept", res.Swept),
	)
	logging.WithTrace(ctx, s.logger).Info("collection finished",
		slog.Int("roots", res.Roots),
		slog.Int("scanned", res.Scanned),
		slog.Int("swept", res.Swept),
		slog.Int("skipped", res.Skipped),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// scanVersions snapshots the version of every stored anchor.
func (s *Store) scanVersions(ctx context.Context) (map[anchor.ID]uint64, error) {
	versions := make(map[anchor.ID]uint64)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = anchorPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(anchorPrefix); it.ValidForPrefix(anchorPrefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id, err := idFromSuffix(item.Key())
			if err != nil {
				return err
			}
			record, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			a, err := anchor.Decode(record)
			if err != nil {
				return fmt.Errorf("anchor %d: %w", id, err)
			}
			versions[id] = a.Version
		}
		return nil
	})
	if err != nil {
		return nil, anchor.Persistence("collect_scan", err)
	}
	return versions, nil
}

// mark returns the set of anchors reachable from roots.
func (s *Store) mark(ctx context.Context, roots map[string]anchor.ID) (map[anchor.ID]struct{}, error) {
	var (
		mu     sync.Mutex
		marked = make(map[anchor.ID]struct{})
	)
	// claim reports whether id was newly marked.
	claim := func(id anchor.ID) bool {
		mu.Lock()
		defer mu.Unlock()
		if _, ok := marked[id]; ok {
			return false
		}
		marked[id] = struct{}{}
		return true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, root := range roots {
		g.Go(func() error {
			return s.db.View(func(txn *badger.Txn) error {
				queue := []anchor.ID{root}
				for len(queue) > 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
					id := queue[0]
					queue = queue[1:]
					if !claim(id) {
						continue
					}
					a, err := getAnchor(txn, id)
					if errors.Is(err, anchor.ErrNotFound) {
						continue
					}
					if err != nil {
						return err
					}
					if a.IsEdge() {
						queue = append(queue, a.Source, a.Target)
						continue
					}
					queue = append(queue, a.Out...)
					queue = append(queue, a.In...)
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return nil, anchor.Persistence("collect_mark", err)
	}
	return marked, nil
}

// sweep deletes candidates whose version still matches the scan.
func (s *Store) sweep(ids []anchor.ID, scanned map[anchor.ID]uint64) (swept, skipped int, err error) {
	err = s.db.Update(func(txn *badger.Txn) error {
		swept, skipped = 0, 0
		for _, id := range ids {
			cur, err := getAnchor(txn, id)
			if errors.Is(err, anchor.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if cur.Version != scanned[id] {
				skipped++
				continue
			}
			if err := txn.Delete(anchorKey(id)); err != nil {
				return err
			}
			if err := txn.Delete(ownerKey(cur.Root, id)); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	return swept, skipped, err
}

// Collector runs Store.Collect on a fixed interval.
//
// Thread Safety: All methods are safe for concurrent use.
type Collector struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	done    chan struct{}
	stopped chan struct{}
	last    CollectResult
}

// NewCollector creates a collector. Call Start to begin.
func NewCollector(store *Store, interval time.Duration, logger *slog.Logger) (*Collector, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{store: store, interval: interval, logger: logger}, nil
}

// Start begins periodic collection.
//
// Outputs:
//
//	error - Non-nil if the collector is already running.
func (c *Collector) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return errors.New("collector is already running")
	}
	c.running = true
	c.done = make(chan struct{})
	c.stopped = make(chan struct{})

	c.logger.Info("anchor collector starting", slog.Duration("interval", c.interval))
	go c.runLoop(ctx, c.done, c.stopped)
	return nil
}

// Stop halts collection and waits for an in-flight run to finish. Safe to
// call more than once.
func (c *Collector) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	close(c.done)
	c.running = false
	stopped := c.stopped
	c.mu.Unlock()
	<-stopped
}

// RunNow runs one collection immediately.
func (c *Collector) RunNow(ctx context.Context) (CollectResult, error) {
	res, err := c.store.Collect(ctx)
	if err == nil {
		c.mu.Lock()
		c.last = res
		c.mu.Unlock()
	}
	return res, err
}

// Last returns the result of the most recent successful run.
func (c *Collector) Last() CollectResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Collector) runLoop(ctx context.Context, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("anchor collector stopped (context cancelled)")
			return
		case <-done:
			c.logger.Info("anchor collector stopped (stop requested)")
			return
		case <-ticker.C:
			if _, err := c.RunNow(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("anchor collection failed", slog.String("error", err.Error()))
			}
		}
	}
}
