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
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/anchorgraph/pkg/logging"
	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// maxTxnRetries bounds retries of a transaction that lost a badger
// write-write race.
const maxTxnRetries = 3

// Store is the durable anchor tier.
//
// Thread Safety: All methods are safe for concurrent use.
type Store struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger *slog.Logger
	gc     *GCRunner

	closeOnce sync.Once
	closeErr  error
}

// Stats summarizes the persistent tier.
type Stats struct {
	Anchors   int   `json:"anchors"`
	Roots     int   `json:"roots"`
	LSMBytes  int64 `json:"lsm_bytes"`
	VlogBytes int64 `json:"vlog_bytes"`
}

// Open opens the store.
//
// Description:
//
//	Opens badger, leases the anchor ID sequence and, for on-disk stores
//	with a positive GCInterval, starts the value log GC runner.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*Store - The store. Call Close when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IDBandwidth == 0 {
		cfg.IDBandwidth = DefaultConfig().IDBandwidth
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	seq, err := db.GetSequence(sequenceKey, cfg.IDBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("lease anchor sequence: %w", err)
	}

	s := &Store{db: db, seq: seq, logger: logger.With(slog.String("component", "store"))}

	if cfg.GCInterval > 0 && !cfg.InMemory {
		runner, err := NewGCRunner(db, cfg.GCInterval, cfg.GCDiscardRatio, s.logger)
		if err != nil {
			_ = seq.Release()
			db.Close()
			return nil, fmt.Errorf("create GC runner: %w", err)
		}
		s.gc = runner
		runner.Start()
	}

	return s, nil
}

// OpenInMemory opens a store that lives only in RAM.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close releases the sequence lease, stops GC and closes the database.
// Safe to call more than once.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		if s.gc != nil {
			s.gc.Stop()
		}
		var errs []error
		if err := s.seq.Release(); err != nil {
			errs = append(errs, fmt.Errorf("release sequence: %w", err))
		}
		if err := s.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// NextID allocates a fresh anchor ID.
//
// IDs are strictly increasing within a process and never reused across
// restarts. The zero ID is never returned.
func (s *Store) NextID(ctx context.Context) (anchor.ID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	for {
		n, err := s.seq.Next()
		if err != nil {
			return 0, anchor.Persistence("next_id", err)
		}
		// A fresh sequence starts at zero, which is reserved.
		if n != 0 {
			return anchor.ID(n), nil
		}
	}
}

// Get reads one anchor.
//
// Outputs:
//
//	*anchor.Anchor - A freshly decoded copy owned by the caller.
//	error - Wraps anchor.ErrNotFound when absent; a PersistenceError on
//	  read or decode failure.
func (s *Store) Get(ctx context.Context, id anchor.ID) (*anchor.Anchor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var a *anchor.Anchor
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		a, err = getAnchor(txn, id)
		return err
	})
	switch {
	case err == nil:
		readsTotal.WithLabelValues("hit").Inc()
		return a, nil
	case errors.Is(err, anchor.ErrNotFound):
		readsTotal.WithLabelValues("miss").Inc()
		return nil, err
	default:
		readsTotal.WithLabelValues("error").Inc()
		return nil, anchor.Persistence("get", err)
	}
}

// getAnchor reads and decodes an anchor inside txn.
func getAnchor(txn *badger.Txn, id anchor.ID) (*anchor.Anchor, error) {
	item, err := txn.Get(anchorKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, anchor.NotFound(id)
	}
	if err != nil {
		return nil, err
	}
	record, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	a, err := anchor.Decode(record)
	if err != nil {
		return nil, fmt.Errorf("anchor %d: %w", id, err)
	}
	return a, nil
}

// Commit writes a session batch in one transaction.
//
// Description:
//
//	Deletes remove the anchor record and its owner index entry. Puts write
//	the record with Version set to the stored version plus one and keep the
//	owner index in step with Root. Under RejectStale the first anchor whose
//	stored version differs from its base version aborts the transaction
//	with ErrConflict and nothing is written. On success the Version of every
//	anchor in b.Puts is updated in place.
//
// Inputs:
//
//	ctx - Checked before the transaction starts.
//	b - The batch. Must not contain the same ID twice.
//
// Outputs:
//
//	error - A PersistenceError on failure. Callers keep their dirty state.
//	  It matches anchor.ErrConflict for a stale anchor and
//	  anchor.ErrBatchTooLarge when the batch exceeds badger's transaction
//	  size; neither succeeds on a plain retry.
//
// Thread Safety: Safe for concurrent use. Concurrent commits touching the
// same anchor are serialized by badger and retried.
func (s *Store) Commit(ctx context.Context, b *anchor.Batch) error {
	if b == nil || b.Empty() {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return anchor.Persistence("commit", err)
	}

	ctx, span := startSpan(ctx, "Commit",
		attribute.Int("store.puts", len(b.Puts)),
		attribute.Int("store.deletes", len(b.Deletes)),
		attribute.String("store.policy", b.Policy.String()),
	)
	defer span.End()

	start := time.Now()
	versions := make([]uint64, len(b.Puts))

	var err error
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			return s.applyBatch(txn, b, versions)
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
		logging.WithTrace(ctx, s.logger).Debug("commit lost a write race, retrying",
			slog.Int("attempt", attempt+1))
	}
	commitDuration.Observe(time.Since(start).Seconds())
	if errors.Is(err, badger.ErrTxnTooBig) {
		err = fmt.Errorf("%d puts, %d deletes: %w", len(b.Puts), len(b.Deletes), anchor.ErrBatchTooLarge)
	}

	if err != nil {
		result := "error"
		switch {
		case errors.Is(err, anchor.ErrConflict):
			result = "conflict"
		case errors.Is(err, anchor.ErrBatchTooLarge):
			result = "too_large"
		}
		commitsTotal.WithLabelValues(result).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.WithTrace(ctx, s.logger).Warn("commit failed",
			slog.Int("puts", len(b.Puts)),
			slog.Int("deletes", len(b.Deletes)),
			slog.String("error", err.Error()))
		return anchor.Persistence("commit", err)
	}

	for i, a := range b.Puts {
		a.Version = versions[i]
	}
	commitsTotal.WithLabelValues("ok").Inc()
	commitAnchors.Observe(float64(len(b.Puts) + len(b.Deletes)))
	return nil
}

func (s *Store) applyBatch(txn *badger.Txn, b *anchor.Batch, versions []uint64) error {
	reject := b.Policy == anchor.RejectStale

	for _, id := range b.Deletes {
		cur, err := getAnchor(txn, id)
		if errors.Is(err, anchor.ErrNotFound) {
			if reject && b.Base[id] != 0 {
				return fmt.Errorf("delete anchor %d: %w", id, anchor.ErrConflict)
			}
			continue
		}
		if err != nil {
			return err
		}
		if reject && cur.Version != b.Base[id] {
			return fmt.Errorf("delete anchor %d at version %d, stored %d: %w",
				id, b.Base[id], cur.Version, anchor.ErrConflict)
		}
		if err := txn.Delete(anchorKey(id)); err != nil {
			return err
		}
		if err := txn.Delete(ownerKey(cur.Root, id)); err != nil {
			return err
		}
	}

	for i, a := range b.Puts {
		var stored uint64
		cur, err := getAnchor(txn, a.ID)
		switch {
		case err == nil:
			stored = cur.Version
			if cur.Root != a.Root {
				if err := txn.Delete(ownerKey(cur.Root, a.ID)); err != nil {
					return err
				}
			}
		case errors.Is(err, anchor.ErrNotFound):
		default:
			return err
		}
		if reject && stored != b.Base[a.ID] {
			return fmt.Errorf("put anchor %d at version %d, stored %d: %w",
				a.ID, b.Base[a.ID], stored, anchor.ErrConflict)
		}

		next := *a
		next.Version = stored + 1
		record, err := anchor.Encode(&next)
		if err != nil {
			return err
		}
		if err := txn.Set(anchorKey(a.ID), record); err != nil {
			return err
		}
		if err := txn.Set(ownerKey(a.Root, a.ID), []byte{}); err != nil {
			return err
		}
		versions[i] = next.Version
	}
	return nil
}

// RootFor returns the root bound to identity.
//
// Outputs:
//
//	anchor.ID - The root.
//	bool - False if the identity has never been bound.
//	error - A PersistenceError on read failure.
func (s *Store) RootFor(ctx context.Context, identity string) (anchor.ID, bool, error) {
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}
	var (
		root  anchor.ID
		found bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		root, found, err = lookupIdentity(txn, identity)
		return err
	})
	if err != nil {
		return 0, false, anchor.Persistence("root_for", err)
	}
	return root, found, nil
}

func lookupIdentity(txn *badger.Txn, identity string) (anchor.ID, bool, error) {
	item, err := txn.Get(identityKey(identity))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	id, err := decodeID(raw)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// BindRoot persists a root anchor for identity unless one already exists.
//
// Description:
//
//	In one transaction: if identity is bound, the existing root is returned
//	and nothing is written; otherwise the root anchor, its owner index entry
//	and the identity binding are written together. Two processes binding the
//	same identity concurrently both end up with the first committed root.
//
// Inputs:
//
//	identity - Identity string. Must not be empty.
//	root - The candidate root anchor. Must be a root (see Anchor.IsRoot).
//
// Outputs:
//
//	*anchor.Anchor - The bound root, freshly read or the committed candidate.
//	bool - True if root was written by this call.
//	error - A PersistenceError on failure.
func (s *Store) BindRoot(ctx context.Context, identity string, root *anchor.Anchor) (*anchor.Anchor, bool, error) {
	if identity == "" {
		return nil, false, errors.New("bind root: identity must not be empty")
	}
	if root == nil || !root.IsRoot() {
		return nil, false, fmt.Errorf("bind root %s: %w", root, anchor.ErrKindMismatch)
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	ctx, span := startSpan(ctx, "BindRoot", attribute.Int64("store.root", int64(root.ID)))
	defer span.End()

	var (
		bound   *anchor.Anchor
		created bool
		err     error
	)
	for attempt := 0; attempt < maxTxnRetries; attempt++ {
		err = s.db.Update(func(txn *badger.Txn) error {
			bound, created = nil, false
			existing, found, err := lookupIdentity(txn, identity)
			if err != nil {
				return err
			}
			if found {
				bound, err = getAnchor(txn, existing)
				return err
			}

			candidate := root.Clone()
			candidate.Version = 1
			record, err := anchor.Encode(candidate)
			if err != nil {
				return err
			}
			if err := txn.Set(anchorKey(candidate.ID), record); err != nil {
				return err
			}
			if err := txn.Set(ownerKey(candidate.ID, candidate.ID), []byte{}); err != nil {
				return err
			}
			if err := txn.Set(identityKey(identity), encodeID(candidate.ID)); err != nil {
				return err
			}
			bound, created = candidate, true
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		span.RecordError(err)
		return nil, false, anchor.Persistence("bind_root", err)
	}
	if created {
		logging.WithTrace(ctx, s.logger).Info("root created",
			slog.String("identity", identity),
			slog.Uint64("root", uint64(bound.ID)))
	}
	return bound, created, nil
}

// Roots returns every identity binding.
func (s *Store) Roots(ctx context.Context) (map[string]anchor.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	roots := make(map[string]anchor.ID)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = identityPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(identityPrefix); it.ValidForPrefix(identityPrefix); it.Next() {
			item := it.Item()
			raw, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			id, err := decodeID(raw)
			if err != nil {
				return err
			}
			roots[string(item.Key()[len(identityPrefix):])] = id
		}
		return nil
	})
	if err != nil {
		return nil, anchor.Persistence("roots", err)
	}
	return roots, nil
}

// OwnedBy lists the anchors owned by root, in ID order, using the owner
// index. The root itself is included.
func (s *Store) OwnedBy(ctx context.Context, root anchor.ID) ([]anchor.ID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := ownerRootPrefix(root)
	var ids []anchor.ID
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := idFromSuffix(it.Item().Key())
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, anchor.Persistence("owned_by", err)
	}
	return ids, nil
}

// Stats counts anchors and roots and reports on-disk sizes.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	roots, err := s.Roots(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Roots: len(roots)}
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = anchorPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(anchorPrefix); it.ValidForPrefix(anchorPrefix); it.Next() {
			st.Anchors++
		}
		return nil
	})
	if err != nil {
		return Stats{}, anchor.Persistence("stats", err)
	}
	st.LSMBytes, st.VlogBytes = s.db.Size()
	return st, nil
}
