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
	"slices"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// entry is one L1 slot.
type entry struct {
	anchor *anchor.Anchor

	// dirty marks an uncommitted put or delete.
	dirty bool

	// deleted is a tombstone. The anchor is kept for its Root.
	deleted bool

	// created marks an anchor allocated in this session and never
	// committed. Deleting it needs no durable write.
	created bool

	// base is the durable version the session loaded.
	base uint64
}

// Volatile is the L1 tier: the anchors one session has touched.
//
// Nothing is evicted. Volatile is not safe for concurrent use.
type Volatile struct {
	entries map[anchor.ID]*entry
}

// NewVolatile creates an empty L1.
func NewVolatile() *Volatile {
	return &Volatile{entries: make(map[anchor.ID]*entry)}
}

func (v *Volatile) get(id anchor.ID) (*entry, bool) {
	e, ok := v.entries[id]
	return e, ok
}

// loaded records an anchor read from a lower tier.
func (v *Volatile) loaded(a *anchor.Anchor) *entry {
	e := &entry{anchor: a, base: a.Version}
	v.entries[a.ID] = e
	return e
}

// put stores a mutation, keeping the base version of an earlier load.
func (v *Volatile) put(a *anchor.Anchor, created bool) {
	if e, ok := v.entries[a.ID]; ok {
		e.anchor = a
		e.dirty = true
		e.deleted = false
		return
	}
	v.entries[a.ID] = &entry{anchor: a, dirty: true, created: created, base: a.Version}
}

// tombstone marks id deleted. The entry must exist.
func (v *Volatile) tombstone(id anchor.ID) {
	e := v.entries[id]
	e.dirty = true
	e.deleted = true
}

// dirtyIDs lists dirty IDs in ascending order.
func (v *Volatile) dirtyIDs() []anchor.ID {
	var ids []anchor.ID
	for id, e := range v.entries {
		if e.dirty {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// Len returns the number of anchors held, tombstones included.
func (v *Volatile) Len() int {
	return len(v.entries)
}

// Dirty returns the number of uncommitted changes.
func (v *Volatile) Dirty() int {
	n := 0
	for _, e := range v.entries {
		if e.dirty {
			n++
		}
	}
	return n
}

// reset drops everything.
func (v *Volatile) reset() {
	clear(v.entries)
}
