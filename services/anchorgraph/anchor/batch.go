// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package anchor

import (
	"fmt"
	"strings"
)

// ConflictPolicy decides what a commit does when the durable copy of an
// anchor changed after the session loaded it.
type ConflictPolicy int

const (
	// LastWriteWins overwrites the durable copy unconditionally.
	LastWriteWins ConflictPolicy = iota

	// RejectStale fails the whole commit with ErrConflict when any written
	// or deleted anchor's durable version differs from the loaded version.
	RejectStale
)

// String returns the configuration name of the policy.
func (p ConflictPolicy) String() string {
	switch p {
	case RejectStale:
		return "reject_stale"
	default:
		return "last_write_wins"
	}
}

// ParseConflictPolicy parses the configuration name of a policy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(s) {
	case "", "last_write_wins", "lww":
		return LastWriteWins, nil
	case "reject_stale", "optimistic":
		return RejectStale, nil
	default:
		return LastWriteWins, fmt.Errorf("unknown conflict policy %q", s)
	}
}

// Batch is the set of changes one session flushes in a single commit.
type Batch struct {
	// Puts are the anchors to write. The durable tier sets each Version to
	// the stored version plus one.
	Puts []*Anchor

	// Deletes are the anchors to remove. Unknown IDs are ignored.
	Deletes []ID

	// Base holds, per anchor, the version the session loaded. Anchors
	// created in the session have base zero. Only consulted by RejectStale.
	Base map[ID]uint64

	// Policy selects conflict handling.
	Policy ConflictPolicy
}

// Empty reports whether the batch has nothing to write.
func (b *Batch) Empty() bool {
	return len(b.Puts) == 0 && len(b.Deletes) == 0
}
