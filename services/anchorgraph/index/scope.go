// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"slices"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// Scope decides which anchors a Graph may touch.
type Scope interface {
	// Owner is the root that owns anchors created through the Graph.
	Owner() anchor.ID

	// CheckRead returns a *anchor.PermissionError if a may not be read.
	CheckRead(a *anchor.Anchor) error

	// CheckWrite returns a *anchor.PermissionError if a may not be changed.
	CheckWrite(a *anchor.Anchor) error
}

// RootScope grants read and write on anchors owned by Root and read-only
// access to anchors owned by any Shared root.
type RootScope struct {
	Root   anchor.ID
	Shared []anchor.ID
}

// Owner returns Root.
func (s RootScope) Owner() anchor.ID {
	return s.Root
}

// CheckRead allows Root and Shared.
func (s RootScope) CheckRead(a *anchor.Anchor) error {
	if a.Root == s.Root || slices.Contains(s.Shared, a.Root) {
		return nil
	}
	return s.deny(a, "read")
}

// CheckWrite allows Root only.
func (s RootScope) CheckWrite(a *anchor.Anchor) error {
	if a.Root == s.Root {
		return nil
	}
	return s.deny(a, "write")
}

func (s RootScope) deny(a *anchor.Anchor, op string) error {
	permissionDenials.WithLabelValues(op).Inc()
	return &anchor.PermissionError{Anchor: a.ID, Owner: a.Root, Scope: s.Root, Op: op}
}
