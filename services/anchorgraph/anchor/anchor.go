// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package anchor defines the persisted identity of every graph-resident value.
//
// An Anchor wraps a node, an edge or (transiently) a walker with a stable
// numeric ID, a type tag, canonical field state and the ID of the root that
// owns it. Anchors reference each other only by ID, never by pointer, so the
// graph is an arena that can contain arbitrary cycles and serializes without
// any pointer fix-up.
//
// # Ownership Model
//
// Anchors handed out by the memory tiers are copies. Callers mutate their copy
// and write it back through a session; nothing else observes the mutation
// until it is put.
//
// # Thread Safety
//
// An Anchor value is NOT safe for concurrent mutation. Sessions never share
// Anchor pointers with each other.
package anchor

import (
	"fmt"
	"slices"
	"strconv"
)

// ID identifies an anchor. IDs are allocated from a monotonic persistent
// sequence and are never reused. The zero ID is never allocated.
type ID uint64

// String returns the decimal form of the ID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Valid reports whether the ID could have been allocated.
func (id ID) Valid() bool {
	return id != 0
}

// ParseID parses the decimal form produced by String.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse anchor id %q: %w", s, err)
	}
	return ID(n), nil
}

// Kind is the archetype of an anchored value.
type Kind uint8

const (
	// KindUnknown is the zero value and never stored.
	KindUnknown Kind = iota

	// KindNode marks a node anchor.
	KindNode

	// KindEdge marks an edge anchor.
	KindEdge

	// KindWalker marks a walker. Walkers are ephemeral and never persisted;
	// the kind exists so abilities can be keyed by owner kind.
	KindWalker
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindEdge:
		return "edge"
	case KindWalker:
		return "walker"
	default:
		return "unknown"
	}
}

// Direction holds the traversal flags of an edge.
//
// A plain edge is Forward only. A bidirectional edge carries both flags on a
// single anchor rather than being materialized as two anchors.
type Direction uint8

const (
	// Forward allows traversal from Source to Target.
	Forward Direction = 1 << iota

	// Backward allows traversal from Target to Source.
	Backward

	// Both is a bidirectional edge.
	Both = Forward | Backward
)

// Reserved type tags.
const (
	// TypeRoot is the type tag of every root node (system, guest, user).
	TypeRoot = "root"

	// TypeEdge is the type tag used by untyped connects.
	TypeEdge = "edge"
)

// Anchor is the persisted identity and state wrapper for a node or an edge.
//
// Node anchors use Out/In; edge anchors use Source/Target/Dir. The unused
// group stays empty and is omitted from the encoded form.
type Anchor struct {
	// ID is the stable identity. Never reused.
	ID ID `msgpack:"id"`

	// Kind is node or edge.
	Kind Kind `msgpack:"kind"`

	// Type is the user-defined type tag ("person", "follows", ...).
	Type string `msgpack:"type"`

	// Root is the ID of the root that owns this anchor. Roots own themselves.
	Root ID `msgpack:"root"`

	// Fields is the canonical field state (see Normalize).
	Fields map[string]any `msgpack:"fields"`

	// Version counts committed writes. Zero means never committed.
	Version uint64 `msgpack:"ver"`

	// Out lists edge anchors whose Source is this node, in creation order.
	Out []ID `msgpack:"out,omitempty"`

	// In lists edge anchors whose Target is this node, in creation order.
	In []ID `msgpack:"in,omitempty"`

	// Source is the tail node of an edge.
	Source ID `msgpack:"src,omitempty"`

	// Target is the head node of an edge.
	Target ID `msgpack:"dst,omitempty"`

	// Dir holds the direction flags of an edge.
	Dir Direction `msgpack:"dir,omitempty"`
}

// IsNode reports whether the anchor is a node.
func (a *Anchor) IsNode() bool {
	return a.Kind == KindNode
}

// IsEdge reports whether the anchor is an edge.
func (a *Anchor) IsEdge() bool {
	return a.Kind == KindEdge
}

// IsRoot reports whether the anchor is a root node.
func (a *Anchor) IsRoot() bool {
	return a.Kind == KindNode && a.Type == TypeRoot && a.Root == a.ID
}

// Bidirectional reports whether an edge can be walked both ways.
func (a *Anchor) Bidirectional() bool {
	return a.Dir&Both == Both
}

// Opposite returns the endpoint of an edge that is not node.
//
// For a self-loop both endpoints are node and node is returned.
func (a *Anchor) Opposite(node ID) ID {
	if a.Source == node {
		return a.Target
	}
	return a.Source
}

// Field returns a field value and whether it was set.
func (a *Anchor) Field(name string) (any, bool) {
	v, ok := a.Fields[name]
	return v, ok
}

// Clone returns a deep copy of the anchor.
//
// Description:
//
//	Copies the adjacency slices and deep-copies the field map so the
//	returned value can be mutated without affecting the source. Field
//	values are assumed canonical (see Normalize).
//
// Outputs:
//
//	*Anchor - The copy. Nil if a is nil.
func (a *Anchor) Clone() *Anchor {
	if a == nil {
		return nil
	}
	c := *a
	c.Fields = cloneFields(a.Fields)
	c.Out = slices.Clone(a.Out)
	c.In = slices.Clone(a.In)
	return &c
}

// String returns a short human readable form, e.g. "node:person#12".
func (a *Anchor) String() string {
	if a == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s:%s#%d", a.Kind, a.Type, a.ID)
}

// removeID deletes the first occurrence of id from ids, preserving order.
func removeID(ids []ID, id ID) []ID {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

// DetachEdge removes edge from the node's Out and In lists.
//
// A self-loop edge appears in both lists and is removed from both.
func (a *Anchor) DetachEdge(edge ID) {
	a.Out = removeID(a.Out, edge)
	a.In = removeID(a.In, edge)
}
