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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestCodec_RoundTrip verifies a normalized anchor decodes field-for-field
// identical, including nested values and adjacency.
func TestCodec_RoundTrip(t *testing.T) {
	fields, err := Normalize("person", map[string]any{
		"name":   "ada",
		"age":    36,
		"score":  -1.25,
		"admin":  true,
		"tags":   []string{"x", "y"},
		"nested": map[string]any{"depth": 2, "list": []any{1, "two", nil}},
		"big":    uint64(1<<63 + 5),
		"none":   nil,
	})
	require.NoError(t, err)

	in := &Anchor{
		ID:      12,
		Kind:    KindNode,
		Type:    "person",
		Root:    2,
		Fields:  fields,
		Version: 4,
		Out:     []ID{20, 21},
		In:      []ID{30},
	}

	record, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(record)
	require.NoError(t, err)

	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

// TestCodec_Edge verifies edge geometry survives encoding.
func TestCodec_Edge(t *testing.T) {
	in := &Anchor{ID: 5, Kind: KindEdge, Type: "follows", Root: 2, Fields: map[string]any{},
		Source: 3, Target: 4, Dir: Both, Version: 1}

	record, err := Encode(in)
	require.NoError(t, err)
	out, err := Decode(record)
	require.NoError(t, err)

	assert.Equal(t, in, out)
	assert.True(t, out.Bidirectional())
}

// TestCodec_Deterministic verifies equal anchors encode to equal bytes.
func TestCodec_Deterministic(t *testing.T) {
	a := &Anchor{ID: 1, Kind: KindNode, Type: "t", Fields: map[string]any{
		"a": int64(1), "b": int64(2), "c": int64(3), "d": "x", "e": true,
	}}

	first, err := Encode(a)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := Encode(a.Clone())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// TestCodec_Corruption verifies checksum and truncation failures surface as
// ErrCorrupted.
func TestCodec_Corruption(t *testing.T) {
	record, err := Encode(&Anchor{ID: 1, Kind: KindNode, Type: "t"})
	require.NoError(t, err)

	flipped := append([]byte(nil), record...)
	flipped[len(flipped)-1] ^= 0xff
	_, err = Decode(flipped)
	assert.ErrorIs(t, err, ErrCorrupted)

	_, err = Decode(record[:2])
	assert.ErrorIs(t, err, ErrCorrupted)

	out, err := Decode(record)
	require.NoError(t, err)
	assert.NotNil(t, out.Fields)
}

// TestCodec_Nil verifies a nil anchor cannot be encoded.
func TestCodec_Nil(t *testing.T) {
	_, err := Encode(nil)
	assert.Error(t, err)
}
