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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func personType() TypeDef {
	return TypeDef{
		Kind: KindNode,
		Name: "person",
		Schema: Schema{
			"name": "required,min=1",
			"age":  "omitempty,gte=0,lte=150",
		},
		Defaults: map[string]any{"active": true},
	}
}

// TestTypeRegistry_Builtins verifies root and edge types exist up front.
func TestTypeRegistry_Builtins(t *testing.T) {
	r := NewTypeRegistry()

	_, ok := r.Lookup(KindNode, TypeRoot)
	assert.True(t, ok)
	_, ok = r.Lookup(KindEdge, TypeEdge)
	assert.True(t, ok)
	_, ok = r.Lookup(KindNode, TypeEdge)
	assert.False(t, ok)
}

// TestTypeRegistry_Check verifies defaults and schema validation.
func TestTypeRegistry_Check(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Define(personType()))

	out, err := r.Check(KindNode, "person", map[string]any{"name": "ada", "age": 36})
	require.NoError(t, err)
	assert.Equal(t, "ada", out["name"])
	assert.Equal(t, int64(36), out["age"])
	assert.Equal(t, true, out["active"])

	_, err = r.Check(KindNode, "person", map[string]any{"age": 200})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "failed required", ve.Fields["name"])
	assert.Equal(t, "failed lte=150", ve.Fields["age"])
}

// TestTypeRegistry_DefaultsDoNotAlias verifies mutating a checked value
// leaves the stored default untouched.
func TestTypeRegistry_DefaultsDoNotAlias(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Define(TypeDef{
		Kind:     KindNode,
		Name:     "bag",
		Defaults: map[string]any{"items": []any{"seed"}},
	}))

	out, err := r.Check(KindNode, "bag", nil)
	require.NoError(t, err)
	out["items"].([]any)[0] = "changed"

	again, err := r.Check(KindNode, "bag", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"seed"}, again["items"])
}

// TestTypeRegistry_Closed verifies closed types reject unknown fields.
func TestTypeRegistry_Closed(t *testing.T) {
	r := NewTypeRegistry()
	def := personType()
	def.Closed = true
	def.Defaults = nil
	require.NoError(t, r.Define(def))

	_, err := r.Check(KindNode, "person", map[string]any{"name": "ada", "extra": 1})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "unknown field", ve.Fields["extra"])
}

// TestTypeRegistry_Strict verifies undefined types are rejected only in
// strict mode.
func TestTypeRegistry_Strict(t *testing.T) {
	loose := NewTypeRegistry()
	out, err := loose.Check(KindNode, "anything", map[string]any{"x": 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out["x"])

	strict := NewTypeRegistry(WithStrictTypes())
	_, err = strict.Check(KindNode, "anything", nil)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = strict.Check(KindNode, TypeRoot, nil)
	assert.NoError(t, err)
}

// TestTypeRegistry_Define verifies bad definitions fail at definition time.
func TestTypeRegistry_Define(t *testing.T) {
	r := NewTypeRegistry()

	assert.Error(t, r.Define(TypeDef{Name: "x"}))
	assert.Error(t, r.Define(TypeDef{Kind: KindNode}))
	assert.Error(t, r.Define(TypeDef{Kind: KindNode, Name: "x", Schema: Schema{"f": "no_such_tag"}}))
	assert.Error(t, r.Define(TypeDef{Kind: KindNode, Name: "x", Defaults: map[string]any{"f": struct{}{}}}))
}

// TestTypeRegistry_MismatchedRule verifies a rule that does not apply to
// the value's kind is reported instead of panicking.
func TestTypeRegistry_MismatchedRule(t *testing.T) {
	r := NewTypeRegistry()
	require.NoError(t, r.Define(TypeDef{Kind: KindNode, Name: "flag", Schema: Schema{"on": "min=1"}}))

	_, err := r.Check(KindNode, "flag", map[string]any{"on": true})
	assert.ErrorIs(t, err, ErrValidation)
}

// TestTypeRegistry_EmptyType verifies the type tag is mandatory.
func TestTypeRegistry_EmptyType(t *testing.T) {
	_, err := NewTypeRegistry().Check(KindNode, "", nil)
	assert.ErrorIs(t, err, ErrValidation)
}
