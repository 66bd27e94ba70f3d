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
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Schema maps a field name to a go-playground/validator tag, for example
// {"name": "required,min=1", "age": "omitempty,gte=0,lte=150"}.
type Schema map[string]string

// TypeDef declares a node, edge or walker type.
type TypeDef struct {
	// Kind is the archetype the type belongs to.
	Kind Kind

	// Name is the type tag.
	Name string

	// Schema holds per-field validation rules. Optional.
	Schema Schema

	// Defaults are applied to fields missing at creation time.
	Defaults map[string]any

	// Closed rejects fields that are not named in Schema.
	Closed bool
}

type typeKey struct {
	kind Kind
	name string
}

// TypeRegistry holds the declared archetypes and validates field state
// against them.
//
// Thread Safety: All methods are safe for concurrent use.
type TypeRegistry struct {
	mu       sync.RWMutex
	types    map[typeKey]TypeDef
	strict   bool
	validate *validator.Validate
}

// RegistryOption configures a TypeRegistry.
type RegistryOption func(*TypeRegistry)

// WithStrictTypes rejects fields for types that were never defined.
func WithStrictTypes() RegistryOption {
	return func(r *TypeRegistry) {
		r.strict = true
	}
}

// NewTypeRegistry creates a registry with the built-in root and default
// edge types already defined.
func NewTypeRegistry(opts ...RegistryOption) *TypeRegistry {
	r := &TypeRegistry{
		types:    make(map[typeKey]TypeDef),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.types[typeKey{KindNode, TypeRoot}] = TypeDef{Kind: KindNode, Name: TypeRoot}
	r.types[typeKey{KindEdge, TypeEdge}] = TypeDef{Kind: KindEdge, Name: TypeEdge}
	return r
}

// Define registers a type.
//
// Description:
//
//	Every schema tag is exercised once against a nil value so that a
//	misspelled validator tag fails here instead of at the first create.
//	Redefining a type replaces it.
//
// Inputs:
//
//	def - The type definition. Kind and Name are required.
//
// Outputs:
//
//	error - Non-nil if the definition is incomplete or a tag is invalid.
func (r *TypeRegistry) Define(def TypeDef) (err error) {
	if def.Kind == KindUnknown || def.Name == "" {
		return errors.New("type definition requires kind and name")
	}
	for field, tag := range def.Schema {
		if err := r.checkTag(tag); err != nil {
			return fmt.Errorf("type %s field %s: %w", def.Name, field, err)
		}
	}
	if def.Defaults != nil {
		defaults, err := Normalize(def.Name, def.Defaults)
		if err != nil {
			return err
		}
		def.Defaults = defaults
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.types[typeKey{def.Kind, def.Name}] = def
	return nil
}

// checkTag runs tag against nil, turning the validator's panic on unknown
// tags into an error.
func (r *TypeRegistry) checkTag(tag string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("invalid validation tag %q: %v", tag, p)
		}
	}()
	_ = r.validate.Var(nil, tag)
	return nil
}

// Lookup returns the definition of a type.
func (r *TypeRegistry) Lookup(kind Kind, name string) (TypeDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.types[typeKey{kind, name}]
	return def, ok
}

// Check normalizes and validates fields for a type.
//
// Description:
//
//	Normalizes every value (see Normalize), fills defaults for missing
//	fields and then validates each schema field with its tag. All problems
//	are collected into one ValidationError.
//
// Inputs:
//
//	kind - Archetype of the value being created.
//	typ - Type tag. Must not be empty.
//	fields - Raw field values. May be nil.
//
// Outputs:
//
//	map[string]any - Canonical fields ready to store.
//	error - *ValidationError on any problem.
//
// Thread Safety: Safe for concurrent use.
func (r *TypeRegistry) Check(kind Kind, typ string, fields map[string]any) (map[string]any, error) {
	if typ == "" {
		return nil, NewValidationError(typ, "", "type tag is required")
	}
	out, err := Normalize(typ, fields)
	if err != nil {
		return nil, err
	}

	def, ok := r.Lookup(kind, typ)
	if !ok {
		if r.strict {
			return nil, NewValidationError(typ, "", fmt.Sprintf("undefined %s type", kind))
		}
		return out, nil
	}

	for name, v := range def.Defaults {
		if _, set := out[name]; !set {
			out[name] = cloneValue(v)
		}
	}

	problems := make(map[string]string)
	if def.Closed {
		for name := range out {
			if _, known := def.Schema[name]; !known {
				problems[name] = "unknown field"
			}
		}
	}
	for name, tag := range def.Schema {
		if err := r.run(out[name], tag); err != nil {
			problems[name] = describe(err)
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Type: typ, Fields: problems}
	}
	return out, nil
}

// run validates one value. The validator panics when a tag does not apply
// to the value's kind (min on a bool, say); that is reported as a failure.
func (r *TypeRegistry) run(v any, tag string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("value of type %T does not fit rule %q", v, tag)
		}
	}()
	return r.validate.Var(v, tag)
}

// describe renders a validator error without the struct-oriented prefix.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		if fe.Param() != "" {
			return fmt.Sprintf("failed %s=%s", fe.Tag(), fe.Param())
		}
		return "failed " + fe.Tag()
	}
	return err.Error()
}
