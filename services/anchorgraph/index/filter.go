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
	"cmp"
	"fmt"
	"reflect"
	"slices"

	"github.com/google/cel-go/cel"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// Filter decides whether an edge takes part in a traversal. All filters
// passed to a query must match.
type Filter func(edge *anchor.Anchor) bool

// EdgeType matches edges whose type tag is one of types.
func EdgeType(types ...string) Filter {
	return func(edge *anchor.Anchor) bool {
		return slices.Contains(types, edge.Type)
	}
}

// Op is a comparison operator for Where.
type Op int

const (
	Eq Op = iota
	Ne
	Lt
	Le
	Gt
	Ge
)

// String returns the operator symbol.
func (o Op) String() string {
	switch o {
	case Eq:
		return "=="
	case Ne:
		return "!="
	case Lt:
		return "<"
	case Le:
		return "<="
	case Gt:
		return ">"
	case Ge:
		return ">="
	default:
		return "?"
	}
}

// Where matches edges whose field compares to value.
//
// Description:
//
//	Numbers compare numerically regardless of int64/float64 storage.
//	Strings compare lexicographically. Other values support only Eq and
//	Ne. An edge without the field, or with a value that cannot be ordered
//	against value, does not match (Ne included).
//
// Inputs:
//
//	field - Edge field name.
//	op - Comparison operator.
//	value - Right-hand side. Normalized like stored fields.
func Where(field string, op Op, value any) Filter {
	want := value
	if norm, err := anchor.Normalize("", map[string]any{field: value}); err == nil {
		want = norm[field]
	}
	return func(edge *anchor.Anchor) bool {
		got, ok := edge.Field(field)
		if !ok {
			return false
		}
		return compare(got, op, want)
	}
}

func compare(got any, op Op, want any) bool {
	if c, ok := cmpInteger(got, want); ok {
		return ordered(op, c)
	}
	if a, ok := anchor.Number(got); ok {
		b, ok := anchor.Number(want)
		if !ok {
			return false
		}
		return ordered(op, cmp.Compare(a, b))
	}
	if a, ok := got.(string); ok {
		b, ok := want.(string)
		if !ok {
			return false
		}
		return ordered(op, cmp.Compare(a, b))
	}
	switch op {
	case Eq:
		return reflect.DeepEqual(got, want)
	case Ne:
		return !reflect.DeepEqual(got, want)
	default:
		return false
	}
}

// cmpInteger compares canonical integers exactly. ok is false unless both
// values are int64 or uint64.
func cmpInteger(a, b any) (c int, ok bool) {
	switch x := a.(type) {
	case int64:
		switch y := b.(type) {
		case int64:
			return cmp.Compare(x, y), true
		case uint64:
			if x < 0 {
				return -1, true
			}
			return cmp.Compare(uint64(x), y), true
		}
	case uint64:
		switch y := b.(type) {
		case uint64:
			return cmp.Compare(x, y), true
		case int64:
			if y < 0 {
				return 1, true
			}
			return cmp.Compare(x, uint64(y)), true
		}
	}
	return 0, false
}

func ordered(op Op, c int) bool {
	switch op {
	case Eq:
		return c == 0
	case Ne:
		return c != 0
	case Lt:
		return c < 0
	case Le:
		return c <= 0
	case Gt:
		return c > 0
	case Ge:
		return c >= 0
	default:
		return false
	}
}

// celEnv declares the variables visible to Expr predicates.
var celEnv, celEnvErr = cel.NewEnv(
	cel.Variable("fields", cel.MapType(cel.StringType, cel.DynType)),
	cel.Variable("type", cel.StringType),
	cel.Variable("id", cel.UintType),
	cel.CrossTypeNumericComparisons(true),
)

// Expr compiles a CEL predicate over an edge.
//
// Description:
//
//	The expression sees `fields` (the edge's fields), `type` (its type
//	tag) and `id`. It must produce a bool. An evaluation error, such as a
//	missing field, counts as no match; guard optional fields with
//	has(fields.name).
//
// Example:
//
//	f, err := index.Expr(`type == "follows" && fields.weight >= 2`)
//
// Outputs:
//
//	Filter - The compiled predicate. Safe for concurrent use.
//	error - A *anchor.ValidationError if the expression does not compile
//	  or is not boolean.
func Expr(expression string) (Filter, error) {
	if celEnvErr != nil {
		return nil, fmt.Errorf("cel environment: %w", celEnvErr)
	}
	ast, iss := celEnv.Compile(expression)
	if iss.Err() != nil {
		return nil, anchor.NewValidationError("", "expr", iss.Err().Error())
	}
	out := ast.OutputType()
	if !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, anchor.NewValidationError("", "expr",
			fmt.Sprintf("expression yields %s, want bool", out))
	}
	prg, err := celEnv.Program(ast)
	if err != nil {
		return nil, anchor.NewValidationError("", "expr", err.Error())
	}

	return func(edge *anchor.Anchor) bool {
		fields := edge.Fields
		if fields == nil {
			fields = map[string]any{}
		}
		val, _, err := prg.Eval(map[string]any{
			"fields": fields,
			"type":   edge.Type,
			"id":     uint64(edge.ID),
		})
		if err != nil {
			return false
		}
		b, ok := val.Value().(bool)
		return ok && b
	}, nil
}

func matches(edge *anchor.Anchor, filters []Filter) bool {
	for _, f := range filters {
		if !f(edge) {
			return false
		}
	}
	return true
}
