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
	"math"
	"time"
)

// Normalize converts field values to their canonical stored form.
//
// Description:
//
//	Canonical values survive an encode/decode cycle unchanged, which is
//	what makes L1, L2 and L3 observe field-for-field identical state:
//	  - nil, bool, string are kept
//	  - every integer type becomes int64 (uint64 above MaxInt64 stays uint64)
//	  - float32 becomes float64
//	  - []byte becomes string
//	  - time.Time becomes its RFC 3339 nano string in UTC
//	  - []any, []string, []int64, []float64 become []any of canonical values
//	  - map[string]any and map[string]string become map[string]any
//
//	Anything else (structs, channels, funcs, maps with non-string keys) is
//	rejected.
//
// Inputs:
//
//	typ - Type tag, used only for error reporting.
//	fields - The raw fields. May be nil.
//
// Outputs:
//
//	map[string]any - A new canonical map. Never nil.
//	error - A *ValidationError naming each malformed field.
func Normalize(typ string, fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	var problems map[string]string
	for name, v := range fields {
		if name == "" {
			if problems == nil {
				problems = make(map[string]string)
			}
			problems[""] = "empty field name"
			continue
		}
		cv, err := canonical(v)
		if err != nil {
			if problems == nil {
				problems = make(map[string]string)
			}
			problems[name] = err.Error()
			continue
		}
		out[name] = cv
	}
	if problems != nil {
		return nil, &ValidationError{Type: typ, Fields: problems}
	}
	return out, nil
}

func canonical(v any) (any, error) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return canonicalUint(uint64(x)), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return canonicalUint(x), nil
	case float32:
		return float64(x), nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case ID:
		return canonicalUint(uint64(x)), nil
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			ce, err := canonical(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = ce
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []int64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case []float64:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case map[string]string:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = e
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			ce, err := canonical(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = ce
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}

func canonicalUint(n uint64) any {
	if n > math.MaxInt64 {
		return n
	}
	return int64(n)
}

// cloneFields deep-copies a canonical field map.
func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		return cloneFields(x)
	default:
		return x
	}
}

// Number converts a canonical numeric value to float64.
//
// Outputs:
//
//	float64 - The value.
//	bool - False if v is not numeric.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case float32:
		return float64(x), true
	default:
		return 0, false
	}
}
