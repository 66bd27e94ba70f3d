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
	"sort"
	"strings"
)

// Sentinel errors. Typed errors below match these with errors.Is.
var (
	// ErrNotFound is returned when an anchor lookup misses every tier, or the
	// anchor was deleted. It is a local, recoverable signal.
	ErrNotFound = errors.New("anchor not found")

	// ErrPermissionDenied is matched by *PermissionError.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrValidation is matched by *ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrAbility is matched by *AbilityError.
	ErrAbility = errors.New("ability failed")

	// ErrPersistence is matched by *PersistenceError.
	ErrPersistence = errors.New("persistence failed")

	// ErrConflict is returned (wrapped in a PersistenceError) when a stale
	// anchor is committed under the reject-stale conflict policy.
	ErrConflict = errors.New("anchor was modified by another session")

	// ErrBatchTooLarge is returned (wrapped in a PersistenceError) when a
	// commit exceeds the store's transaction limits. Retrying the same batch
	// cannot succeed; commit the work in smaller sessions.
	ErrBatchTooLarge = errors.New("commit batch exceeds transaction limits")

	// ErrCorrupted is returned (wrapped in a PersistenceError) when a stored
	// record fails its checksum or cannot be decoded.
	ErrCorrupted = errors.New("anchor record corrupted")

	// ErrKindMismatch is returned when an operation expects a node but gets an
	// edge, or the reverse.
	ErrKindMismatch = errors.New("anchor kind mismatch")
)

// NotFound returns ErrNotFound annotated with the missing ID.
func NotFound(id ID) error {
	return fmt.Errorf("anchor %d: %w", id, ErrNotFound)
}

// PermissionError reports a cross-root access attempt.
type PermissionError struct {
	// Anchor is the anchor that was accessed.
	Anchor ID

	// Owner is the root that owns Anchor.
	Owner ID

	// Scope is the root of the acting context.
	Scope ID

	// Op is "read" or "write".
	Op string
}

// Error implements error.
func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s of anchor %d owned by root %d from root %d",
		e.Op, e.Anchor, e.Owner, e.Scope)
}

// Is matches ErrPermissionDenied.
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// ValidationError reports malformed field values or a schema failure.
type ValidationError struct {
	// Type is the type tag being validated.
	Type string

	// Fields maps field name to problem. A single "" key is used for
	// problems that are not tied to one field.
	Fields map[string]string
}

// NewValidationError returns a ValidationError with a single problem.
func NewValidationError(typ, field, problem string) *ValidationError {
	return &ValidationError{Type: typ, Fields: map[string]string{field: problem}}
}

// Error implements error. Problems are listed in field order.
func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		if name == "" {
			parts = append(parts, e.Fields[name])
			continue
		}
		parts = append(parts, name+": "+e.Fields[name])
	}
	return fmt.Sprintf("invalid %q: %s", e.Type, strings.Join(parts, "; "))
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// AbilityError wraps an unhandled failure raised inside an ability body.
type AbilityError struct {
	// Ability is the registered name of the failing ability.
	Ability string

	// Location is the anchor the walker occupied. Zero for walker locations.
	Location ID

	// LocationType is the type tag of the location.
	LocationType string

	// Cause is the underlying error. A recovered panic is converted to an
	// error here.
	Cause error
}

// Error implements error.
func (e *AbilityError) Error() string {
	return fmt.Sprintf("ability %q at %s#%d: %v", e.Ability, e.LocationType, e.Location, e.Cause)
}

// Unwrap returns the cause.
func (e *AbilityError) Unwrap() error {
	return e.Cause
}

// Is matches ErrAbility.
func (e *AbilityError) Is(target error) bool {
	return target == ErrAbility
}

// PersistenceError reports a durable tier failure. Dirty session state is
// left intact so the failing operation can be retried.
type PersistenceError struct {
	// Op names the failing operation ("get", "commit", "next_id", ...).
	Op string

	// Cause is the underlying error.
	Cause error
}

// Error implements error.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s: %v", e.Op, e.Cause)
}

// Unwrap returns the cause.
func (e *PersistenceError) Unwrap() error {
	return e.Cause
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// Persistence wraps err in a PersistenceError unless it already is one or
// is a NotFound miss.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPersistence) || errors.Is(err, ErrNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Cause: err}
}
