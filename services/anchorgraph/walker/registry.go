// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package walker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/AleutianAI/anchorgraph/services/anchorgraph/anchor"
)

// Wildcard is the trigger that matches any counterpart type.
const Wildcard = "*"

// Phase is when an ability fires relative to the walker's move.
type Phase int

const (
	// Entry fires when the walker arrives at a location.
	Entry Phase = iota

	// Exit fires when the walker leaves a location.
	Exit
)

// String returns the phase name.
func (p Phase) String() string {
	if p == Exit {
		return "exit"
	}
	return "entry"
}

// AbilityFunc is an ability body. Returning Disengage or Skip controls the
// traversal; any other error fails the spawn.
type AbilityFunc func(ctx context.Context, h *Here) error

// Ability binds a body to an (owner, trigger, phase) triple.
type Ability struct {
	// Name identifies the ability in errors, logs and spans.
	Name string

	// OwnerKind is KindNode, KindEdge or KindWalker.
	OwnerKind anchor.Kind

	// OwnerType is the type tag of the owner.
	OwnerType string

	// Trigger is the counterpart type: the walker type for node and edge
	// abilities, the location type for walker abilities. Wildcard matches
	// any type.
	Trigger string

	// Phase is Entry or Exit.
	Phase Phase

	// Fn is the body.
	Fn AbilityFunc
}

type dispatchKey struct {
	kind  anchor.Kind
	owner string
	phase Phase
}

// abilitySet holds the abilities of one owner and phase.
type abilitySet struct {
	byTrigger map[string][]Ability
	wildcard  []Ability
}

// Registry is the ability dispatch table.
//
// Description:
//
//	Abilities are indexed by (owner kind, owner type, phase) and then by
//	trigger type when registered, so dispatch is a map lookup. For one
//	trigger the type-specific abilities fire in registration order; the
//	wildcard abilities fire only when no type-specific ability exists for
//	that trigger. A Registry is sealed when an Engine is built on it and
//	rejects registration afterwards.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	table  map[dispatchKey]*abilitySet
	count  int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{table: make(map[dispatchKey]*abilitySet)}
}

// Register adds abilities in order.
//
// Outputs:
//
//	error - ErrRegistrySealed after Seal, or a description of the first
//	  malformed ability. Abilities before the malformed one are kept.
func (r *Registry) Register(abilities ...Ability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	for _, a := range abilities {
		if err := validAbility(a); err != nil {
			return err
		}
		key := dispatchKey{kind: a.OwnerKind, owner: a.OwnerType, phase: a.Phase}
		set, ok := r.table[key]
		if !ok {
			set = &abilitySet{byTrigger: make(map[string][]Ability)}
			r.table[key] = set
		}
		if a.Trigger == Wildcard {
			set.wildcard = append(set.wildcard, a)
		} else {
			set.byTrigger[a.Trigger] = append(set.byTrigger[a.Trigger], a)
		}
		r.count++
	}
	return nil
}

// MustRegister is Register for static setup code. It panics on error.
func (r *Registry) MustRegister(abilities ...Ability) {
	if err := r.Register(abilities...); err != nil {
		panic(err)
	}
}

func validAbility(a Ability) error {
	switch {
	case a.Fn == nil:
		return fmt.Errorf("ability %q has no body", a.Name)
	case a.OwnerKind != anchor.KindNode && a.OwnerKind != anchor.KindEdge && a.OwnerKind != anchor.KindWalker:
		return fmt.Errorf("ability %q has invalid owner kind %s", a.Name, a.OwnerKind)
	case a.OwnerType == "":
		return fmt.Errorf("ability %q has no owner type", a.Name)
	case a.Trigger == "":
		return fmt.Errorf("ability %q has no trigger (use Wildcard)", a.Name)
	case a.Phase != Entry && a.Phase != Exit:
		return fmt.Errorf("ability %q has invalid phase %d", a.Name, a.Phase)
	}
	if a.Name == "" {
		return errors.New("ability name is required")
	}
	return nil
}

// Seal freezes the registry. Safe to call more than once.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Len returns the number of registered abilities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// Lookup returns the abilities that fire for an owner, phase and trigger.
// The result must not be modified.
func (r *Registry) Lookup(kind anchor.Kind, owner string, phase Phase, trigger string) []Ability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.table[dispatchKey{kind: kind, owner: owner, phase: phase}]
	if !ok {
		return nil
	}
	if specific := set.byTrigger[trigger]; len(specific) > 0 {
		return specific
	}
	return set.wildcard
}
