// Package types implements the semantic type system: a runtime-extensible
// hierarchy of named types refined by predicates, with union composition and
// subtype/compatibility checks. Plugins register vocabulary once during
// initialization; all dispatch-time checks are pure reads.
package types

import (
	"sort"
	"strings"
)

// Predicate is a named refinement of a semantic type ("Aligned", "Rooted").
// A type carrying more predicates is more specific than the same base type
// carrying fewer.
type Predicate string

// Type is an immutable semantic type value: either a single base type with a
// sorted predicate set, or a union of alternatives. The zero Type is invalid.
type Type struct {
	name       string
	predicates []Predicate // sorted, deduplicated
	members    []Type      // non-empty iff union
}

// Name returns the base type name, or "" for a union.
func (t Type) Name() string { return t.name }

// Predicates returns the sorted predicate set. The returned slice must not
// be modified.
func (t Type) Predicates() []Predicate { return t.predicates }

// IsUnion reports whether t is a union of alternatives.
func (t Type) IsUnion() bool { return len(t.members) > 0 }

// Members returns the union alternatives, or nil for a non-union type.
func (t Type) Members() []Type { return t.members }

// IsZero reports whether t is the invalid zero value.
func (t Type) IsZero() bool { return t.name == "" && len(t.members) == 0 }

// String renders the canonical form: "Seq[Aligned,Trimmed]" for refined
// types, "A | B" for unions. The canonical form is stable and is used as
// the identity of the type in signatures and archives.
func (t Type) String() string {
	if t.IsUnion() {
		parts := make([]string, len(t.members))
		for i, m := range t.members {
			parts[i] = m.String()
		}
		return strings.Join(parts, " | ")
	}
	if len(t.predicates) == 0 {
		return t.name
	}
	preds := make([]string, len(t.predicates))
	for i, p := range t.predicates {
		preds[i] = string(p)
	}
	return t.name + "[" + strings.Join(preds, ",") + "]"
}

// Equal reports canonical equality.
func (t Type) Equal(o Type) bool { return t.String() == o.String() }

// hasPredicates reports whether t carries every predicate in want.
func (t Type) hasPredicates(want []Predicate) bool {
	have := make(map[Predicate]struct{}, len(t.predicates))
	for _, p := range t.predicates {
		have[p] = struct{}{}
	}
	for _, p := range want {
		if _, ok := have[p]; !ok {
			return false
		}
	}
	return true
}

func sortPredicates(preds []Predicate) []Predicate {
	if len(preds) == 0 {
		return nil
	}
	out := make([]Predicate, 0, len(preds))
	seen := make(map[Predicate]struct{}, len(preds))
	for _, p := range preds {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Union returns the normalized union of ts: members are flattened,
// deduplicated, and sorted by canonical form. A union of one collapses to
// its sole member.
func Union(ts ...Type) Type {
	var flat []Type
	for _, t := range ts {
		if t.IsUnion() {
			flat = append(flat, t.members...)
		} else {
			flat = append(flat, t)
		}
	}
	seen := make(map[string]struct{}, len(flat))
	var members []Type
	for _, t := range flat {
		key := t.String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		members = append(members, t)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].String() < members[j].String()
	})
	if len(members) == 1 {
		return members[0]
	}
	return Type{members: members}
}
