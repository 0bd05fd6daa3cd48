package types

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownType is returned when an expression or registration
	// references a type name that has not been registered.
	ErrUnknownType = errors.New("unknown semantic type")
	// ErrUnknownPredicate is returned when a type instance names a
	// predicate its base type does not declare.
	ErrUnknownPredicate = errors.New("unknown predicate")
	// ErrDuplicateType is returned when a base type name is registered
	// twice with a differing definition.
	ErrDuplicateType = errors.New("duplicate type registration")
	// ErrTypeConflict is returned when a type instance combines predicates
	// declared mutually exclusive. Rejected at construction, never at
	// dispatch time.
	ErrTypeConflict = errors.New("contradictory predicate composition")
)

// definition is the registered vocabulary entry for one base type.
type definition struct {
	name       string
	parent     string
	predicates map[Predicate]struct{}
	exclusive  [][]Predicate
}

// Registry holds the registered type vocabulary and answers subtype and
// compatibility queries. Populate during initialization; read-only after.
type Registry struct {
	defs map[string]*definition
}

// NewRegistry returns an empty type registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*definition)}
}

// RegisterOption configures a type registration.
type RegisterOption func(*definition)

// WithParent declares a hierarchy edge: the new type is a subtype of parent.
func WithParent(parent string) RegisterOption {
	return func(d *definition) { d.parent = parent }
}

// WithPredicates declares the predicates instances of this type may carry.
func WithPredicates(preds ...Predicate) RegisterOption {
	return func(d *definition) {
		for _, p := range preds {
			d.predicates[p] = struct{}{}
		}
	}
}

// WithExclusive declares a group of mutually exclusive predicates. An
// instance carrying two or more predicates from one group is rejected with
// ErrTypeConflict.
func WithExclusive(preds ...Predicate) RegisterOption {
	return func(d *definition) {
		for _, p := range preds {
			d.predicates[p] = struct{}{}
		}
		d.exclusive = append(d.exclusive, preds)
	}
}

// Register declares a base type. The parent, if any, must already be
// registered so the hierarchy is constructed bottom-up and acyclic.
func (r *Registry) Register(name string, opts ...RegisterOption) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrUnknownType)
	}
	if _, ok := r.defs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateType, name)
	}
	d := &definition{name: name, predicates: make(map[Predicate]struct{})}
	for _, opt := range opts {
		opt(d)
	}
	if d.parent != "" {
		if _, ok := r.defs[d.parent]; !ok {
			return fmt.Errorf("%w: parent %q of %q", ErrUnknownType, d.parent, name)
		}
	}
	r.defs[name] = d
	return nil
}

// Clone returns an independent copy of the registry. Used to stage and
// validate a batch of registrations without touching the shared vocabulary.
func (r *Registry) Clone() *Registry {
	out := NewRegistry()
	for name, d := range r.defs {
		cp := &definition{
			name:       d.name,
			parent:     d.parent,
			predicates: make(map[Predicate]struct{}, len(d.predicates)),
			exclusive:  append([][]Predicate(nil), d.exclusive...),
		}
		for p := range d.predicates {
			cp.predicates[p] = struct{}{}
		}
		out.defs[name] = cp
	}
	return out
}

// Registered reports whether a base type name is known.
func (r *Registry) Registered(name string) bool {
	_, ok := r.defs[name]
	return ok
}

// Make constructs a validated type instance: name must be registered, every
// predicate declared, and no mutually-exclusive pair combined.
func (r *Registry) Make(name string, preds ...Predicate) (Type, error) {
	d, ok := r.defs[name]
	if !ok {
		return Type{}, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}
	for _, p := range preds {
		if _, ok := d.predicates[p]; !ok {
			return Type{}, fmt.Errorf("%w: %s on %s", ErrUnknownPredicate, p, name)
		}
	}
	sorted := sortPredicates(preds)
	for _, group := range d.exclusive {
		n := 0
		for _, p := range group {
			for _, q := range sorted {
				if p == q {
					n++
				}
			}
		}
		if n > 1 {
			return Type{}, fmt.Errorf("%w: %s with %v", ErrTypeConflict, name, group)
		}
	}
	return Type{name: name, predicates: sorted}, nil
}

// MustMake is Make for statically-known vocabulary, panicking on error.
// Intended for plugin init code and tests.
func (r *Registry) MustMake(name string, preds ...Predicate) Type {
	t, err := r.Make(name, preds...)
	if err != nil {
		panic(err)
	}
	return t
}

// baseSubtype reports whether base type a descends from (or is) base type b.
func (r *Registry) baseSubtype(a, b string) bool {
	for cur := a; cur != ""; {
		if cur == b {
			return true
		}
		d, ok := r.defs[cur]
		if !ok {
			return false
		}
		cur = d.parent
	}
	return false
}

// Subtype reports whether a is a subtype of b. The relation is reflexive
// and transitive: the base name must descend through declared hierarchy
// edges, and a must carry every predicate b requires (more predicates =
// more specific). A union a is a subtype of b iff every member is; any b
// union member may satisfy a.
func (r *Registry) Subtype(a, b Type) bool {
	if a.IsUnion() {
		for _, m := range a.members {
			if !r.Subtype(m, b) {
				return false
			}
		}
		return len(a.members) > 0
	}
	if b.IsUnion() {
		for _, m := range b.members {
			if r.Subtype(a, m) {
				return true
			}
		}
		return false
	}
	return r.baseSubtype(a.name, b.name) && a.hasPredicates(b.predicates)
}

// Matches reports whether a candidate type satisfies a declared constraint.
// This is the dispatch-time compatibility check: subtype under hierarchy
// plus predicate narrowing, union-aware on both sides.
func (r *Registry) Matches(candidate, constraint Type) bool {
	return r.Subtype(candidate, constraint)
}
