// Package view maps semantic types to their concrete in-memory
// representations and holds the directed graph of transformers between
// them. Dispatch uses FindPath to materialize whatever representation an
// action's function requires from whatever a Result currently holds.
package view

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

var (
	// ErrUnknownView is returned when a transformer or path query names a
	// view kind that was never registered.
	ErrUnknownView = errors.New("unknown view kind")
	// ErrNoPath is returned when source and target views sit in
	// disconnected components of the transformer graph.
	ErrNoPath = errors.New("no transformer path")
)

// Kind names a concrete data representation ("fasta-file", "seq-records").
// Kinds are distinct from semantic types: the type says what data means,
// the kind says how it is held.
type Kind string

// Func converts one representation value into another. Transformers must be
// pure: no side effects on the source value.
type Func func(v any) (any, error)

// Transformer is one declared edge of the conversion graph.
type Transformer struct {
	From Kind
	To   Kind
	fn   Func
}

// Apply runs the conversion.
func (t Transformer) Apply(v any) (any, error) {
	out, err := t.fn(v)
	if err != nil {
		return nil, fmt.Errorf("transform %s to %s: %w", t.From, t.To, err)
	}
	return out, nil
}

type pathKey struct{ from, to Kind }

// Registry holds registered views and transformers. Populate during
// initialization; read-only during dispatch.
type Registry struct {
	kinds     map[Kind]struct{}
	kindOrder []Kind
	byType    map[string][]Kind        // semantic type name -> kinds, registration order
	edges     map[Kind][]Transformer   // from -> outgoing edges, registration order
	paths     *lru.Cache[pathKey, []Transformer]
}

// NewRegistry returns an empty view registry.
func NewRegistry() *Registry {
	cache, _ := lru.New[pathKey, []Transformer](256)
	return &Registry{
		kinds:  make(map[Kind]struct{}),
		byType: make(map[string][]Kind),
		edges:  make(map[Kind][]Transformer),
		paths:  cache,
	}
}

// RegisterView associates a view kind with a semantic type name. The first
// kind registered for a type is its canonical view. Registering the same
// pair twice is a no-op.
func (r *Registry) RegisterView(typeName string, kind Kind) {
	if _, ok := r.kinds[kind]; !ok {
		r.kinds[kind] = struct{}{}
		r.kindOrder = append(r.kindOrder, kind)
	}
	for _, k := range r.byType[typeName] {
		if k == kind {
			return
		}
	}
	r.byType[typeName] = append(r.byType[typeName], kind)
}

// KindsFor returns the view kinds registered for a semantic type name, in
// registration order. The first entry is the canonical view.
func (r *Registry) KindsFor(typeName string) []Kind {
	return r.byType[typeName]
}

// Registered reports whether kind is known.
func (r *Registry) Registered(kind Kind) bool {
	_, ok := r.kinds[kind]
	return ok
}

// RegisterTransformer declares a conversion edge. Both endpoints must have
// been registered as views first.
func (r *Registry) RegisterTransformer(from, to Kind, fn Func) error {
	if _, ok := r.kinds[from]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, from)
	}
	if _, ok := r.kinds[to]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownView, to)
	}
	if fn == nil {
		return fmt.Errorf("transformer %s to %s: nil func", from, to)
	}
	r.edges[from] = append(r.edges[from], Transformer{From: from, To: to, fn: fn})
	r.paths.Purge()
	return nil
}

// FindPath returns a shortest transformer sequence converting from one view
// kind to another. Edges are unweighted; ties break by registration order,
// so the result is deterministic for identical registrations. An identity
// query returns an empty path. Resolved paths are memoized; the memo is an
// optimization only and never changes the answer.
func (r *Registry) FindPath(from, to Kind) ([]Transformer, error) {
	if _, ok := r.kinds[from]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, from)
	}
	if _, ok := r.kinds[to]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownView, to)
	}
	if from == to {
		return nil, nil
	}
	key := pathKey{from, to}
	if p, ok := r.paths.Get(key); ok {
		return p, nil
	}

	// BFS; neighbor expansion follows edge registration order.
	prev := make(map[Kind]Transformer)
	visited := map[Kind]struct{}{from: {}}
	queue := []Kind{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range r.edges[cur] {
			if _, ok := visited[e.To]; ok {
				continue
			}
			visited[e.To] = struct{}{}
			prev[e.To] = e
			if e.To == to {
				path := assemble(prev, from, to)
				r.paths.Add(key, path)
				return path, nil
			}
			queue = append(queue, e.To)
		}
	}
	return nil, fmt.Errorf("%w: %s to %s", ErrNoPath, from, to)
}

func assemble(prev map[Kind]Transformer, from, to Kind) []Transformer {
	var rev []Transformer
	for cur := to; cur != from; {
		e := prev[cur]
		rev = append(rev, e)
		cur = e.From
	}
	path := make([]Transformer, len(rev))
	for i, e := range rev {
		path[len(rev)-1-i] = e
	}
	return path
}

// Convert applies the shortest path from one view kind to another to a
// value. With from == to the value is returned untouched.
func (r *Registry) Convert(v any, from, to Kind) (any, error) {
	path, err := r.FindPath(from, to)
	if err != nil {
		return nil, err
	}
	for _, t := range path {
		if v, err = t.Apply(v); err != nil {
			return nil, err
		}
	}
	return v, nil
}
