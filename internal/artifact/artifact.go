// Package artifact defines Result, the typed, provenance-stamped output of
// one action invocation. A Result exclusively owns its data view and its
// provenance node reference; alternate view materializations are cached
// behind a per-Result lock.
package artifact

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"lattice/internal/provenance"
	"lattice/internal/types"
	"lattice/internal/view"
)

// Result is the typed output of one action invocation. Its lifetime ends
// only when the caller discards it; the core never expires Results.
type Result struct {
	id     string
	typ    types.Type
	format string
	node   provenance.NodeID
	graph  *provenance.Graph

	kind  view.Kind
	value any

	mu    sync.Mutex
	cache map[view.Kind]any
}

// New wraps a produced value as a Result. The provenance node must already
// exist in the graph; there is no way to mint a Result without one.
func New(id string, typ types.Type, format string, kind view.Kind, value any, node provenance.NodeID, graph *provenance.Graph) (*Result, error) {
	if typ.IsZero() {
		return nil, fmt.Errorf("result %s: zero semantic type", id)
	}
	if _, ok := graph.Node(node); !ok {
		return nil, fmt.Errorf("result %s: %w: %s", id, provenance.ErrUnknownNode, node)
	}
	return &Result{
		id:     id,
		typ:    typ,
		format: format,
		node:   node,
		graph:  graph,
		kind:   kind,
		value:  value,
	}, nil
}

// Import mints a Result from externally-supplied data: the explicit import
// origin. This is the only provenance root besides action invocation.
func Import(graph *provenance.Graph, typ types.Type, format string, kind view.Kind, value any) (*Result, error) {
	id := uuid.NewString()
	node, err := graph.RecordImport(id, typ.String(), format, provenance.CaptureEnvironment())
	if err != nil {
		return nil, err
	}
	return New(id, typ, format, kind, value, node.ID, graph)
}

// UUID returns the result's unique identity, minted at production time.
func (r *Result) UUID() string { return r.id }

// Type returns the semantic type.
func (r *Result) Type() types.Type { return r.typ }

// Format returns the on-disk format name used when this Result is archived.
func (r *Result) Format() string { return r.format }

// Node returns the provenance node ID.
func (r *Result) Node() provenance.NodeID { return r.node }

// Graph returns the provenance graph this Result's lineage lives in.
func (r *Result) Graph() *provenance.Graph { return r.graph }

// ViewKind returns the kind of the currently-held primary view.
func (r *Result) ViewKind() view.Kind { return r.kind }

// Value returns the primary view value.
func (r *Result) Value() any { return r.value }

// Materialize returns this Result's data as the requested view kind,
// converting through the transformer graph when needed. Materialized views
// are cached: a second request for the same kind returns the cached value
// and performs zero transformer calls. The cache is guarded by the
// per-Result lock; concurrent callers may duplicate conversion work at
// worst, never corrupt state.
func (r *Result) Materialize(reg *view.Registry, kind view.Kind) (any, error) {
	if kind == "" || kind == r.kind {
		return r.value, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache[kind]; ok {
		return v, nil
	}
	v, err := reg.Convert(r.value, r.kind, kind)
	if err != nil {
		return nil, err
	}
	if r.cache == nil {
		r.cache = make(map[view.Kind]any)
	}
	r.cache[kind] = v
	return v, nil
}
