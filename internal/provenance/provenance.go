// Package provenance records how every Result was produced. Nodes live in
// an append-only arena and reference each other by content-hash ID rather
// than live pointers, so the lineage DAG survives serialization and can be
// reconstructed from an archive without re-execution.
package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnknownNode is returned when a parent or query references an ID
	// not present in the graph.
	ErrUnknownNode = errors.New("unknown provenance node")
)

// NodeID is the content hash of a node's canonical record (sha256, hex).
type NodeID string

// Kind distinguishes how a Result came to be.
type Kind string

const (
	KindAction   Kind = "action"
	KindPipeline Kind = "pipeline"
	KindImport   Kind = "import"
)

// CallRecord is one nested invocation made by a pipeline, in call order.
type CallRecord struct {
	Plugin  string `yaml:"plugin"`
	Action  string `yaml:"action"`
	Version string `yaml:"version"`
	Node    NodeID `yaml:"node"`
}

// Node is the immutable production record of one Result. Parents are weak
// lineage links by ID; a node can only reference nodes that already existed
// when it was created, so the graph is structurally acyclic.
type Node struct {
	ID          NodeID         `yaml:"id"`
	Kind        Kind           `yaml:"kind"`
	Plugin      string         `yaml:"plugin,omitempty"`
	Action      string         `yaml:"action,omitempty"`
	Version     string         `yaml:"version,omitempty"`
	OutputName  string         `yaml:"output,omitempty"`
	UUID        string         `yaml:"uuid,omitempty"`   // minted per invocation; keeps repeat runs distinct
	Type        string         `yaml:"type,omitempty"`   // import nodes: declared semantic type
	Format      string         `yaml:"format,omitempty"` // import nodes: source format
	Parameters  map[string]any `yaml:"-"`
	Parents     []NodeID       `yaml:"parents,omitempty"`
	Environment Environment    `yaml:"environment"`
	Calls       []CallRecord   `yaml:"calls,omitempty"` // pipeline nodes only
}

// Graph is the append-only arena of provenance nodes. Node creation is
// atomic with respect to concurrent readers: a node is either fully
// constructed and linked or not visible at all.
type Graph struct {
	mu    sync.RWMutex
	nodes map[NodeID]*Node
	order []NodeID // insertion order, for deterministic serialization
}

// NewGraph returns an empty provenance graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[NodeID]*Node)}
}

// Spec describes a node to be recorded. The ID is derived from the content,
// never supplied.
type Spec struct {
	Kind        Kind
	Plugin      string
	Action      string
	Version     string
	OutputName  string
	UUID        string
	Type        string
	Format      string
	Parameters  map[string]any
	Parents     []NodeID
	Environment Environment
	Calls       []CallRecord
}

// Record appends a node. All parents must already exist in the graph; there
// is no update or delete. Returns the fully-linked node.
func (g *Graph) Record(spec Spec) (*Node, error) {
	n := &Node{
		Kind:        spec.Kind,
		Plugin:      spec.Plugin,
		Action:      spec.Action,
		Version:     spec.Version,
		OutputName:  spec.OutputName,
		UUID:        spec.UUID,
		Type:        spec.Type,
		Format:      spec.Format,
		Parameters:  spec.Parameters,
		Parents:     append([]NodeID(nil), spec.Parents...),
		Environment: spec.Environment,
		Calls:       append([]CallRecord(nil), spec.Calls...),
	}
	id, err := contentID(n)
	if err != nil {
		return nil, err
	}
	n.ID = id

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, p := range n.Parents {
		if _, ok := g.nodes[p]; !ok {
			return nil, fmt.Errorf("%w: parent %s", ErrUnknownNode, p)
		}
	}
	for _, c := range n.Calls {
		if _, ok := g.nodes[c.Node]; !ok {
			return nil, fmt.Errorf("%w: nested call %s", ErrUnknownNode, c.Node)
		}
	}
	if _, ok := g.nodes[id]; !ok {
		g.nodes[id] = n
		g.order = append(g.order, id)
	}
	return g.nodes[id], nil
}

// RecordImport appends an explicit import-origin node: the only way to mint
// a Result that was not produced by an action invocation.
func (g *Graph) RecordImport(uuid, typeName, formatName string, env Environment) (*Node, error) {
	return g.Record(Spec{
		Kind:        KindImport,
		UUID:        uuid,
		Type:        typeName,
		Format:      formatName,
		Environment: env,
	})
}

// Adopt inserts an already-identified node read back from an archive. The
// node's ID must match its content; parents may be adopted in any order as
// long as the full subgraph is adopted before queries.
func (g *Graph) Adopt(n *Node) error {
	id, err := contentID(n)
	if err != nil {
		return err
	}
	if n.ID != id {
		return fmt.Errorf("provenance node %s: content hash mismatch (computed %s)", n.ID, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.nodes[n.ID]; !ok {
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	return nil
}

// Node returns a node by ID.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Len reports the number of recorded nodes.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Ancestors returns every node transitively reachable through parent and
// nested-call links from id, excluding id itself, in arena insertion order.
func (g *Graph) Ancestors(id NodeID) ([]*Node, error) {
	sub, err := g.Subgraph(id)
	if err != nil {
		return nil, err
	}
	out := sub[:0]
	for _, n := range sub {
		if n.ID != id {
			out = append(out, n)
		}
	}
	return out, nil
}

// Subgraph returns id plus all its ancestors in arena insertion order,
// which is a valid topological order (parents precede children). This is
// exactly the slice an archive must serialize.
func (g *Graph) Subgraph(id NodeID) ([]*Node, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.nodes[id]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, id)
	}
	reach := make(map[NodeID]struct{})
	var visit func(NodeID)
	visit = func(cur NodeID) {
		if _, ok := reach[cur]; ok {
			return
		}
		reach[cur] = struct{}{}
		n := g.nodes[cur]
		for _, p := range n.Parents {
			visit(p)
		}
		for _, c := range n.Calls {
			visit(c.Node)
		}
	}
	visit(id)

	out := make([]*Node, 0, len(reach))
	for _, oid := range g.order {
		if _, ok := reach[oid]; ok {
			out = append(out, g.nodes[oid])
		}
	}
	return out, nil
}

// record is the canonical serialized form of a node. Parameters are held as
// a name-sorted list so the encoding, and therefore the content hash, is
// deterministic.
type record struct {
	ID          NodeID       `yaml:"id,omitempty"`
	Kind        Kind         `yaml:"kind"`
	Plugin      string       `yaml:"plugin,omitempty"`
	Action      string       `yaml:"action,omitempty"`
	Version     string       `yaml:"version,omitempty"`
	OutputName  string       `yaml:"output,omitempty"`
	UUID        string       `yaml:"uuid,omitempty"`
	Type        string       `yaml:"type,omitempty"`
	Format      string       `yaml:"format,omitempty"`
	Parameters  []paramEntry `yaml:"parameters,omitempty"`
	Parents     []NodeID     `yaml:"parents,omitempty"`
	Environment Environment  `yaml:"environment"`
	Calls       []CallRecord `yaml:"calls,omitempty"`
}

type paramEntry struct {
	Name  string `yaml:"name"`
	Value any    `yaml:"value"`
}

func toRecord(n *Node, withID bool) record {
	rec := record{
		Kind:        n.Kind,
		Plugin:      n.Plugin,
		Action:      n.Action,
		Version:     n.Version,
		OutputName:  n.OutputName,
		UUID:        n.UUID,
		Type:        n.Type,
		Format:      n.Format,
		Parents:     n.Parents,
		Environment: n.Environment,
		Calls:       n.Calls,
	}
	if withID {
		rec.ID = n.ID
	}
	names := make([]string, 0, len(n.Parameters))
	for name := range n.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec.Parameters = append(rec.Parameters, paramEntry{Name: name, Value: n.Parameters[name]})
	}
	return rec
}

// Encode renders the canonical YAML record of a node, ID included.
func Encode(n *Node) ([]byte, error) {
	return yaml.Marshal(toRecord(n, true))
}

// Decode parses a canonical YAML record back into a Node. The content hash
// is not re-verified here; Graph.Adopt does that.
func Decode(data []byte) (*Node, error) {
	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode provenance record: %w", err)
	}
	n := &Node{
		ID:          rec.ID,
		Kind:        rec.Kind,
		Plugin:      rec.Plugin,
		Action:      rec.Action,
		Version:     rec.Version,
		OutputName:  rec.OutputName,
		UUID:        rec.UUID,
		Type:        rec.Type,
		Format:      rec.Format,
		Parents:     rec.Parents,
		Environment: rec.Environment,
		Calls:       rec.Calls,
	}
	if len(rec.Parameters) > 0 {
		n.Parameters = make(map[string]any, len(rec.Parameters))
		for _, p := range rec.Parameters {
			n.Parameters[p.Name] = p.Value
		}
	}
	return n, nil
}

func contentID(n *Node) (NodeID, error) {
	data, err := yaml.Marshal(toRecord(n, false))
	if err != nil {
		return "", fmt.Errorf("hash provenance node: %w", err)
	}
	sum := sha256.Sum256(data)
	return NodeID(hex.EncodeToString(sum[:])), nil
}
