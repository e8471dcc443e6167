package bql

import (
	"thingmapper/internal/schema"
)

// OpSource records how a node's operation was decided. Only inferred
// operations are re-classified when an enriched tree is enriched again.
type OpSource int

const (
	OpInferred OpSource = iota
	OpExplicit
	OpResolved
)

// IdentityKind records where a correlation identifier came from.
type IdentityKind int

const (
	IdentityMinted IdentityKind = iota
	IdentityPersisted
	IdentityTemporary
)

func (k IdentityKind) String() string {
	switch k {
	case IdentityPersisted:
		return "persisted"
	case IdentityTemporary:
		return "temporary"
	default:
		return "minted"
	}
}

// Provenance links a nested node to the parent it was reached from. It is set
// once during enrichment and never rewritten.
type Provenance struct {
	ParentBzID string
	Field      schema.FieldRef
	// Player is the resolved target this node plays through Field.
	Player schema.Player
}

// Link holds the nodes nested under one relational field.
type Link struct {
	Field schema.FieldRef
	Many  bool
	Nodes []*EnrichedNode
}

// EnrichedNode is a mutation node with resolved type, operation, identity and
// provenance.
type EnrichedNode struct {
	Thing     string
	ThingType schema.ThingType
	Op        Op
	OpSource  OpSource

	// BzID is the correlation identifier used across every pipeline stage.
	BzID     string
	Identity IdentityKind
	ID       string
	TempID   string

	Data  map[string]any
	Links []*Link

	// Provenance is nil for root nodes.
	Provenance *Provenance

	// Verified is set once the node's assumptions were checked against the
	// database or against the rest of the tree.
	Verified bool
}

// IsRoot reports whether the node has no parent.
func (n *EnrichedNode) IsRoot() bool {
	return n.Provenance == nil
}

// Persisted reports whether the node refers to a record that already exists.
func (n *EnrichedNode) Persisted() bool {
	return n.Identity == IdentityPersisted && n.Op != OpCreate
}

// Link returns the nested nodes for a field path.
func (n *EnrichedNode) Link(path string) *Link {
	for _, l := range n.Links {
		if l.Field.Path == path {
			return l
		}
	}
	return nil
}

// Ref is a data value that depends on another node of the same mutation: the
// target's identifier, or one of its data fields when Field is set.
type Ref struct {
	Target string
	Field  string
}

// Walk visits every node in pre-order, depth first. Returning false from fn
// skips the node's children.
func Walk(roots []*EnrichedNode, fn func(n, parent *EnrichedNode) bool) {
	var visit func(n, parent *EnrichedNode)
	visit = func(n, parent *EnrichedNode) {
		if !fn(n, parent) {
			return
		}
		for _, l := range n.Links {
			for _, child := range l.Nodes {
				visit(child, n)
			}
		}
	}
	for _, r := range roots {
		visit(r, nil)
	}
}

// Clone deep-copies a tree so later stages never mutate an earlier stage's
// output.
func Clone(roots []*EnrichedNode) []*EnrichedNode {
	out := make([]*EnrichedNode, len(roots))
	for i, r := range roots {
		out[i] = r.clone()
	}
	return out
}

func (n *EnrichedNode) clone() *EnrichedNode {
	c := *n
	c.Data = cloneData(n.Data)
	if n.Provenance != nil {
		p := *n.Provenance
		c.Provenance = &p
	}
	c.Links = make([]*Link, len(n.Links))
	for i, l := range n.Links {
		nl := &Link{Field: l.Field, Many: l.Many, Nodes: make([]*EnrichedNode, len(l.Nodes))}
		for j, child := range l.Nodes {
			nl.Nodes[j] = child.clone()
		}
		c.Links[i] = nl
	}
	return &c
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// Count returns the number of nodes in the tree.
func Count(roots []*EnrichedNode) int {
	n := 0
	Walk(roots, func(*EnrichedNode, *EnrichedNode) bool {
		n++
		return true
	})
	return n
}
