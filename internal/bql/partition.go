package bql

import (
	"fmt"

	"thingmapper/internal/schema"
)

// EdgeOp is the operation on a relational connection.
type EdgeOp string

const (
	EdgeLink   EdgeOp = "link"
	EdgeUnlink EdgeOp = "unlink"
	// EdgeMatch keeps an existing connection; it only scopes the child.
	EdgeMatch EdgeOp = "match"
)

// Thing is a mutation of one record.
type Thing struct {
	BzID      string
	Thing     string
	ThingType schema.ThingType
	Op        Op
	Identity  IdentityKind
	ID        string
	Data      map[string]any
}

// Endpoint identifies one side of an edge.
type Endpoint struct {
	BzID  string
	Thing string
	ID    string
}

// Edge is a mutation of one parent/child connection.
type Edge struct {
	Field  schema.FieldRef
	Op     EdgeOp
	Parent Endpoint
	Child  Endpoint
	// ChildRole is the role the child plays in Field's relation, when the
	// field reaches it through one.
	ChildRole string
}

// Graph is the partitioned mutation, ready for a backend.
type Graph struct {
	Things []Thing
	Edges  []Edge
}

// Partition flattens an enriched tree into things and edges, both in
// depth-first pre-order. Only nodes whose own record changes become things;
// link and unlink nodes only contribute their edge. A node reached through
// several paths is emitted once.
func Partition(roots []*EnrichedNode) (*Graph, error) {
	g := &Graph{}
	seen := map[string]int{}
	var err error
	Walk(roots, func(n, parent *EnrichedNode) bool {
		if err != nil {
			return false
		}
		if parent != nil {
			g.Edges = append(g.Edges, edgeFor(n, parent))
		}
		switch n.Op {
		case OpCreate, OpUpdate, OpDelete:
		default:
			return true
		}
		if i, dup := seen[n.BzID]; dup {
			err = g.merge(i, n)
			return err == nil
		}
		seen[n.BzID] = len(g.Things)
		g.Things = append(g.Things, Thing{
			BzID:      n.BzID,
			Thing:     n.Thing,
			ThingType: n.ThingType,
			Op:        n.Op,
			Identity:  n.Identity,
			ID:        n.ID,
			Data:      cloneData(n.Data),
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return g, nil
}

// merge folds a second occurrence of the same node into the first one.
func (g *Graph) merge(i int, n *EnrichedNode) error {
	t := &g.Things[i]
	switch {
	case t.Op == OpCreate && n.Op == OpCreate:
		return &ValidationError{Message: fmt.Sprintf("%s %q is created twice", n.Thing, n.BzID)}
	case t.Op != n.Op:
		return &ValidationError{Message: fmt.Sprintf("%s %q is both %sd and %sd", n.Thing, n.BzID, t.Op, n.Op)}
	}
	for k, v := range n.Data {
		if _, ok := t.Data[k]; !ok {
			if t.Data == nil {
				t.Data = map[string]any{}
			}
			t.Data[k] = v
		}
	}
	return nil
}

func edgeFor(n, parent *EnrichedNode) Edge {
	e := Edge{
		Field:     n.Provenance.Field,
		Parent:    Endpoint{BzID: parent.BzID, Thing: parent.Thing, ID: parent.ID},
		Child:     Endpoint{BzID: n.BzID, Thing: n.Thing, ID: n.ID},
		ChildRole: n.Provenance.Player.Plays,
	}
	switch n.Op {
	case OpCreate, OpLink:
		e.Op = EdgeLink
	case OpUnlink, OpDelete:
		e.Op = EdgeUnlink
	default:
		// An updated child under a new parent can only be reached by linking it.
		if parent.Op == OpCreate {
			e.Op = EdgeLink
		} else {
			e.Op = EdgeMatch
		}
	}
	return e
}
