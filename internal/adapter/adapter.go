// Package adapter defines the contract between the mutation pipeline and the
// storage backends, and the uniform result shape every backend returns.
package adapter

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
)

// Adapter compiles and executes a partitioned mutation against one backend.
type Adapter interface {
	Provider() string
	ConnectorID() string
	// RequiresPreQuery reports whether the backend needs the current
	// database state before it can compile link, unlink, update and delete
	// operations. Adapters returning true must also implement bql.Fetcher.
	RequiresPreQuery() bool
	Mutate(ctx context.Context, req Request) ([]Result, error)
	Close(ctx context.Context) error
}

// Options carries the mutation settings backends need.
type Options struct {
	IgnoreNonexistingThings bool
}

// Request is everything a backend receives for one mutation.
type Request struct {
	Raw     any
	Tree    []*bql.EnrichedNode
	Graph   *bql.Graph
	Schema  *schema.Schema
	Options Options
}

// Handles maps connector ids to opened adapters. The pipeline only issues
// operations through them; opening and closing belongs to the caller.
type Handles map[string]Adapter

// Active returns the single adapter of a mutation call.
func (h Handles) Active() (Adapter, error) {
	switch len(h) {
	case 0:
		return nil, &bql.ConfigError{Message: "no storage connector is configured"}
	case 1:
		for _, a := range h {
			return a, nil
		}
	}
	ids := make([]string, 0, len(h))
	for id := range h {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return nil, &bql.ConfigError{Message: fmt.Sprintf("exactly one storage connector must be active per mutation, got %d (%v)", len(h), ids)}
}

// Close closes every adapter and returns the first error.
func (h Handles) Close(ctx context.Context) error {
	var first error
	for _, a := range h {
		if err := a.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ResultKind tells thing results and edge results apart.
type ResultKind string

const (
	KindThing ResultKind = "thing"
	KindEdge  ResultKind = "edge"
)

// Result is one merged mutation outcome. Things and edges keep the order of
// the partitioned graph so callers can correlate them with their input.
type Result struct {
	Kind   ResultKind     `json:"kind"`
	Op     string         `json:"op"`
	Thing  string         `json:"thing"`
	ID     string         `json:"id,omitempty"`
	BzID   string         `json:"bzId"`
	TempID string         `json:"tempId,omitempty"`
	Data   map[string]any `json:"data,omitempty"`

	Field    string `json:"field,omitempty"`
	ParentID string `json:"parentId,omitempty"`
	ChildID  string `json:"childId,omitempty"`
}

// AssignIDs returns a copy of g where every thing has its storage id and
// every edge endpoint carries the id of the thing it points at. Created
// things use their id data field when one was supplied and a new UUID
// otherwise.
func AssignIDs(s *schema.Schema, g *bql.Graph) *bql.Graph {
	ids := make(map[string]string, len(g.Things))
	out := &bql.Graph{
		Things: make([]bql.Thing, len(g.Things)),
		Edges:  make([]bql.Edge, len(g.Edges)),
	}
	for i, t := range g.Things {
		if t.ID == "" {
			t.ID = bql.SuppliedID(s, t.Thing, t.Data)
		}
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		ids[t.BzID] = t.ID
		out.Things[i] = t
	}
	for i, e := range g.Edges {
		if id, ok := ids[e.Parent.BzID]; ok {
			e.Parent.ID = id
		}
		if id, ok := ids[e.Child.BzID]; ok && e.Child.ID == "" {
			e.Child.ID = id
		}
		out.Edges[i] = e
	}
	return out
}

// MergeResults builds the uniform result list of a mutation whose ids were
// assigned with AssignIDs.
func MergeResults(g *bql.Graph, tempIDs map[string]string) []Result {
	out := make([]Result, 0, len(g.Things)+len(g.Edges))
	for _, t := range g.Things {
		out = append(out, Result{
			Kind:   KindThing,
			Op:     string(t.Op),
			Thing:  t.Thing,
			ID:     t.ID,
			BzID:   t.BzID,
			TempID: tempIDs[t.BzID],
			Data:   t.Data,
		})
	}
	for _, e := range g.Edges {
		out = append(out, Result{
			Kind:     KindEdge,
			Op:       string(e.Op),
			Thing:    e.Parent.Thing,
			BzID:     e.Parent.BzID,
			Field:    e.Field.Path,
			ParentID: e.Parent.ID,
			ChildID:  e.Child.ID,
		})
	}
	return out
}

// TempIDs maps correlation ids to the caller supplied $tempId of each node.
func TempIDs(tree []*bql.EnrichedNode) map[string]string {
	out := map[string]string{}
	bql.Walk(tree, func(n, _ *bql.EnrichedNode) bool {
		if n.TempID != "" {
			out[n.BzID] = n.TempID
		}
		return true
	})
	return out
}

// Settle resolves $ref values and $tempId references still left in the tree
// and re-partitions it. A tree that went through the dependency stage comes
// back unchanged.
func Settle(req Request) (Request, error) {
	if !bql.RequiresDependencies(req.Tree) {
		return req, nil
	}
	tree, err := bql.ResolveDependencies(req.Schema, req.Tree)
	if err != nil {
		return req, err
	}
	g, err := bql.Partition(tree)
	if err != nil {
		return req, err
	}
	req.Tree, req.Graph = tree, g
	return req, nil
}
