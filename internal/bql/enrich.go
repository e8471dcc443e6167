package bql

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"thingmapper/internal/schema"
)

// TargetResolution decides what happens when a nested block does not declare
// its thing and its field can reach more than one candidate.
type TargetResolution string

const (
	// ResolveStrict rejects ambiguous nested blocks.
	ResolveStrict TargetResolution = "strict"
	// ResolveFirst picks the first candidate in schema declaration order.
	ResolveFirst TargetResolution = "first"
)

// ParseTargetResolution validates a configured tie-break policy.
func ParseTargetResolution(s string) (TargetResolution, error) {
	switch r := TargetResolution(s); r {
	case ResolveStrict, ResolveFirst:
		return r, nil
	case "":
		return ResolveStrict, nil
	default:
		return "", fmt.Errorf("unknown target resolution %q (expected strict or first)", s)
	}
}

// Options tune enrichment.
type Options struct {
	TargetResolution TargetResolution
}

type enricher struct {
	schema *schema.Schema
	opts   Options
}

// Enrich expands normalized roots into a typed, identity-tagged,
// provenance-tagged tree. Root sub-trees are enriched concurrently; the
// result keeps input order. The input nodes are never modified.
func Enrich(ctx context.Context, s *schema.Schema, roots []*Node, opts Options) ([]*EnrichedNode, error) {
	e := &enricher{schema: s, opts: opts}
	out := make([]*EnrichedNode, len(roots))

	g, gctx := errgroup.WithContext(ctx)
	for i, root := range roots {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			path := fmt.Sprintf("[%d]", i)
			player, err := e.rootPlayer(root, path)
			if err != nil {
				return err
			}
			n, err := e.node(gctx, root, player, nil, schema.FieldRef{}, path)
			if err != nil {
				return err
			}
			out[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *enricher) rootPlayer(n *Node, path string) (schema.Player, error) {
	t, err := e.schema.Thing(n.Thing)
	if err != nil {
		return schema.Player{}, &SchemaError{Path: path, Message: err.Error()}
	}
	if n.ThingType != "" && n.ThingType != t.ThingType {
		return schema.Player{}, &SchemaError{Path: path, Message: fmt.Sprintf("%s is a %s, not a %s", t.Name, t.ThingType, n.ThingType)}
	}
	return schema.Player{Thing: t.Name, ThingType: t.ThingType}, nil
}

// node enriches one block whose target player is already resolved. parent is
// nil for roots.
func (e *enricher) node(ctx context.Context, n *Node, player schema.Player, parent *EnrichedNode, field schema.FieldRef, path string) (*EnrichedNode, error) {
	t, err := e.schema.Thing(player.Thing)
	if err != nil {
		return nil, &SchemaError{Path: path, Message: err.Error()}
	}

	out := &EnrichedNode{
		Thing:     t.Name,
		ThingType: t.ThingType,
		ID:        n.ID,
		TempID:    n.TempID,
	}
	out.BzID, out.Identity = AssignIdentity(n.ID, n.TempID)
	if n.Op != "" {
		out.OpSource = OpExplicit
	}
	facts := Facts{
		Explicit:  n.Op,
		Root:      parent == nil,
		HasID:     out.Identity == IdentityPersisted,
		HasTempID: out.Identity == IdentityTemporary,
	}
	if parent != nil {
		out.Provenance = &Provenance{ParentBzID: parent.BzID, Field: field, Player: player}
		facts.ParentOp = parent.Op
		facts.Ownership = field.Ownership
	}

	data := map[string]any{}
	nested := map[string]any{}
	for key, val := range n.Fields {
		if _, ok := t.Field(key); ok {
			nested[key] = val
			continue
		}
		if _, ok := t.DataField(key); !ok {
			return nil, &SchemaError{Path: joinPath(path, key), Message: fmt.Sprintf("%s has no field %q", t.Name, key)}
		}
		v, err := dataValue(val)
		if err != nil {
			return nil, &ValidationError{Path: joinPath(path, key), Message: err.Error()}
		}
		data[key] = v
	}
	if len(data) > 0 {
		out.Data = data
	}
	facts.HasData = len(data) > 0
	facts.HasNested = len(nested) > 0

	out.Op = Classify(facts)
	if out.Op == OpCreate && out.Identity == IdentityPersisted && out.OpSource != OpExplicit {
		return nil, &ValidationError{Path: path, Message: "an inferred create cannot carry $id"}
	}
	// Children of a delete are detached or removed as a whole; data cannot
	// narrow which ones.
	if facts.ParentOp == OpDelete && out.OpSource != OpExplicit && out.Identity != IdentityPersisted && facts.HasData {
		return nil, &ValidationError{Path: path, Message: fmt.Sprintf("%s under a deleted %s needs $id to be selected, data fields cannot select it", t.Name, parent.Thing)}
	}

	for _, fieldPath := range t.RelationalPaths() {
		val, ok := nested[fieldPath]
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, _ := t.Field(fieldPath)
		link, err := e.link(ctx, out, f, val, joinPath(path, fieldPath))
		if err != nil {
			return nil, err
		}
		out.Links = append(out.Links, link)
	}
	return out, nil
}

func (e *enricher) link(ctx context.Context, parent *EnrichedNode, field schema.FieldRef, val any, path string) (*Link, error) {
	items, many := asList(val)
	if !many && val == nil {
		// A null relational field detaches everything currently linked.
		items = []any{map[string]any{KeyOp: string(OpUnlink)}}
	}
	if field.Cardinality == schema.One && len(items) > 1 {
		return nil, &ValidationError{Path: path, Message: fmt.Sprintf("%s holds a single thing, got %d", field.Path, len(items))}
	}
	candidates, err := e.schema.OppositePlayers(field)
	if err != nil {
		return nil, &SchemaError{Path: path, Message: err.Error()}
	}

	link := &Link{Field: field, Many: many}
	for i, item := range items {
		itemPath := path
		if many {
			itemPath = fmt.Sprintf("%s[%d]", path, i)
		}
		child, err := childNode(item, itemPath)
		if err != nil {
			return nil, err
		}
		player, err := e.pickPlayer(child, candidates, itemPath)
		if err != nil {
			return nil, err
		}
		enriched, err := e.node(ctx, child, player, parent, field, itemPath)
		if err != nil {
			return nil, err
		}
		link.Nodes = append(link.Nodes, enriched)
	}
	return link, nil
}

// pickPlayer resolves the concrete target of a nested block. A declared thing
// wins when it is a candidate or a subtype of one; otherwise the configured
// tie-break applies.
func (e *enricher) pickPlayer(n *Node, candidates []schema.Player, path string) (schema.Player, error) {
	if n.Thing != "" {
		declared, err := e.schema.Thing(n.Thing)
		if err != nil {
			return schema.Player{}, &SchemaError{Path: path, Message: err.Error()}
		}
		for _, c := range candidates {
			if e.schema.IsA(declared.Name, c.Thing) {
				return schema.Player{Thing: declared.Name, ThingType: declared.ThingType, Plays: c.Plays}, nil
			}
		}
		return schema.Player{}, &SchemaError{Path: path, Message: fmt.Sprintf("%s cannot be reached through this field (candidates: %s)", n.Thing, playerNames(candidates))}
	}

	if n.ThingType != "" {
		filtered := candidates[:0:0]
		for _, c := range candidates {
			if c.ThingType == n.ThingType {
				filtered = append(filtered, c)
			}
		}
		candidates = filtered
	}
	switch {
	case len(candidates) == 0:
		return schema.Player{}, &SchemaError{Path: path, Message: "no viable target type"}
	case len(candidates) == 1:
		return candidates[0], nil
	case e.opts.TargetResolution == ResolveFirst:
		return candidates[0], nil
	default:
		return schema.Player{}, &SchemaError{Path: path, Message: fmt.Sprintf("ambiguous target, declare one of %s with $thing", playerNames(candidates))}
	}
}

// childNode accepts a nested block or a bare identifier.
func childNode(item any, path string) (*Node, error) {
	if _, ok := asBlock(item); ok {
		return parseNode(item, path)
	}
	if item == nil {
		return nil, &ValidationError{Path: path, Message: "null entries are not allowed in a list"}
	}
	id, err := identifierString(item)
	if err != nil {
		return nil, &ValidationError{Path: path, Message: "nested value " + err.Error()}
	}
	return &Node{ID: id, Fields: map[string]any{}}, nil
}

// dataValue turns {"$ref": ..., "$field": ...} blocks into Ref values.
func dataValue(v any) (any, error) {
	block, ok := asBlock(v)
	if !ok {
		return v, nil
	}
	target, isRef := block[KeyRef]
	if !isRef {
		return v, nil
	}
	ref := Ref{}
	if ref.Target, ok = target.(string); !ok || ref.Target == "" {
		return nil, fmt.Errorf("$ref must be a non-empty string")
	}
	for k, val := range block {
		switch k {
		case KeyRef:
		case KeyRefField:
			if ref.Field, ok = val.(string); !ok {
				return nil, fmt.Errorf("$field must be a string")
			}
		default:
			return nil, fmt.Errorf("unexpected key %q in $ref value", k)
		}
	}
	return ref, nil
}

func playerNames(players []schema.Player) string {
	s := ""
	for i, p := range players {
		if i > 0 {
			s += ", "
		}
		s += p.Thing
	}
	return s
}

// Reenrich re-runs classification over an already enriched tree, as needed
// once pre-query and dependency resolution changed parts of it. Identity,
// provenance and verification are kept and only inferred operations are
// recomputed, so re-enriching an unchanged tree yields the same operations.
func Reenrich(ctx context.Context, roots []*EnrichedNode) ([]*EnrichedNode, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := Clone(roots)
	Walk(out, func(n, parent *EnrichedNode) bool {
		if n.OpSource != OpInferred {
			return true
		}
		facts := Facts{
			Root:      parent == nil,
			HasID:     n.Identity == IdentityPersisted,
			HasTempID: n.Identity == IdentityTemporary,
			HasData:   len(n.Data) > 0,
			HasNested: len(n.Links) > 0,
		}
		if parent != nil {
			facts.ParentOp = parent.Op
			facts.Ownership = n.Provenance.Field.Ownership
		}
		n.Op = Classify(facts)
		return true
	})
	return out, nil
}
