package cypher

import (
	"encoding/json"
	"fmt"

	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
)

// Property names every node carries besides its data fields.
const (
	idProperty    = "id"
	thingProperty = "_thing"
)

// Compile turns a partitioned mutation with assigned ids into statements:
// node writes first, then unlinks, then links, then deletes. Delete is last
// so edges to deleted nodes can still be matched before DETACH DELETE.
func Compile(s *schema.Schema, g *bql.Graph) ([]Statement, error) {
	var writes, unlinks, links, deletes []Statement
	for _, t := range g.Things {
		switch t.Op {
		case bql.OpCreate:
			st, err := createNode(s, t)
			if err != nil {
				return nil, err
			}
			writes = append(writes, st)
		case bql.OpUpdate:
			if len(t.Data) == 0 {
				continue
			}
			st, err := updateNode(s, t)
			if err != nil {
				return nil, err
			}
			writes = append(writes, st)
		case bql.OpDelete:
			st, err := deleteNode(t)
			if err != nil {
				return nil, err
			}
			deletes = append(deletes, st)
		}
	}
	for _, e := range g.Edges {
		switch e.Op {
		case bql.EdgeLink:
			st, err := edgeStatement(e, true)
			if err != nil {
				return nil, err
			}
			links = append(links, st)
		case bql.EdgeUnlink:
			st, err := edgeStatement(e, false)
			if err != nil {
				return nil, err
			}
			unlinks = append(unlinks, st)
		}
	}

	out := make([]Statement, 0, len(writes)+len(unlinks)+len(links)+len(deletes))
	out = append(out, writes...)
	out = append(out, unlinks...)
	out = append(out, links...)
	return append(out, deletes...), nil
}

func createNode(s *schema.Schema, t bql.Thing) (Statement, error) {
	lbl, err := labels(s.Ancestors(t.Thing))
	if err != nil {
		return Statement{}, err
	}
	props, err := properties(s, t, false)
	if err != nil {
		return Statement{}, err
	}
	props[idProperty] = t.ID
	props[thingProperty] = t.Thing

	b := newBuilder()
	return b.statement("CREATE (n%s %s)", lbl, b.param(props)), nil
}

func updateNode(s *schema.Schema, t bql.Thing) (Statement, error) {
	lbl, err := labels([]string{t.Thing})
	if err != nil {
		return Statement{}, err
	}
	props, err := properties(s, t, true)
	if err != nil {
		return Statement{}, err
	}
	delete(props, idProperty)

	b := newBuilder()
	// null values in the map remove the property
	return b.statement("MATCH (n%s {id: %s}) SET n += %s", lbl, b.param(t.ID), b.param(props)), nil
}

func deleteNode(t bql.Thing) (Statement, error) {
	lbl, err := labels([]string{t.Thing})
	if err != nil {
		return Statement{}, err
	}
	b := newBuilder()
	return b.statement("MATCH (n%s {id: %s}) DETACH DELETE n", lbl, b.param(t.ID)), nil
}

// properties maps data fields to stored property names. Nested JSON values
// are stored as strings since Neo4j properties cannot hold maps.
func properties(s *schema.Schema, t bql.Thing, keepNulls bool) (map[string]any, error) {
	def, err := s.Thing(t.Thing)
	if err != nil {
		return nil, err
	}
	props := make(map[string]any, len(t.Data)+2)
	for key, v := range t.Data {
		name := key
		if f, ok := def.DataField(key); ok {
			name = f.Column()
		}
		if v == nil && !keepNulls {
			continue
		}
		switch v.(type) {
		case map[string]any, []any:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Thing, key, err)
			}
			v = string(raw)
		}
		props[name] = v
	}
	return props, nil
}

// edgeStatement links or unlinks one parent/child connection:
//
//	role field:             (relation)-[:role]->(player)
//	link to its relation:   (relation)-[:plays]->(owner)
//	link through a role:    (a)-[:Relation {from, to}]->(b), roles ordered by name
//
// An unlink without a child id detaches every child of that thing.
func edgeStatement(e bql.Edge, link bool) (Statement, error) {
	pl, err := labels([]string{e.Parent.Thing})
	if err != nil {
		return Statement{}, err
	}
	cl, err := labels([]string{e.Child.Thing})
	if err != nil {
		return Statement{}, err
	}

	b := newBuilder()
	match := fmt.Sprintf("MATCH (p%s {id: %s}), ", pl, b.param(e.Parent.ID))
	if e.Child.ID == "" {
		if link {
			return Statement{}, fmt.Errorf("cannot link %s through %s without an id", e.Child.Thing, e.Field.Path)
		}
		match += fmt.Sprintf("(c%s)", cl)
	} else {
		match += fmt.Sprintf("(c%s {id: %s})", cl, b.param(e.Child.ID))
	}

	pattern, err := edgePattern(b, e)
	if err != nil {
		return Statement{}, err
	}
	if link {
		return b.statement("%s MERGE %s", match, pattern), nil
	}
	return b.statement("%s MATCH %s DELETE r", match, pattern), nil
}

func edgePattern(b *builder, e bql.Edge) (string, error) {
	switch {
	case e.Field.Kind == schema.RoleFieldKind:
		rt, err := relType(e.Field.Path)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(p)-[r:%s]->(c)", rt), nil
	case e.Field.Target == schema.TargetRelation:
		rt, err := relType(e.Field.Plays)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(c)-[r:%s]->(p)", rt), nil
	default:
		rt, err := relType(e.Field.Relation)
		if err != nil {
			return "", err
		}
		from, to, forward := roleEdge(e.Field.Plays, e.ChildRole)
		props := fmt.Sprintf("{from: %s, to: %s}", b.param(from), b.param(to))
		if forward {
			return fmt.Sprintf("(p)-[r:%s %s]->(c)", rt, props), nil
		}
		return fmt.Sprintf("(c)-[r:%s %s]->(p)", rt, props), nil
	}
}
