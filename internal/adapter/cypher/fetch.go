package cypher

import (
	"fmt"
	"strings"

	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
)

// FetchStatement builds one read answering every probe: a UNION ALL of an
// existence branch per probe and a branch per requested field.
func FetchStatement(s *schema.Schema, probes []bql.Probe) (Statement, error) {
	b := newBuilder()
	branches := make([]string, 0, len(probes))
	for i, p := range probes {
		def, err := s.Thing(p.Thing)
		if err != nil {
			return Statement{}, err
		}
		lbl, err := labels([]string{p.Thing})
		if err != nil {
			return Statement{}, err
		}
		id := b.param(p.ID)
		branches = append(branches, fmt.Sprintf(
			"OPTIONAL MATCH (n%s {id: %s}) RETURN %d AS probe, n IS NOT NULL AS found, null AS field, null AS thing, null AS id",
			lbl, id, i))

		for _, path := range p.Fields {
			field, ok := def.Field(path)
			if !ok {
				return Statement{}, fmt.Errorf("%s has no relational field %q", p.Thing, path)
			}
			patterns, err := linkedPatterns(b, field)
			if err != nil {
				return Statement{}, err
			}
			fieldParam := b.param(path)
			for _, pattern := range patterns {
				branches = append(branches, fmt.Sprintf(
					"MATCH (n%s {id: %s})%s(m) RETURN %d AS probe, true AS found, %s AS field, m.%s AS thing, m.%s AS id",
					lbl, id, pattern, i, fieldParam, thingProperty, idProperty))
			}
		}
	}
	return b.statement("%s", strings.Join(branches, "\nUNION ALL\n")), nil
}

// linkedPatterns returns the relationship patterns from a node to the things
// linked through field, mirroring edgePattern.
func linkedPatterns(b *builder, field schema.FieldRef) ([]string, error) {
	switch {
	case field.Kind == schema.RoleFieldKind:
		rt, err := relType(field.Path)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("-[:%s]->", rt)}, nil
	case field.Target == schema.TargetRelation:
		rt, err := relType(field.Plays)
		if err != nil {
			return nil, err
		}
		return []string{fmt.Sprintf("<-[:%s]-", rt)}, nil
	}

	rt, err := relType(field.Relation)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(field.TargetRoles))
	for _, target := range field.TargetRoles {
		from, to, forward := roleEdge(field.Plays, target)
		props := fmt.Sprintf("{from: %s, to: %s}", b.param(from), b.param(to))
		if forward {
			out = append(out, fmt.Sprintf("-[:%s %s]->", rt, props))
		} else {
			out = append(out, fmt.Sprintf("<-[:%s %s]-", rt, props))
		}
	}
	return out, nil
}

// parseRecords folds fetch rows back into one record per probe.
func parseRecords(probes []bql.Probe, rows []map[string]any) ([]bql.Record, error) {
	out := make([]bql.Record, len(probes))
	for i, p := range probes {
		out[i] = bql.Record{Thing: p.Thing, ID: p.ID}
	}
	for _, row := range rows {
		idx, err := probeIndex(row["probe"], len(probes))
		if err != nil {
			return nil, err
		}
		rec := &out[idx]
		if exists, _ := row["found"].(bool); exists {
			rec.Exists = true
		}
		field, ok := row["field"].(string)
		if !ok {
			continue
		}
		thing, _ := row["thing"].(string)
		id, _ := row["id"].(string)
		if id == "" {
			continue
		}
		if rec.Linked == nil {
			rec.Linked = map[string][]bql.LinkedRef{}
		}
		rec.Linked[field] = append(rec.Linked[field], bql.LinkedRef{Thing: thing, ID: id})
	}
	return out, nil
}

func probeIndex(v any, n int) (int, error) {
	var idx int
	switch x := v.(type) {
	case int64:
		idx = int(x)
	case int:
		idx = x
	default:
		return 0, fmt.Errorf("unexpected probe column %T", v)
	}
	if idx < 0 || idx >= n {
		return 0, fmt.Errorf("probe index %d out of range", idx)
	}
	return idx, nil
}
