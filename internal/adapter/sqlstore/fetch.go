package sqlstore

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
	"thingmapper/internal/sqlutil"
)

// fetchQuery is one batched read of a Fetch. Existence reads select the ids
// found; link reads select (owner id, linked id, linked thing) rows for field.
type fetchQuery struct {
	SQLQuery
	thing string
	field string
}

// fetchQueries plans the reads answering probes: per probed thing one id
// lookup for each table of its family, and per probed field one read for
// each place its links are stored.
func (l *Layout) fetchQueries(probes []bql.Probe) ([]fetchQuery, error) {
	var (
		things []string
		ids    = map[string][]string{}
		fields = map[string][]string{}
		owners = map[string][]string{}
	)
	for _, p := range probes {
		if _, ok := ids[p.Thing]; !ok {
			things = append(things, p.Thing)
		}
		ids[p.Thing] = append(ids[p.Thing], p.ID)
		for _, f := range p.Fields {
			key := p.Thing + "." + f
			if _, ok := owners[key]; !ok {
				fields[p.Thing] = append(fields[p.Thing], f)
			}
			owners[key] = append(owners[key], p.ID)
		}
	}

	var out []fetchQuery
	for _, thing := range things {
		for _, member := range l.family(thing) {
			tbl, err := l.table(member)
			if err != nil {
				return nil, err
			}
			idCol := sqlutil.QuoteIdentifier(tbl.idColumn)
			q, err := toQuery(builder.Select(idCol).
				From(sqlutil.QuoteIdentifier(tbl.name)).
				Where(sq.Eq{idCol: ids[thing]}))
			if err != nil {
				return nil, err
			}
			out = append(out, fetchQuery{SQLQuery: q, thing: thing})
		}

		def, err := l.schema.Thing(thing)
		if err != nil {
			return nil, err
		}
		for _, path := range fields[thing] {
			field, ok := def.Field(path)
			if !ok {
				return nil, fmt.Errorf("%s has no relational field %q", thing, path)
			}
			reads, err := l.linkReads(thing, field, owners[thing+"."+path])
			if err != nil {
				return nil, err
			}
			for _, q := range reads {
				out = append(out, fetchQuery{SQLQuery: q, thing: thing, field: path})
			}
		}
	}
	return out, nil
}

// linkReads mirrors planEdge: it reads back what the link statements of
// field store.
func (l *Layout) linkReads(owner string, field schema.FieldRef, ownerIDs []string) ([]SQLQuery, error) {
	switch {
	case field.Kind == schema.RoleFieldKind:
		q, err := l.playersOf(owner, field.Path, ownerIDs)
		return []SQLQuery{q}, err
	case field.Target == schema.TargetRelation:
		var out []SQLQuery
		for _, rel := range l.family(field.Relation) {
			q, err := l.relationsOf(rel, field.Plays, ownerIDs)
			if err != nil {
				return nil, err
			}
			out = append(out, q)
		}
		return out, nil
	}

	tbl, err := l.table(field.Relation)
	if err != nil {
		return nil, err
	}
	parentID, _ := l.roleColumns(field.Plays)
	out := make([]SQLQuery, 0, len(field.TargetRoles))
	for _, target := range field.TargetRoles {
		for _, role := range []string{field.Plays, target} {
			rf, err := l.role(field.Relation, role)
			if err != nil {
				return nil, err
			}
			if rf.Cardinality != schema.One {
				return nil, fmt.Errorf("%s.%s: links through %s need to-one roles, %s is to-many", owner, field.Path, field.Relation, role)
			}
		}
		childID, childThing := l.roleColumns(target)
		q, err := toQuery(builder.Select(parentID, childID, childThing).
			From(sqlutil.QuoteIdentifier(tbl.name)).
			Where(sq.Eq{parentID: ownerIDs}).
			Where(sq.NotEq{childID: nil}))
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

// playersOf reads the players of role on the given relation rows.
func (l *Layout) playersOf(relation, role string, relIDs []string) (SQLQuery, error) {
	rf, err := l.role(relation, role)
	if err != nil {
		return SQLQuery{}, err
	}
	if rf.Cardinality == schema.Many {
		jt, err := l.junction(relation, role)
		if err != nil {
			return SQLQuery{}, err
		}
		cols := sqlutil.QuoteIdentifiers(junctionRelationColumn, junctionPlayerColumn, junctionThingColumn)
		relCol := cols[0]
		return toQuery(builder.Select(cols...).
			From(sqlutil.QuoteIdentifier(jt)).
			Where(sq.Eq{relCol: relIDs}))
	}
	tbl, err := l.table(relation)
	if err != nil {
		return SQLQuery{}, err
	}
	idCol := sqlutil.QuoteIdentifier(tbl.idColumn)
	playerID, playerThing := l.roleColumns(role)
	return toQuery(builder.Select(idCol, playerID, playerThing).
		From(sqlutil.QuoteIdentifier(tbl.name)).
		Where(sq.Eq{idCol: relIDs}).
		Where(sq.NotEq{playerID: nil}))
}

// relationsOf reads the relation rows in which the given players play role.
func (l *Layout) relationsOf(relation, role string, playerIDs []string) (SQLQuery, error) {
	rf, err := l.role(relation, role)
	if err != nil {
		return SQLQuery{}, err
	}
	thing := sq.Expr("? AS "+sqlutil.QuoteIdentifier("thing"), relation)
	if rf.Cardinality == schema.Many {
		jt, err := l.junction(relation, role)
		if err != nil {
			return SQLQuery{}, err
		}
		playerCol := sqlutil.QuoteIdentifier(junctionPlayerColumn)
		return toQuery(builder.Select(playerCol, sqlutil.QuoteIdentifier(junctionRelationColumn)).
			Column(thing).
			From(sqlutil.QuoteIdentifier(jt)).
			Where(sq.Eq{playerCol: playerIDs}))
	}
	tbl, err := l.table(relation)
	if err != nil {
		return SQLQuery{}, err
	}
	playerID, _ := l.roleColumns(role)
	return toQuery(builder.Select(playerID, sqlutil.QuoteIdentifier(tbl.idColumn)).
		Column(thing).
		From(sqlutil.QuoteIdentifier(tbl.name)).
		Where(sq.Eq{playerID: playerIDs}))
}
