package sqlstore

import (
	"encoding/json"
	"fmt"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
	"thingmapper/internal/sqlutil"
)

// SQLQuery is a planned statement with its arguments.
type SQLQuery struct {
	SQL  string
	Args []any
}

var builder = sq.StatementBuilder.PlaceholderFormat(sq.Question)

// Plan turns a partitioned mutation with assigned ids into statements: row
// inserts and updates first, then unlinks, then links, then deletes.
func (l *Layout) Plan(g *bql.Graph) ([]SQLQuery, error) {
	var writes, unlinks, links, deletes []SQLQuery
	for _, t := range g.Things {
		switch t.Op {
		case bql.OpCreate:
			q, err := l.planInsert(t)
			if err != nil {
				return nil, err
			}
			writes = append(writes, q)
		case bql.OpUpdate:
			if len(t.Data) == 0 {
				continue
			}
			q, err := l.planUpdate(t)
			if err != nil {
				return nil, err
			}
			writes = append(writes, q)
		case bql.OpDelete:
			qs, err := l.planDelete(t)
			if err != nil {
				return nil, err
			}
			deletes = append(deletes, qs...)
		}
	}
	for _, e := range g.Edges {
		switch e.Op {
		case bql.EdgeLink:
			qs, err := l.planEdge(e, true)
			if err != nil {
				return nil, err
			}
			links = append(links, qs...)
		case bql.EdgeUnlink:
			qs, err := l.planEdge(e, false)
			if err != nil {
				return nil, err
			}
			unlinks = append(unlinks, qs...)
		}
	}

	out := make([]SQLQuery, 0, len(writes)+len(unlinks)+len(links)+len(deletes))
	out = append(out, writes...)
	out = append(out, unlinks...)
	out = append(out, links...)
	return append(out, deletes...), nil
}

func (l *Layout) planInsert(t bql.Thing) (SQLQuery, error) {
	tbl, err := l.table(t.Thing)
	if err != nil {
		return SQLQuery{}, err
	}
	set, err := l.columnValues(tbl, t)
	if err != nil {
		return SQLQuery{}, err
	}
	set[sqlutil.QuoteIdentifier(tbl.idColumn)] = t.ID

	cols := make([]string, 0, len(set))
	for col := range set {
		cols = append(cols, col)
	}
	sort.Strings(cols)
	vals := make([]any, len(cols))
	for i, col := range cols {
		vals[i] = set[col]
	}

	return toQuery(builder.Insert(sqlutil.QuoteIdentifier(tbl.name)).Columns(cols...).Values(vals...))
}

func (l *Layout) planUpdate(t bql.Thing) (SQLQuery, error) {
	tbl, err := l.table(t.Thing)
	if err != nil {
		return SQLQuery{}, err
	}
	set, err := l.columnValues(tbl, t)
	if err != nil {
		return SQLQuery{}, err
	}
	if len(set) == 0 {
		return SQLQuery{}, fmt.Errorf("update of %s %q sets no columns", t.Thing, t.ID)
	}
	return toQuery(builder.Update(sqlutil.QuoteIdentifier(tbl.name)).
		SetMap(set).
		Where(sq.Eq{sqlutil.QuoteIdentifier(tbl.idColumn): t.ID}))
}

// planDelete removes a row and, for relations, the junction rows of its
// to-many roles.
func (l *Layout) planDelete(t bql.Thing) ([]SQLQuery, error) {
	tbl, err := l.table(t.Thing)
	if err != nil {
		return nil, err
	}
	def, err := l.schema.Thing(t.Thing)
	if err != nil {
		return nil, err
	}
	var out []SQLQuery
	for _, rf := range def.Roles {
		if rf.Cardinality != schema.Many {
			continue
		}
		jt, err := l.junction(t.Thing, rf.Path)
		if err != nil {
			return nil, err
		}
		q, err := toQuery(builder.Delete(sqlutil.QuoteIdentifier(jt)).
			Where(sq.Eq{sqlutil.QuoteIdentifier(junctionRelationColumn): t.ID}))
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	q, err := toQuery(builder.Delete(sqlutil.QuoteIdentifier(tbl.name)).
		Where(sq.Eq{sqlutil.QuoteIdentifier(tbl.idColumn): t.ID}))
	if err != nil {
		return nil, err
	}
	return append(out, q), nil
}

// columnValues maps data values to quoted columns. The id field is left to
// the caller. Nested JSON values are stored encoded.
func (l *Layout) columnValues(tbl *table, t bql.Thing) (map[string]any, error) {
	def, err := l.schema.Thing(t.Thing)
	if err != nil {
		return nil, err
	}
	set := make(map[string]any, len(t.Data)+1)
	for key, v := range t.Data {
		if key == def.IDField() {
			continue
		}
		col, ok := tbl.columns[key]
		if !ok {
			return nil, fmt.Errorf("%s has no column for %q", t.Thing, key)
		}
		switch v.(type) {
		case map[string]any, []any:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", t.Thing, key, err)
			}
			v = string(raw)
		}
		set[sqlutil.QuoteIdentifier(col)] = v
	}
	return set, nil
}

// planEdge links or unlinks one parent/child connection:
//
//	role field:             the relation row stores the player
//	link to its relation:   the relation row stores the parent as Plays
//	link through a role:    an intermediary relation row stores both players
func (l *Layout) planEdge(e bql.Edge, link bool) ([]SQLQuery, error) {
	switch {
	case e.Field.Kind == schema.RoleFieldKind:
		return l.roleEdge(e.Parent.Thing, e.Parent.ID, e.Field.Path, e.Child, link)
	case e.Field.Target == schema.TargetRelation:
		return l.roleEdge(e.Child.Thing, e.Child.ID, e.Field.Plays, bql.Endpoint{Thing: e.Parent.Thing, ID: e.Parent.ID}, link)
	default:
		q, err := l.intermediaryEdge(e, link)
		if err != nil {
			return nil, err
		}
		return []SQLQuery{q}, nil
	}
}

// roleEdge sets or clears the player of a role on one relation row. An empty
// relID or player id widens an unlink to every matching row.
func (l *Layout) roleEdge(relation, relID, role string, player bql.Endpoint, link bool) ([]SQLQuery, error) {
	if link && (relID == "" || player.ID == "") {
		return nil, fmt.Errorf("cannot link %s.%s without both ids", relation, role)
	}
	rf, err := l.role(relation, role)
	if err != nil {
		return nil, err
	}

	if rf.Cardinality == schema.Many {
		jt, err := l.junction(relation, role)
		if err != nil {
			return nil, err
		}
		if link {
			q, err := toQuery(builder.Insert(sqlutil.QuoteIdentifier(jt)).
				Options("IGNORE").
				Columns(sqlutil.QuoteIdentifiers(junctionRelationColumn, junctionPlayerColumn, junctionThingColumn)...).
				Values(relID, player.ID, player.Thing))
			return []SQLQuery{q}, err
		}
		where := sq.Eq{}
		if relID != "" {
			where[sqlutil.QuoteIdentifier(junctionRelationColumn)] = relID
		}
		if player.ID != "" {
			where[sqlutil.QuoteIdentifier(junctionPlayerColumn)] = player.ID
		}
		if len(where) == 0 {
			return nil, errUnscopedUnlink(relation, role)
		}
		q, err := toQuery(builder.Delete(sqlutil.QuoteIdentifier(jt)).Where(where))
		return []SQLQuery{q}, err
	}

	tbl, err := l.table(relation)
	if err != nil {
		return nil, err
	}
	idCol, thingCol := l.roleColumns(role)
	update := builder.Update(sqlutil.QuoteIdentifier(tbl.name))
	if link {
		q, err := toQuery(update.
			SetMap(map[string]any{idCol: player.ID, thingCol: player.Thing}).
			Where(sq.Eq{sqlutil.QuoteIdentifier(tbl.idColumn): relID}))
		return []SQLQuery{q}, err
	}
	where := sq.Eq{}
	if relID != "" {
		where[sqlutil.QuoteIdentifier(tbl.idColumn)] = relID
	}
	if player.ID != "" {
		where[idCol] = player.ID
	}
	if len(where) == 0 {
		return nil, errUnscopedUnlink(relation, role)
	}
	q, err := toQuery(update.
		SetMap(map[string]any{idCol: nil, thingCol: nil}).
		Where(where))
	return []SQLQuery{q}, err
}

// intermediaryEdge inserts or deletes the relation row connecting two
// players. Only relations whose two roles are to-one can hold such a row.
func (l *Layout) intermediaryEdge(e bql.Edge, link bool) (SQLQuery, error) {
	rel := e.Field.Relation
	if e.ChildRole == "" {
		return SQLQuery{}, fmt.Errorf("%s.%s: no target role for %s", e.Parent.Thing, e.Field.Path, e.Child.Thing)
	}
	for _, role := range []string{e.Field.Plays, e.ChildRole} {
		rf, err := l.role(rel, role)
		if err != nil {
			return SQLQuery{}, err
		}
		if rf.Cardinality != schema.One {
			return SQLQuery{}, fmt.Errorf("%s.%s: links through %s need to-one roles, %s is to-many", e.Parent.Thing, e.Field.Path, rel, role)
		}
	}
	tbl, err := l.table(rel)
	if err != nil {
		return SQLQuery{}, err
	}
	parentID, parentThing := l.roleColumns(e.Field.Plays)
	childID, childThing := l.roleColumns(e.ChildRole)

	if !link {
		where := sq.Eq{parentID: e.Parent.ID}
		if e.Child.ID != "" {
			where[childID] = e.Child.ID
		}
		return toQuery(builder.Delete(sqlutil.QuoteIdentifier(tbl.name)).Where(where))
	}

	if e.Child.ID == "" {
		return SQLQuery{}, fmt.Errorf("cannot link %s through %s without an id", e.Child.Thing, e.Field.Path)
	}
	exists, existsArgs, err := sq.Select("1").
		From(sqlutil.QuoteIdentifier(tbl.name)).
		Where(sq.Eq{parentID: e.Parent.ID, childID: e.Child.ID}).
		ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	row := sq.Select().
		Column(sq.Expr("?, ?, ?, ?, ?", uuid.NewString(), e.Parent.ID, e.Parent.Thing, e.Child.ID, e.Child.Thing)).
		From("DUAL").
		Where(sq.Expr("NOT EXISTS ("+exists+")", existsArgs...))
	return toQuery(builder.Insert(sqlutil.QuoteIdentifier(tbl.name)).
		Columns(sqlutil.QuoteIdentifier(tbl.idColumn), parentID, parentThing, childID, childThing).
		Select(row))
}

func errUnscopedUnlink(relation, role string) error {
	return fmt.Errorf("unlink of %s.%s matches neither a relation nor a player", relation, role)
}

func toQuery(b sq.Sqlizer) (SQLQuery, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}
