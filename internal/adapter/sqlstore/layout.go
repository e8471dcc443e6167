package sqlstore

import (
	"fmt"

	"thingmapper/internal/naming"
	"thingmapper/internal/schema"
	"thingmapper/internal/sqlutil"
)

// Junction table columns holding the players of a to-many role.
const (
	junctionRelationColumn = "relation_id"
	junctionPlayerColumn   = "player_id"
	junctionThingColumn    = "player_thing"
)

type table struct {
	name     string
	idColumn string
	// columns maps data field paths to column names.
	columns map[string]string
}

// Layout is the relational storage layout of a schema: one table per thing
// holding its id and data columns. A to-one role is an id/thing column pair
// on its relation's table; a to-many role is a junction table.
type Layout struct {
	schema    *schema.Schema
	namer     *naming.Namer
	tables    map[string]*table
	junctions map[string]string
}

// NewLayout derives table and column names for every thing in s.
func NewLayout(s *schema.Schema, namer *naming.Namer) *Layout {
	if namer == nil {
		namer = naming.Default()
	}
	l := &Layout{
		schema:    s,
		namer:     namer,
		tables:    map[string]*table{},
		junctions: map[string]string{},
	}
	names := s.Names()
	for _, name := range names {
		def, _ := s.Thing(name)
		t := &table{
			name:     namer.TableName(name),
			idColumn: namer.ColumnName(def.IDField()),
			columns:  make(map[string]string, len(def.DataFields)),
		}
		for _, f := range def.DataFields {
			col := f.DBPath
			if col == "" {
				col = namer.ColumnName(f.Path)
			}
			t.columns[f.Path] = col
			if f.Path == def.IDField() {
				t.idColumn = col
			}
		}
		l.tables[name] = t
	}
	for _, name := range names {
		def, _ := s.Thing(name)
		for _, rf := range def.Roles {
			if rf.Cardinality == schema.Many {
				l.junctions[junctionKey(name, rf.Path)] = namer.JunctionTable(name, rf.Path)
			}
		}
	}
	return l
}

func junctionKey(relation, role string) string {
	return relation + "." + role
}

func (l *Layout) table(thing string) (*table, error) {
	t, ok := l.tables[thing]
	if !ok {
		return nil, fmt.Errorf("thing %q has no table", thing)
	}
	return t, nil
}

func (l *Layout) role(relation, role string) (schema.RoleField, error) {
	def, err := l.schema.Thing(relation)
	if err != nil {
		return schema.RoleField{}, err
	}
	rf, ok := def.Role(role)
	if !ok {
		return schema.RoleField{}, fmt.Errorf("relation %s has no role %q", relation, role)
	}
	return rf, nil
}

func (l *Layout) junction(relation, role string) (string, error) {
	name, ok := l.junctions[junctionKey(relation, role)]
	if !ok {
		return "", fmt.Errorf("role %s.%s has no junction table", relation, role)
	}
	return name, nil
}

// roleColumns returns the quoted id and thing columns of a to-one role.
func (l *Layout) roleColumns(role string) (string, string) {
	id, thing := l.namer.RoleColumns(role)
	return sqlutil.QuoteIdentifier(id), sqlutil.QuoteIdentifier(thing)
}

// family returns thing and every thing extending it, in name order. Rows of
// a subtype live in the subtype's table.
func (l *Layout) family(thing string) []string {
	var out []string
	for _, name := range l.schema.Names() {
		if l.schema.IsA(name, thing) {
			out = append(out, name)
		}
	}
	return out
}
