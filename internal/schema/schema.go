// Package schema holds the enriched entity/relation schema consumed by the
// mutation pipeline. Inheritance is assumed to be flattened already: every
// Thing lists all of its own and inherited fields.
package schema

import (
	"fmt"
	"sort"
)

// ThingType distinguishes entities from relations.
type ThingType string

const (
	Entity   ThingType = "entity"
	Relation ThingType = "relation"
)

// Cardinality of a data, link, or role field.
type Cardinality string

const (
	One  Cardinality = "ONE"
	Many Cardinality = "MANY"
)

// Ownership declares whether nested things are owned by the parent. Exclusive
// children are deleted together with their parent, shared ones are unlinked.
type Ownership string

const (
	Shared    Ownership = "shared"
	Exclusive Ownership = "exclusive"
)

// FieldKind tells link fields and role fields apart.
type FieldKind string

const (
	LinkFieldKind FieldKind = "linkField"
	RoleFieldKind FieldKind = "roleField"
)

// LinkTarget is what a link field points at: the relation itself, or the
// things playing the opposite role(s) through an intermediary relation.
type LinkTarget string

const (
	TargetRelation LinkTarget = "relation"
	TargetRole     LinkTarget = "role"
)

// Player is a candidate thing reachable through a relational field. Plays is
// the role the player takes in the connecting relation, when known.
type Player struct {
	Thing     string    `yaml:"thing"`
	ThingType ThingType `yaml:"thingType"`
	Plays     string    `yaml:"plays,omitempty"`
}

// DataField is a plain attribute on a thing.
type DataField struct {
	Path        string      `yaml:"path"`
	DBPath      string      `yaml:"dbPath,omitempty"`
	ContentType string      `yaml:"contentType,omitempty"`
	Cardinality Cardinality `yaml:"cardinality,omitempty"`
}

// Column returns the storage name of the field.
func (d DataField) Column() string {
	if d.DBPath != "" {
		return d.DBPath
	}
	return d.Path
}

// LinkField connects a thing to others through a relation it plays a role in.
type LinkField struct {
	Path        string      `yaml:"path"`
	Cardinality Cardinality `yaml:"cardinality"`
	Relation    string      `yaml:"relation"`
	Plays       string      `yaml:"plays"`
	Target      LinkTarget  `yaml:"target"`
	TargetRoles []string    `yaml:"targetRoles,omitempty"`
	Ownership   Ownership   `yaml:"ownership,omitempty"`
	// Players optionally pins the candidate targets in declaration order.
	Players []Player `yaml:"players,omitempty"`
}

// RoleField is a role declared on a relation.
type RoleField struct {
	Path        string      `yaml:"path"`
	Cardinality Cardinality `yaml:"cardinality"`
	Ownership   Ownership   `yaml:"ownership,omitempty"`
	PlayedBy    []Player    `yaml:"playedBy,omitempty"`
}

// Thing is an entity or relation definition.
type Thing struct {
	Name       string      `yaml:"-"`
	ThingType  ThingType   `yaml:"-"`
	Extends    string      `yaml:"extends,omitempty"`
	SubTypes   []string    `yaml:"subTypes,omitempty"`
	IDFields   []string    `yaml:"idFields,omitempty"`
	DataFields []DataField `yaml:"dataFields,omitempty"`
	LinkFields []LinkField `yaml:"linkFields,omitempty"`
	Roles      []RoleField `yaml:"roles,omitempty"`
}

// DataField looks up a data field by path.
func (t *Thing) DataField(path string) (DataField, bool) {
	for _, f := range t.DataFields {
		if f.Path == path {
			return f, true
		}
	}
	return DataField{}, false
}

// IDField returns the data field holding the thing's identifier.
func (t *Thing) IDField() string {
	if len(t.IDFields) > 0 {
		return t.IDFields[0]
	}
	return "id"
}

// Field resolves a relational field (link or role) by path.
func (t *Thing) Field(path string) (FieldRef, bool) {
	for _, lf := range t.LinkFields {
		if lf.Path == path {
			return FieldRef{
				Kind:        LinkFieldKind,
				Owner:       t.Name,
				Path:        lf.Path,
				Cardinality: lf.Cardinality,
				Ownership:   ownershipOrDefault(lf.Ownership),
				Relation:    lf.Relation,
				Plays:       lf.Plays,
				Target:      lf.Target,
				TargetRoles: append([]string(nil), lf.TargetRoles...),
				players:     append([]Player(nil), lf.Players...),
			}, true
		}
	}
	for _, rf := range t.Roles {
		if rf.Path == path {
			return FieldRef{
				Kind:        RoleFieldKind,
				Owner:       t.Name,
				Path:        rf.Path,
				Cardinality: rf.Cardinality,
				Ownership:   ownershipOrDefault(rf.Ownership),
				Relation:    t.Name,
				Plays:       rf.Path,
				players:     withPlays(rf.PlayedBy, rf.Path),
			}, true
		}
	}
	return FieldRef{}, false
}

// RelationalPaths lists link fields then roles in declaration order. The
// enricher and partitioner walk children in this order.
func (t *Thing) RelationalPaths() []string {
	paths := make([]string, 0, len(t.LinkFields)+len(t.Roles))
	for _, lf := range t.LinkFields {
		paths = append(paths, lf.Path)
	}
	for _, rf := range t.Roles {
		paths = append(paths, rf.Path)
	}
	return paths
}

// Role looks up a role on a relation.
func (t *Thing) Role(path string) (RoleField, bool) {
	for _, rf := range t.Roles {
		if rf.Path == path {
			return rf, true
		}
	}
	return RoleField{}, false
}

func withPlays(players []Player, role string) []Player {
	out := make([]Player, len(players))
	for i, p := range players {
		p.Plays = role
		out[i] = p
	}
	return out
}

func ownershipOrDefault(o Ownership) Ownership {
	if o == "" {
		return Shared
	}
	return o
}

// FieldRef is the edge schema reference carried alongside a nested node: it
// identifies the relational field that connects the node to its parent.
type FieldRef struct {
	Kind        FieldKind
	Owner       string
	Path        string
	Cardinality Cardinality
	Ownership   Ownership
	// Relation is the relation type behind the field. For role fields it is
	// the owner itself.
	Relation string
	// Plays is the role the owner takes in Relation. For role fields it is
	// the role path.
	Plays       string
	Target      LinkTarget
	TargetRoles []string

	players []Player
}

// IsZero reports whether the reference is unset.
func (f FieldRef) IsZero() bool {
	return f.Kind == "" && f.Path == ""
}

// Schema is the enriched schema: entities and relations by name.
type Schema struct {
	Entities  map[string]*Thing `yaml:"entities"`
	Relations map[string]*Thing `yaml:"relations"`
}

// Thing looks up an entity or relation by name.
func (s *Schema) Thing(name string) (*Thing, error) {
	if t, ok := s.Entities[name]; ok {
		return t, nil
	}
	if t, ok := s.Relations[name]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("thing %q is not declared in the schema", name)
}

// IsA reports whether thing is name or one of its subtypes.
func (s *Schema) IsA(thing, name string) bool {
	seen := map[string]bool{}
	for cur := thing; cur != "" && !seen[cur]; {
		if cur == name {
			return true
		}
		seen[cur] = true
		t, err := s.Thing(cur)
		if err != nil {
			return false
		}
		cur = t.Extends
	}
	return false
}

// Ancestors returns the thing followed by its supertypes, nearest first.
func (s *Schema) Ancestors(thing string) []string {
	var out []string
	seen := map[string]bool{}
	for cur := thing; cur != "" && !seen[cur]; {
		seen[cur] = true
		out = append(out, cur)
		t, err := s.Thing(cur)
		if err != nil {
			break
		}
		cur = t.Extends
	}
	return out
}

// Names returns every declared thing name, sorted.
func (s *Schema) Names() []string {
	names := make([]string, 0, len(s.Entities)+len(s.Relations))
	for n := range s.Entities {
		names = append(names, n)
	}
	for n := range s.Relations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Finalize fills derived fields (names and thing types) after decoding and
// checks that every relational field points at declared things.
func (s *Schema) Finalize() error {
	if s.Entities == nil {
		s.Entities = map[string]*Thing{}
	}
	if s.Relations == nil {
		s.Relations = map[string]*Thing{}
	}
	for name, t := range s.Entities {
		if _, dup := s.Relations[name]; dup {
			return fmt.Errorf("thing %q is declared both as entity and relation", name)
		}
		t.Name = name
		t.ThingType = Entity
	}
	for name, t := range s.Relations {
		t.Name = name
		t.ThingType = Relation
	}
	for _, name := range s.Names() {
		t, _ := s.Thing(name)
		if t.Extends != "" {
			if _, err := s.Thing(t.Extends); err != nil {
				return fmt.Errorf("%s extends unknown thing %q", name, t.Extends)
			}
		}
		for _, lf := range t.LinkFields {
			rel, ok := s.Relations[lf.Relation]
			if !ok {
				return fmt.Errorf("%s.%s: relation %q is not declared", name, lf.Path, lf.Relation)
			}
			if _, ok := rel.Role(lf.Plays); !ok {
				return fmt.Errorf("%s.%s: relation %s has no role %q", name, lf.Path, lf.Relation, lf.Plays)
			}
			switch lf.Target {
			case TargetRelation:
			case TargetRole:
				for _, role := range lf.TargetRoles {
					if _, ok := rel.Role(role); !ok {
						return fmt.Errorf("%s.%s: relation %s has no target role %q", name, lf.Path, lf.Relation, role)
					}
				}
			default:
				return fmt.Errorf("%s.%s: unknown link target %q", name, lf.Path, lf.Target)
			}
			if err := s.checkPlayers(name, lf.Path, lf.Players); err != nil {
				return err
			}
		}
		for _, rf := range t.Roles {
			if err := s.checkPlayers(name, rf.Path, rf.PlayedBy); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Schema) checkPlayers(owner, path string, players []Player) error {
	for i, p := range players {
		t, err := s.Thing(p.Thing)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", owner, path, err)
		}
		if p.ThingType == "" {
			players[i].ThingType = t.ThingType
		}
	}
	return nil
}
