package bql

import (
	"context"
	"fmt"

	"thingmapper/internal/schema"
	"thingmapper/internal/uuidutil"
)

// Probe asks a backend for the current state of one persisted thing: whether
// it exists and, for each field in Fields, which things are linked through it.
type Probe struct {
	Thing  string
	ID     string
	Fields []string
}

// LinkedRef identifies a thing currently linked through a field.
type LinkedRef struct {
	Thing string
	ID    string
}

// Record is a backend's answer to one Probe.
type Record struct {
	Thing  string
	ID     string
	Exists bool
	Linked map[string][]LinkedRef
}

func (r Record) linked(field, id string) bool {
	for _, ref := range r.Linked[field] {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// Fetcher is the read-only capability of backends that need the current
// database state before a mutation can be compiled.
type Fetcher interface {
	Fetch(ctx context.Context, probes []Probe) ([]Record, error)
}

// DefaultPreQueryRounds bounds how often fetched state may surface new
// ambiguous nodes.
const DefaultPreQueryRounds = 4

// PreQueryOptions tune PreQuery.
type PreQueryOptions struct {
	// IgnoreNonexistingThings drops nodes whose persisted target is missing
	// instead of failing the mutation.
	IgnoreNonexistingThings bool
	MaxRounds               int
}

// PreQuery resolves every node the dependency guard flags by reading the
// current state through f, one batched Fetch per root region and round. It
// returns a new tree; roots is left untouched.
func PreQuery(ctx context.Context, s *schema.Schema, f Fetcher, roots []*EnrichedNode, opts PreQueryOptions) ([]*EnrichedNode, error) {
	maxRounds := opts.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultPreQueryRounds
	}

	out := Clone(roots)
	for round := 0; RequiresPreQuery(out); round++ {
		if round == maxRounds {
			return nil, fmt.Errorf("pre-query did not settle after %d rounds", maxRounds)
		}
		kept := make([]*EnrichedNode, 0, len(out))
		for _, root := range out {
			region := []*EnrichedNode{root}
			if !RequiresPreQuery(region) {
				kept = append(kept, root)
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			m := &merger{schema: s, ignore: opts.IgnoreNonexistingThings, records: map[string]Record{}}
			if probes := probesFor(root); len(probes) > 0 {
				records, err := f.Fetch(ctx, probes)
				if err != nil {
					return nil, err
				}
				for _, r := range records {
					m.records[recordKey(r.Thing, r.ID)] = r
				}
			}
			keep, err := m.node(root, nil)
			if err != nil {
				return nil, err
			}
			if keep {
				kept = append(kept, root)
			}
		}
		out = kept
	}
	return out, nil
}

func recordKey(thing, id string) string {
	return thing + "\x00" + id
}

// probesFor collects the minimal probe set of one root region: every
// unverified persisted node, plus the fields of persisted parents whose
// current links decide a child's fate.
func probesFor(root *EnrichedNode) []Probe {
	var (
		probes []*Probe
		index  = map[string]*Probe{}
	)
	add := func(thing, id, field string) {
		key := recordKey(thing, id)
		p, ok := index[key]
		if !ok {
			p = &Probe{Thing: thing, ID: id}
			index[key] = p
			probes = append(probes, p)
		}
		if field == "" {
			return
		}
		for _, f := range p.Fields {
			if f == field {
				return
			}
		}
		p.Fields = append(p.Fields, field)
	}

	Walk([]*EnrichedNode{root}, func(n, parent *EnrichedNode) bool {
		if n.Verified {
			return true
		}
		if n.Persisted() {
			add(n.Thing, n.ID, "")
		}
		if parent != nil && parent.Persisted() && needsParentLinks(n) {
			add(parent.Thing, parent.ID, n.Provenance.Field.Path)
		}
		return true
	})

	out := make([]Probe, len(probes))
	for i, p := range probes {
		out[i] = *p
	}
	return out
}

func needsParentLinks(n *EnrichedNode) bool {
	switch n.Op {
	case OpUpdate, OpDelete, OpUnlink:
		return true
	default:
		return n.Provenance.Field.Cardinality == schema.One
	}
}

type merger struct {
	schema  *schema.Schema
	ignore  bool
	records map[string]Record
}

// existing returns the fetched record of a persisted node that exists.
func (m *merger) existing(n *EnrichedNode) (Record, bool) {
	if !n.Persisted() {
		return Record{}, false
	}
	rec, ok := m.records[recordKey(n.Thing, n.ID)]
	return rec, ok && rec.Exists
}

// node merges fetched state into n and its descendants. It reports false when
// n has to be dropped from its parent.
func (m *merger) node(n, parent *EnrichedNode) (bool, error) {
	if !n.Verified {
		if n.Persisted() {
			rec, ok := m.records[recordKey(n.Thing, n.ID)]
			switch {
			case (!ok || !rec.Exists) && n.Op == OpLink && len(n.Data) > 0:
				n.Op, n.OpSource = OpCreate, OpResolved
			case !ok || !rec.Exists:
				if m.ignore {
					return false, nil
				}
				return false, &NotFoundError{Thing: n.Thing, ID: n.ID}
			case parent != nil && n.Op != OpLink:
				if prec, ok := m.existing(parent); ok && !prec.linked(n.Provenance.Field.Path, n.ID) {
					if m.ignore {
						return false, nil
					}
					return false, &NotFoundError{Thing: n.Thing, ID: n.ID, Via: parent.Thing + "." + n.Provenance.Field.Path}
				}
			}
		}
		n.Verified = true
	}

	rec, hasRec := m.existing(n)
	for _, l := range n.Links {
		direct := pending(l)
		nodes := make([]*EnrichedNode, 0, len(l.Nodes))
		for _, child := range l.Nodes {
			if !child.Verified && child.ID == "" && appliesToLinked(child.Op) {
				// Under a new parent nothing is linked yet.
				if hasRec {
					nodes = append(nodes, m.expand(child, rec.Linked[l.Field.Path])...)
				}
				continue
			}
			keep, err := m.node(child, n)
			if err != nil {
				return false, err
			}
			if keep {
				nodes = append(nodes, child)
			}
		}
		if direct && hasRec && l.Field.Cardinality == schema.One {
			nodes = append(m.supersede(n, l.Field, nodes, rec.Linked[l.Field.Path]), nodes...)
		}
		l.Nodes = nodes
	}
	return true, nil
}

func pending(l *Link) bool {
	for _, n := range l.Nodes {
		if !n.Verified {
			return true
		}
	}
	return false
}

func appliesToLinked(op Op) bool {
	return op == OpUpdate || op == OpDelete || op == OpUnlink
}

// supersede returns implicit unlink nodes for things currently linked through
// a to-one field that an incoming link or create replaces.
func (m *merger) supersede(parent *EnrichedNode, field schema.FieldRef, nodes []*EnrichedNode, current []LinkedRef) []*EnrichedNode {
	incoming := map[string]bool{}
	handled := map[string]bool{}
	replaced := false
	for _, n := range nodes {
		switch n.Op {
		case OpLink, OpCreate:
			replaced = true
			incoming[n.ID] = true
		case OpUnlink, OpDelete:
			handled[n.ID] = true
		}
	}
	if !replaced {
		return nil
	}
	var out []*EnrichedNode
	for _, ref := range current {
		if incoming[ref.ID] || handled[ref.ID] {
			continue
		}
		out = append(out, &EnrichedNode{
			Thing:      ref.Thing,
			ThingType:  m.thingType(ref.Thing),
			Op:         OpUnlink,
			OpSource:   OpResolved,
			BzID:       ref.ID,
			Identity:   IdentityPersisted,
			ID:         ref.ID,
			Provenance: &Provenance{ParentBzID: parent.BzID, Field: field, Player: m.player(field, ref.Thing)},
			Verified:   true,
		})
	}
	return out
}

// expand replaces an id-less update, delete or unlink with one verified copy
// per thing currently linked through the field.
func (m *merger) expand(tmpl *EnrichedNode, current []LinkedRef) []*EnrichedNode {
	var out []*EnrichedNode
	for _, ref := range current {
		if !m.schema.IsA(ref.Thing, tmpl.Thing) {
			continue
		}
		c := tmpl.clone()
		c.Thing = ref.Thing
		c.ThingType = m.thingType(ref.Thing)
		c.ID = ref.ID
		c.BzID = ref.ID
		c.Identity = IdentityPersisted
		c.Verified = true
		c.Provenance.Player = m.player(c.Provenance.Field, ref.Thing)
		for _, l := range c.Links {
			for _, child := range l.Nodes {
				child.Provenance.ParentBzID = c.BzID
			}
		}
		remint(c.Links)
		out = append(out, c)
	}
	return out
}

// remint gives copied nodes fresh minted identifiers so copies never share
// one.
func remint(links []*Link) {
	for _, l := range links {
		for _, n := range l.Nodes {
			if n.Identity == IdentityMinted {
				n.BzID = uuidutil.NewTempID()
			}
			for _, cl := range n.Links {
				for _, child := range cl.Nodes {
					child.Provenance.ParentBzID = n.BzID
				}
			}
			remint(n.Links)
		}
	}
}

func (m *merger) thingType(name string) schema.ThingType {
	if t, err := m.schema.Thing(name); err == nil {
		return t.ThingType
	}
	return ""
}

func (m *merger) player(field schema.FieldRef, thing string) schema.Player {
	players, err := m.schema.OppositePlayers(field)
	if err == nil {
		for _, p := range players {
			if m.schema.IsA(thing, p.Thing) {
				p.Thing = thing
				return p
			}
		}
	}
	return schema.Player{Thing: thing, ThingType: m.thingType(thing)}
}
