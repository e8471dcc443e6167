// Package docstore is an embedded document backend on bbolt. Every thing is a
// JSON document in the bucket of its thing type; connections are record links
// kept on both documents.
//
// The store reads the state a mutation depends on inside its own write
// transaction, so the pipeline does not need to pre-query it.
package docstore

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"thingmapper/internal/adapter"
	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
)

// Provider is the connector provider name of this backend.
const Provider = "bolt"

// Store is the bbolt backend. It resolves existence itself, so it never
// needs the pre-query stage.
type Store struct {
	id     string
	db     *bolt.DB
	schema *schema.Schema
}

// Open opens or creates the store file at path.
func Open(connectorID, path string, s *schema.Schema) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store %s: %w", path, err)
	}
	return &Store{id: connectorID, db: db, schema: s}, nil
}

// Provider reports "bolt".
func (s *Store) Provider() string       { return Provider }
func (s *Store) ConnectorID() string    { return s.id }
func (s *Store) RequiresPreQuery() bool { return false }

// Mutate settles and applies the mutation in one bbolt write transaction.
func (s *Store) Mutate(ctx context.Context, req adapter.Request) ([]adapter.Result, error) {
	var results []adapter.Result
	err := s.db.Update(func(tx *bolt.Tx) error {
		t := &txn{tx: tx, schema: req.Schema}
		settled, err := settle(ctx, t, req)
		if err != nil {
			return err
		}
		g := adapter.AssignIDs(req.Schema, settled.Graph)
		if err := t.apply(g); err != nil {
			return err
		}
		results = adapter.MergeResults(g, adapter.TempIDs(settled.Tree))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// settle merges the current documents into the tree, the way the pre-query
// stage does for other backends, then resolves cross-node references.
func settle(ctx context.Context, t *txn, req adapter.Request) (adapter.Request, error) {
	if bql.RequiresPreQuery(req.Tree) {
		tree, err := bql.PreQuery(ctx, req.Schema, t, req.Tree, bql.PreQueryOptions{
			IgnoreNonexistingThings: req.Options.IgnoreNonexistingThings,
		})
		if err != nil {
			return req, err
		}
		g, err := bql.Partition(tree)
		if err != nil {
			return req, err
		}
		req.Tree, req.Graph = tree, g
	}
	return adapter.Settle(req)
}

// Fetch reports the stored state of each probed thing.
func (s *Store) Fetch(ctx context.Context, probes []bql.Probe) ([]bql.Record, error) {
	var records []bql.Record
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		records, err = (&txn{tx: tx, schema: s.schema}).Fetch(ctx, probes)
		return err
	})
	return records, err
}

// Close closes the store file.
func (s *Store) Close(context.Context) error {
	return s.db.Close()
}

// apply writes documents first, then unlinks, then links, and deletes last.
func (t *txn) apply(g *bql.Graph) error {
	for _, th := range g.Things {
		switch th.Op {
		case bql.OpCreate:
			existing, err := t.find(th.Thing, th.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return &bql.ValidationError{Message: fmt.Sprintf("%s %q already exists", th.Thing, th.ID)}
			}
			if err := t.put(&document{ID: th.ID, Thing: th.Thing, Data: storedData(nil, th.Data)}); err != nil {
				return err
			}
		case bql.OpUpdate:
			doc, err := t.find(th.Thing, th.ID)
			if err != nil {
				return err
			}
			if doc == nil {
				return &bql.NotFoundError{Thing: th.Thing, ID: th.ID}
			}
			doc.Data = storedData(doc.Data, th.Data)
			if err := t.put(doc); err != nil {
				return err
			}
		}
	}
	for _, e := range g.Edges {
		if e.Op == bql.EdgeUnlink {
			if err := t.unlink(e); err != nil {
				return err
			}
		}
	}
	for _, e := range g.Edges {
		if e.Op == bql.EdgeLink {
			if err := t.link(e); err != nil {
				return err
			}
		}
	}
	for _, th := range g.Things {
		if th.Op != bql.OpDelete {
			continue
		}
		doc, err := t.find(th.Thing, th.ID)
		if err != nil {
			return err
		}
		if doc == nil {
			return &bql.NotFoundError{Thing: th.Thing, ID: th.ID}
		}
		if err := t.scrub(doc.ref()); err != nil {
			return err
		}
		if err := t.tx.Bucket([]byte(doc.Thing)).Delete([]byte(doc.ID)); err != nil {
			return err
		}
	}
	return nil
}

// storedData merges changes into data. A nil value removes the field.
func storedData(data, changes map[string]any) map[string]any {
	if data == nil {
		data = make(map[string]any, len(changes))
	}
	for k, v := range changes {
		if v == nil {
			delete(data, k)
			continue
		}
		data[k] = v
	}
	return data
}

func (t *txn) link(e bql.Edge) error {
	parent, err := t.find(e.Parent.Thing, e.Parent.ID)
	if err != nil {
		return err
	}
	if parent == nil {
		return &bql.NotFoundError{Thing: e.Parent.Thing, ID: e.Parent.ID}
	}
	child, err := t.find(e.Child.Thing, e.Child.ID)
	if err != nil {
		return err
	}
	if child == nil {
		return &bql.NotFoundError{Thing: e.Child.Thing, ID: e.Child.ID, Via: e.Parent.Thing + "." + e.Field.Path}
	}

	a, b := parent.ref(), child.ref()
	displaced, err := t.addRef(a, e.Field.Path, e.Field.Cardinality == schema.One, b)
	if err != nil {
		return err
	}
	back, one, ok := t.mirror(a.Thing, e.Field, b.Thing)
	if !ok {
		return nil
	}
	for _, d := range displaced {
		if _, err := t.removeRef(d, back, a.ID); err != nil {
			return err
		}
	}
	displaced, err = t.addRef(b, back, one, a)
	if err != nil {
		return err
	}
	for _, d := range displaced {
		if _, err := t.removeRef(d, e.Field.Path, b.ID); err != nil {
			return err
		}
	}
	return nil
}

// unlink removes one connection, or all of them when the child has no id.
func (t *txn) unlink(e bql.Edge) error {
	parent, err := t.find(e.Parent.Thing, e.Parent.ID)
	if err != nil || parent == nil {
		return err
	}
	a := parent.ref()
	removed, err := t.removeRef(a, e.Field.Path, e.Child.ID)
	if err != nil {
		return err
	}
	for _, r := range removed {
		if back, _, ok := t.mirror(a.Thing, e.Field, r.Thing); ok {
			if _, err := t.removeRef(r, back, a.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// mirror finds the field of other that holds the opposite side of field on
// owner, and whether it is to-one.
func (t *txn) mirror(owner string, field schema.FieldRef, other string) (string, bool, bool) {
	def, err := t.schema.Thing(other)
	if err != nil {
		return "", false, false
	}
	switch {
	case field.Kind == schema.RoleFieldKind:
		for _, lf := range def.LinkFields {
			if lf.Target == schema.TargetRelation && lf.Plays == field.Path && t.schema.IsA(owner, lf.Relation) {
				return lf.Path, lf.Cardinality == schema.One, true
			}
		}
	case field.Target == schema.TargetRelation:
		if rf, ok := def.Role(field.Plays); ok {
			return rf.Path, rf.Cardinality == schema.One, true
		}
	default:
		for _, lf := range def.LinkFields {
			if lf.Target != schema.TargetRole || lf.Relation != field.Relation {
				continue
			}
			for _, role := range lf.TargetRoles {
				if role == field.Plays {
					return lf.Path, lf.Cardinality == schema.One, true
				}
			}
		}
	}
	return "", false, false
}

var (
	_ adapter.Adapter = (*Store)(nil)
	_ bql.Fetcher     = (*Store)(nil)
)
