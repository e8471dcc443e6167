package docstore

import (
	"context"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
)

// ref is a record link to another document.
type ref struct {
	Thing string `json:"thing"`
	ID    string `json:"id"`
}

// document is the stored form of one thing. Links hold record links per
// relational field; both sides of a connection are kept when the other
// thing declares the opposite field.
type document struct {
	ID    string           `json:"id"`
	Thing string           `json:"thing"`
	Data  map[string]any   `json:"data,omitempty"`
	Links map[string][]ref `json:"links,omitempty"`
}

func (d *document) ref() ref {
	return ref{Thing: d.Thing, ID: d.ID}
}

// txn reads and writes documents inside one bbolt transaction. Every change
// is written back immediately so later reads see it.
type txn struct {
	tx     *bolt.Tx
	schema *schema.Schema
}

func (t *txn) get(thing, id string) (*document, error) {
	b := t.tx.Bucket([]byte(thing))
	if b == nil {
		return nil, nil
	}
	raw := b.Get([]byte(id))
	if raw == nil {
		return nil, nil
	}
	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("corrupt document %s %q: %w", thing, id, err)
	}
	return &doc, nil
}

// find looks id up in the bucket of thing and of every thing extending it.
func (t *txn) find(thing, id string) (*document, error) {
	for _, name := range t.schema.Names() {
		if !t.schema.IsA(name, thing) {
			continue
		}
		doc, err := t.get(name, id)
		if err != nil || doc != nil {
			return doc, err
		}
	}
	return nil, nil
}

func (t *txn) put(doc *document) error {
	b, err := t.tx.CreateBucketIfNotExists([]byte(doc.Thing))
	if err != nil {
		return err
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s %q: %w", doc.Thing, doc.ID, err)
	}
	return b.Put([]byte(doc.ID), raw)
}

// modify applies fn to the document r points at, if it still exists.
func (t *txn) modify(r ref, fn func(*document)) error {
	doc, err := t.get(r.Thing, r.ID)
	if err != nil || doc == nil {
		return err
	}
	fn(doc)
	return t.put(doc)
}

// addRef links target under owner's field. A to-one field drops its previous
// targets, which are returned.
func (t *txn) addRef(owner ref, field string, one bool, target ref) ([]ref, error) {
	var displaced []ref
	err := t.modify(owner, func(doc *document) {
		if doc.Links == nil {
			doc.Links = map[string][]ref{}
		}
		current := doc.Links[field]
		for _, r := range current {
			if r.ID == target.ID {
				return
			}
		}
		if one {
			displaced = current
			doc.Links[field] = []ref{target}
			return
		}
		doc.Links[field] = append(current, target)
	})
	return displaced, err
}

// removeRef unlinks targetID from owner's field, or every target when
// targetID is empty, and returns what was removed.
func (t *txn) removeRef(owner ref, field, targetID string) ([]ref, error) {
	var removed []ref
	err := t.modify(owner, func(doc *document) {
		kept := doc.Links[field][:0]
		for _, r := range doc.Links[field] {
			if targetID == "" || r.ID == targetID {
				removed = append(removed, r)
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == 0 {
			delete(doc.Links, field)
		} else {
			doc.Links[field] = kept
		}
	})
	return removed, err
}

// scrub deletes every link pointing at r.
func (t *txn) scrub(r ref) error {
	var changed []*document
	err := t.tx.ForEach(func(name []byte, b *bolt.Bucket) error {
		return b.ForEach(func(_, raw []byte) error {
			var doc document
			if err := json.Unmarshal(raw, &doc); err != nil {
				return fmt.Errorf("bucket %s: %w", name, err)
			}
			dirty := false
			for field, refs := range doc.Links {
				kept := refs[:0]
				for _, x := range refs {
					if x == r {
						dirty = true
						continue
					}
					kept = append(kept, x)
				}
				if len(kept) == 0 {
					delete(doc.Links, field)
				} else {
					doc.Links[field] = kept
				}
			}
			if dirty {
				changed = append(changed, &doc)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}
	for _, doc := range changed {
		if err := t.put(doc); err != nil {
			return err
		}
	}
	return nil
}

// Fetch answers pre-query probes from the transaction's view.
func (t *txn) Fetch(_ context.Context, probes []bql.Probe) ([]bql.Record, error) {
	out := make([]bql.Record, len(probes))
	for i, p := range probes {
		out[i] = bql.Record{Thing: p.Thing, ID: p.ID}
		doc, err := t.find(p.Thing, p.ID)
		if err != nil {
			return nil, err
		}
		if doc == nil {
			continue
		}
		out[i].Exists = true
		for _, field := range p.Fields {
			refs := doc.Links[field]
			if len(refs) == 0 {
				continue
			}
			if out[i].Linked == nil {
				out[i].Linked = map[string][]bql.LinkedRef{}
			}
			for _, r := range refs {
				out[i].Linked[field] = append(out[i].Linked[field], bql.LinkedRef{Thing: r.Thing, ID: r.ID})
			}
		}
	}
	return out, nil
}
