package bql

import (
	"fmt"

	"github.com/google/uuid"

	"thingmapper/internal/schema"
)

// ResolveDependencies settles values that depend on other nodes of the same
// mutation. Created things that are referenced get their identifier now;
// $ref data values are replaced by the target's identifier or field; links to
// a $tempId are bound to the thing created under it. The result is a new tree.
func ResolveDependencies(s *schema.Schema, roots []*EnrichedNode) ([]*EnrichedNode, error) {
	out := Clone(roots)

	targets := map[string]*EnrichedNode{}
	Walk(out, func(n, _ *EnrichedNode) bool {
		if n.Op == OpLink || n.Op == OpUnlink {
			return true
		}
		if _, seen := targets[n.BzID]; !seen {
			targets[n.BzID] = n
		}
		return true
	})

	var err error
	Walk(out, func(n, _ *EnrichedNode) bool {
		if err != nil {
			return false
		}
		if n.Op == OpLink && n.Identity == IdentityTemporary && n.ID == "" {
			err = bindTempLink(s, n, targets)
		}
		return err == nil
	})
	if err != nil {
		return nil, err
	}

	// Data refs may point at fields that are refs themselves; every pass
	// resolves at least one level, so len(targets)+1 passes suffice.
	for pass := 0; pass <= len(targets); pass++ {
		progressed, unresolved := false, false
		Walk(out, func(n, _ *EnrichedNode) bool {
			if err != nil {
				return false
			}
			for key, v := range n.Data {
				ref, ok := v.(Ref)
				if !ok {
					continue
				}
				val, done, rerr := resolveRef(s, ref, targets)
				if rerr != nil {
					err = &ValidationError{Path: n.Thing + "." + key, Message: rerr.Error()}
					return false
				}
				if !done {
					unresolved = true
					continue
				}
				n.Data[key] = val
				progressed = true
			}
			return true
		})
		if err != nil {
			return nil, err
		}
		if !unresolved {
			return out, nil
		}
		if !progressed {
			break
		}
	}
	return nil, &ValidationError{Message: "$ref values form a cycle"}
}

func bindTempLink(s *schema.Schema, n *EnrichedNode, targets map[string]*EnrichedNode) error {
	target, ok := targets[n.TempID]
	if !ok || target.Op != OpCreate {
		return &ValidationError{Message: fmt.Sprintf("$tempId %q does not name a thing created in this mutation", n.TempID)}
	}
	if !s.IsA(target.Thing, n.Thing) {
		return &ValidationError{Message: fmt.Sprintf("$tempId %q is a %s, which cannot be linked as %s", n.TempID, target.Thing, n.Thing)}
	}
	ensureID(s, target)
	n.Thing = target.Thing
	n.ThingType = target.ThingType
	n.ID = target.ID
	if n.Provenance != nil {
		n.Provenance.Player.Thing = target.Thing
	}
	n.Verified = true
	return nil
}

// resolveRef returns the value a ref stands for. done is false when the
// referenced field is itself an unresolved ref.
func resolveRef(s *schema.Schema, ref Ref, targets map[string]*EnrichedNode) (any, bool, error) {
	target, ok := targets[ref.Target]
	if !ok {
		return nil, false, fmt.Errorf("$ref %q does not name a thing in this mutation", ref.Target)
	}
	if ref.Field == "" {
		ensureID(s, target)
		return target.ID, true, nil
	}
	val, ok := target.Data[ref.Field]
	if !ok {
		return nil, false, fmt.Errorf("$ref %q has no value for %q", ref.Target, ref.Field)
	}
	if _, pending := val.(Ref); pending {
		return nil, false, nil
	}
	return val, true, nil
}

// ensureID gives a created thing its storage identifier: the value of its id
// data field when the caller supplied one, a new UUID otherwise.
func ensureID(s *schema.Schema, n *EnrichedNode) {
	if n.ID != "" {
		return
	}
	if n.ID = SuppliedID(s, n.Thing, n.Data); n.ID == "" {
		n.ID = uuid.NewString()
	}
}

// SuppliedID returns the id data field of a thing about to be created, or ""
// when data carries none.
func SuppliedID(s *schema.Schema, thing string, data map[string]any) string {
	def, err := s.Thing(thing)
	if err != nil {
		return ""
	}
	if v, ok := data[def.IDField()].(string); ok {
		return v
	}
	return ""
}
