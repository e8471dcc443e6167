package bql

import (
	"thingmapper/internal/schema"
)

// RequiresPreQuery reports whether any node's operation still depends on
// database state that was not read yet: the existence of a persisted target,
// its membership under an existing parent, the set of things currently linked
// through a field, or a to-one link that may need superseding.
func RequiresPreQuery(roots []*EnrichedNode) bool {
	found := false
	Walk(roots, func(n, parent *EnrichedNode) bool {
		if !found && ambiguous(n, parent) {
			found = true
		}
		return !found
	})
	return found
}

func ambiguous(n, parent *EnrichedNode) bool {
	if n.Verified {
		return false
	}
	if n.Persisted() {
		return true
	}
	if parent == nil || !parent.Persisted() {
		return false
	}
	switch n.Op {
	case OpUpdate, OpDelete, OpUnlink:
		// no identifier: applies to everything currently linked
		return true
	case OpLink, OpCreate:
		return n.Provenance.Field.Cardinality == schema.One
	}
	return false
}

// RequiresDependencies reports whether any node depends on a value only known
// once another node of the same mutation has an identifier: $ref data values
// and links to things created under a $tempId.
func RequiresDependencies(roots []*EnrichedNode) bool {
	found := false
	Walk(roots, func(n, _ *EnrichedNode) bool {
		if !found && pendingDependency(n) {
			found = true
		}
		return !found
	})
	return found
}

func pendingDependency(n *EnrichedNode) bool {
	if n.Op == OpLink && n.Identity == IdentityTemporary && n.ID == "" {
		return true
	}
	for _, v := range n.Data {
		if _, ok := v.(Ref); ok {
			return true
		}
	}
	return false
}
