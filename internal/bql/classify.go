package bql

import (
	"thingmapper/internal/schema"
)

// Facts are the inputs of operation classification for one node.
type Facts struct {
	Explicit  Op
	Root      bool
	ParentOp  Op
	HasID     bool
	HasTempID bool
	HasData   bool
	HasNested bool
	Ownership schema.Ownership
}

// Classify infers a node's operation. The table is total:
//
//	explicit $op                          -> that op
//	root, $id                             -> update
//	root, no $id                          -> create
//	parent delete, exclusive ownership    -> delete (cascade)
//	parent delete, shared ownership       -> unlink
//	$id only                              -> link
//	$id with data or nested fields        -> update
//	$tempId only                          -> link (to the node created under that $tempId)
//	anything else                         -> create
//
// Under a delete parent the child's own fields do not matter: the child is
// either removed with its parent or detached from it.
func Classify(f Facts) Op {
	if f.Explicit != "" {
		return f.Explicit
	}
	if f.Root {
		if f.HasID {
			return OpUpdate
		}
		return OpCreate
	}
	if f.ParentOp == OpDelete {
		if f.Ownership == schema.Exclusive {
			return OpDelete
		}
		return OpUnlink
	}
	if f.HasID {
		if f.HasData || f.HasNested {
			return OpUpdate
		}
		return OpLink
	}
	if f.HasTempID && !f.HasData && !f.HasNested {
		return OpLink
	}
	return OpCreate
}
