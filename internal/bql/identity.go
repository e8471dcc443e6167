package bql

import (
	"thingmapper/internal/uuidutil"
)

// AssignIdentity returns the correlation identifier for a node: its persisted
// $id, else its caller supplied $tempId, else a freshly minted temporary id.
// Minted ids are random, so concurrent enrichment needs no coordination.
func AssignIdentity(id, tempID string) (string, IdentityKind) {
	switch {
	case id != "":
		return id, IdentityPersisted
	case tempID != "":
		return tempID, IdentityTemporary
	default:
		return uuidutil.NewTempID(), IdentityMinted
	}
}
