package uuidutil

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// TempIDPrefix marks correlation identifiers minted for things that do not
// exist yet.
const TempIDPrefix = "N_"

// NewTempID mints a temporary correlation identifier. Random v4 UUIDs keep
// concurrent minting collision-free without a shared counter.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was produced by NewTempID.
func IsTempID(id string) bool {
	rest, ok := strings.CutPrefix(id, TempIDPrefix)
	if !ok {
		return false
	}
	_, _, err := ParseString(rest)
	return err == nil
}

// ParseString parses common UUID string formats and returns a normalized lower-case UUID.
func ParseString(raw string) (uuid.UUID, string, error) {
	parsed, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("invalid UUID value")
	}
	return parsed, strings.ToLower(parsed.String()), nil
}
