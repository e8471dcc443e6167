package bql

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thingmapper/internal/schema"
)

func TestNormalize_SingleBlock(t *testing.T) {
	roots, err := Normalize(map[string]any{"$entity": "User", "$id": "u1", "name": "Alice"})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, "User", roots[0].Thing)
	assert.Equal(t, schema.Entity, roots[0].ThingType)
	assert.Equal(t, "u1", roots[0].ID)
	assert.Equal(t, map[string]any{"name": "Alice"}, roots[0].Fields)
}

func TestNormalize_ListKeepsOrder(t *testing.T) {
	roots, err := Normalize([]any{
		map[string]any{"$thing": "User", "name": "a"},
		map[string]any{"$relation": "UserTag", "name": "b"},
	})
	require.NoError(t, err)
	require.Len(t, roots, 2)
	assert.Equal(t, "User", roots[0].Thing)
	assert.Equal(t, "UserTag", roots[1].Thing)
	assert.Equal(t, schema.Relation, roots[1].ThingType)
}

func TestNormalize_StringifiesTimes(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	roots, err := Normalize(map[string]any{"$entity": "User", "name": at})
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T11:00:00Z", roots[0].Fields["name"])
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	nested := map[string]any{"$id": "s1"}
	in := map[string]any{"$entity": "User", "spaces": []any{nested}}
	_, err := Normalize(in)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"$id": "s1"}, nested)
	assert.Len(t, in, 2)
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{"nil", nil, "mutation is empty"},
		{"empty list", []any{}, "mutation is empty"},
		{"scalar", "User", "must be a block"},
		{"no thing", map[string]any{"name": "x"}, "must declare"},
		{"bad op", map[string]any{"$entity": "User", "$op": "upsert"}, `unknown $op "upsert"`},
		{"unknown reserved key", map[string]any{"$entity": "User", "$bogus": 1}, `unknown reserved key "$bogus"`},
		{"id and temp id", map[string]any{"$entity": "User", "$id": "u1", "$tempId": "t1"}, "mutually exclusive"},
		{"root link", map[string]any{"$entity": "User", "$id": "u1", "$op": "link"}, "needs a parent"},
		{"root delete without id", map[string]any{"$entity": "User", "$op": "delete"}, "requires $id"},
		{"conflicting things", map[string]any{"$entity": "User", "$thing": "Space"}, "conflicting"},
		{"fractional id", map[string]any{"$entity": "User", "$id": 1.5}, "$id must be an integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize(tt.input)
			require.Error(t, err)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNormalize_NumericID(t *testing.T) {
	roots, err := Normalize(map[string]any{"$entity": "User", "$id": float64(42)})
	require.NoError(t, err)
	assert.Equal(t, "42", roots[0].ID)
}
