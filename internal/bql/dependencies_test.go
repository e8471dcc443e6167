package bql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thingmapper/internal/testutil"
)

func TestResolveDependencies_TempIDLink(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, []any{
		map[string]any{"$entity": "Space", "$tempId": "home", "name": "Home"},
		map[string]any{"$entity": "User", "name": "Bob", "spaces": []any{map[string]any{"$tempId": "home"}}},
	}, Options{})
	require.True(t, RequiresDependencies(tree))

	out, err := ResolveDependencies(s, tree)
	require.NoError(t, err)
	assert.False(t, RequiresDependencies(out))

	space := out[0]
	link := out[1].Link("spaces").Nodes[0]
	assert.Equal(t, OpCreate, space.Op)
	assert.NotEmpty(t, space.ID)
	assert.Equal(t, space.ID, link.ID)
	assert.Equal(t, OpLink, link.Op)
	assert.True(t, link.Verified)
	assert.Empty(t, tree[0].ID, "input tree is untouched")
}

func TestResolveDependencies_ReferencedCreateKeepsSuppliedID(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, []any{
		map[string]any{"$entity": "Space", "$tempId": "home", "id": "space-home", "name": "Home"},
		map[string]any{"$entity": "User", "spaces": []any{map[string]any{"$tempId": "home"}}},
		map[string]any{"$entity": "Space", "$tempId": "work", "name": "Work"},
		map[string]any{"$entity": "User", "spaces": []any{map[string]any{"$tempId": "work"}}},
	}, Options{})

	out, err := ResolveDependencies(s, tree)
	require.NoError(t, err)

	assert.Equal(t, "space-home", out[0].ID)
	assert.Equal(t, "space-home", out[1].Link("spaces").Nodes[0].ID)

	work := out[2]
	require.NotEmpty(t, work.ID, "creates without an id value get a generated one")
	assert.Equal(t, work.ID, out[3].Link("spaces").Nodes[0].ID)
}

func TestResolveDependencies_UnknownTempID(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity": "User",
		"spaces":  []any{map[string]any{"$tempId": "nowhere"}},
	}, Options{})

	_, err := ResolveDependencies(s, tree)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), `"nowhere"`)
}

func TestResolveDependencies_TempIDOfWrongThing(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, []any{
		map[string]any{"$entity": "Team", "$tempId": "t", "name": "core"},
		map[string]any{"$entity": "User", "spaces": []any{map[string]any{"$tempId": "t"}}},
	}, Options{})

	_, err := ResolveDependencies(s, tree)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, err.Error(), "cannot be linked as Space")
}

func TestResolveDependencies_Refs(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, []any{
		map[string]any{"$entity": "Account", "$tempId": "acc", "provider": "github"},
		map[string]any{
			"$entity": "User",
			"name":    map[string]any{"$ref": "acc", "$field": "provider"},
			"email":   map[string]any{"$ref": "acc"},
		},
	}, Options{})
	require.True(t, RequiresDependencies(tree))

	out, err := ResolveDependencies(s, tree)
	require.NoError(t, err)
	assert.Equal(t, "github", out[1].Data["name"])
	assert.Equal(t, out[0].ID, out[1].Data["email"])
	assert.NotEmpty(t, out[0].ID)
}

func TestResolveDependencies_RefChain(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, []any{
		map[string]any{"$entity": "User", "$tempId": "a", "name": map[string]any{"$ref": "b", "$field": "name"}},
		map[string]any{"$entity": "User", "$tempId": "b", "name": map[string]any{"$ref": "c", "$field": "name"}},
		map[string]any{"$entity": "User", "$tempId": "c", "name": "Carol"},
	}, Options{})

	out, err := ResolveDependencies(s, tree)
	require.NoError(t, err)
	for _, n := range out {
		assert.Equal(t, "Carol", n.Data["name"])
	}
}

func TestResolveDependencies_RefErrors(t *testing.T) {
	s := testutil.Schema(t)
	tests := []struct {
		name  string
		input any
		want  string
	}{
		{
			name:  "unknown target",
			input: map[string]any{"$entity": "User", "name": map[string]any{"$ref": "ghost"}},
			want:  `$ref "ghost" does not name`,
		},
		{
			name: "missing field",
			input: []any{
				map[string]any{"$entity": "User", "$tempId": "a", "name": "x"},
				map[string]any{"$entity": "User", "email": map[string]any{"$ref": "a", "$field": "email"}},
			},
			want: `has no value for "email"`,
		},
		{
			name: "cycle",
			input: []any{
				map[string]any{"$entity": "User", "$tempId": "a", "name": map[string]any{"$ref": "b", "$field": "name"}},
				map[string]any{"$entity": "User", "$tempId": "b", "name": map[string]any{"$ref": "a", "$field": "name"}},
			},
			want: "cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tree := enrichInput(t, s, tt.input, Options{})
			_, err := ResolveDependencies(s, tree)
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
