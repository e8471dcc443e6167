package bql

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thingmapper/internal/schema"
	"thingmapper/internal/testutil"
	"thingmapper/internal/uuidutil"
)

func enrichInput(t *testing.T, s *schema.Schema, input any, opts Options) []*EnrichedNode {
	t.Helper()
	roots, err := Normalize(input)
	require.NoError(t, err)
	tree, err := Enrich(context.Background(), s, roots, opts)
	require.NoError(t, err)
	return tree
}

func TestEnrich_UpdateWithoutNesting(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{"$entity": "User", "$id": "u1", "name": "Alice"}, Options{})

	require.Len(t, tree, 1)
	n := tree[0]
	assert.Equal(t, OpUpdate, n.Op)
	assert.Equal(t, "u1", n.BzID)
	assert.Equal(t, IdentityPersisted, n.Identity)
	assert.Nil(t, n.Provenance)
	assert.Equal(t, map[string]any{"name": "Alice"}, n.Data)
	assert.Empty(t, n.Links)
}

func TestEnrich_CreateWithLinkedSpace(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity": "User",
		"name":    "Bob",
		"spaces":  []any{map[string]any{"$id": "s1"}},
	}, Options{})

	user := tree[0]
	assert.Equal(t, OpCreate, user.Op)
	assert.Equal(t, IdentityMinted, user.Identity)
	assert.True(t, uuidutil.IsTempID(user.BzID))

	link := user.Link("spaces")
	require.NotNil(t, link)
	assert.True(t, link.Many)
	require.Len(t, link.Nodes, 1)

	space := link.Nodes[0]
	assert.Equal(t, "Space", space.Thing)
	assert.Equal(t, schema.Entity, space.ThingType)
	assert.Equal(t, OpLink, space.Op)
	assert.Equal(t, "s1", space.BzID)
	require.NotNil(t, space.Provenance)
	assert.Equal(t, user.BzID, space.Provenance.ParentBzID)
	assert.Equal(t, "spaces", space.Provenance.Field.Path)
	assert.Equal(t, "space", space.Provenance.Player.Plays)
}

func TestEnrich_BareIdentifiers(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity": "User",
		"$id":     "u1",
		"spaces":  []any{"s1", "s2"},
		"team":    "t1",
	}, Options{})

	spaces := tree[0].Link("spaces").Nodes
	require.Len(t, spaces, 2)
	assert.Equal(t, "s2", spaces[1].ID)
	assert.Equal(t, OpLink, spaces[1].Op)

	team := tree[0].Link("team")
	assert.False(t, team.Many)
	assert.Equal(t, "Team", team.Nodes[0].Thing)
}

func TestEnrich_CascadeDeleteOnExclusiveOwnership(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity":  "User",
		"$id":      "u1",
		"$op":      "delete",
		"accounts": []any{map[string]any{"$id": "a1"}},
		"spaces":   []any{map[string]any{"$id": "s1"}},
	}, Options{})

	user := tree[0]
	assert.Equal(t, OpDelete, user.Op)
	assert.Equal(t, OpExplicit, user.OpSource)
	assert.Equal(t, OpDelete, user.Link("accounts").Nodes[0].Op)
	assert.Equal(t, OpUnlink, user.Link("spaces").Nodes[0].Op)
}

func TestEnrich_EmptyBlockUnderDeleteDetachesAll(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity":  "User",
		"$id":      "u1",
		"$op":      "delete",
		"accounts": []any{map[string]any{}},
		"spaces":   []any{map[string]any{}},
	}, Options{})

	user := tree[0]
	account := user.Link("accounts").Nodes[0]
	assert.Equal(t, OpDelete, account.Op)
	assert.Empty(t, account.ID)
	assert.Equal(t, OpUnlink, user.Link("spaces").Nodes[0].Op)
}

func TestEnrich_ChildrenFollowSchemaOrder(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity":  "User",
		"team":     map[string]any{"name": "core"},
		"accounts": []any{map[string]any{"provider": "github"}},
		"spaces":   []any{map[string]any{"name": "home"}},
	}, Options{})

	var paths []string
	for _, l := range tree[0].Links {
		paths = append(paths, l.Field.Path)
	}
	assert.Equal(t, []string{"spaces", "accounts", "team"}, paths)
}

func TestEnrich_LinkFieldTargetingRelation(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity": "User",
		"tags": []any{map[string]any{
			"name":  "fav",
			"color": map[string]any{"$id": "c1"},
		}},
	}, Options{})

	tag := tree[0].Link("tags").Nodes[0]
	assert.Equal(t, "UserTag", tag.Thing)
	assert.Equal(t, schema.Relation, tag.ThingType)
	assert.Equal(t, OpCreate, tag.Op)

	color := tag.Link("color").Nodes[0]
	assert.Equal(t, "Color", color.Thing)
	assert.Equal(t, OpLink, color.Op)
	assert.Equal(t, schema.RoleFieldKind, color.Provenance.Field.Kind)
	assert.Equal(t, tag.BzID, color.Provenance.ParentBzID)
}

func TestEnrich_MintedIdentifiersAreDistinct(t *testing.T) {
	s := testutil.Schema(t)
	var blocks []any
	for i := 0; i < 20; i++ {
		blocks = append(blocks, map[string]any{
			"$entity":  "User",
			"accounts": []any{map[string]any{"provider": "a"}, map[string]any{"provider": "b"}},
		})
	}
	tree := enrichInput(t, s, blocks, Options{})

	seen := map[string]bool{}
	Walk(tree, func(n, _ *EnrichedNode) bool {
		assert.NotEmpty(t, n.BzID)
		assert.NotEmpty(t, n.Op)
		assert.False(t, seen[n.BzID], "duplicate identifier %s", n.BzID)
		seen[n.BzID] = true
		return true
	})
	assert.Len(t, seen, 60)
}

func TestEnrich_TargetResolution(t *testing.T) {
	s := testutil.Schema(t)
	input := map[string]any{
		"$entity":   "User",
		"$id":       "u1",
		"favorites": []any{map[string]any{"$id": "x1"}},
	}
	roots, err := Normalize(input)
	require.NoError(t, err)

	_, err = Enrich(context.Background(), s, roots, Options{TargetResolution: ResolveStrict})
	var se *SchemaError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, err.Error(), "ambiguous target")

	tree, err := Enrich(context.Background(), s, roots, Options{TargetResolution: ResolveFirst})
	require.NoError(t, err)
	assert.Equal(t, "Color", tree[0].Link("favorites").Nodes[0].Thing)

	declared := enrichInput(t, s, map[string]any{
		"$entity":   "User",
		"$id":       "u1",
		"favorites": []any{map[string]any{"$id": "x1", "$thing": "Space"}},
	}, Options{})
	fav := declared[0].Link("favorites").Nodes[0]
	assert.Equal(t, "Space", fav.Thing)
	assert.Equal(t, "item", fav.Provenance.Player.Plays)
}

func TestEnrich_DeclaredSubtype(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity": "Space",
		"users":   []any{map[string]any{"$thing": "SuperUser", "name": "root", "power": "9"}},
	}, Options{})
	assert.Equal(t, "SuperUser", tree[0].Link("users").Nodes[0].Thing)
}

func TestEnrich_NullFieldUnlinksEverything(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{"$entity": "User", "$id": "u1", "team": nil}, Options{})

	team := tree[0].Link("team").Nodes[0]
	assert.Equal(t, OpUnlink, team.Op)
	assert.Empty(t, team.ID)
}

func TestEnrich_RefValues(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity": "User",
		"name":    map[string]any{"$ref": "acc", "$field": "provider"},
	}, Options{})
	assert.Equal(t, Ref{Target: "acc", Field: "provider"}, tree[0].Data["name"])
}

func TestEnrich_Errors(t *testing.T) {
	s := testutil.Schema(t)
	tests := []struct {
		name    string
		input   any
		schemaE bool
		want    string
	}{
		{"unknown root thing", map[string]any{"$entity": "Ghost"}, true, `"Ghost" is not declared`},
		{"wrong thing type", map[string]any{"$relation": "User"}, true, "is a entity, not a relation"},
		{"unknown field", map[string]any{"$entity": "User", "age": 3}, true, `User has no field "age"`},
		{"unknown nested field", map[string]any{"$entity": "User", "spaces": []any{map[string]any{"color": "x"}}}, true, `Space has no field "color"`},
		{"unreachable declared thing", map[string]any{"$entity": "User", "spaces": []any{map[string]any{"$thing": "Team"}}}, true, "cannot be reached"},
		{"too many on a to-one field", map[string]any{"$entity": "User", "team": []any{"t1", "t2"}}, false, "holds a single thing"},
		{"nested block of wrong shape", map[string]any{"$entity": "User", "spaces": []any{true}}, false, "must be a string"},
		{"bad ref", map[string]any{"$entity": "User", "name": map[string]any{"$ref": 3}}, false, "$ref must be"},
		{"data cannot select children of a delete", map[string]any{"$entity": "User", "$id": "u1", "$op": "delete", "accounts": []any{map[string]any{"provider": "x"}}}, false, "needs $id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			roots, err := Normalize(tt.input)
			require.NoError(t, err)
			_, err = Enrich(context.Background(), s, roots, Options{})
			require.Error(t, err)
			if tt.schemaE {
				var se *SchemaError
				assert.ErrorAs(t, err, &se)
			} else {
				var ve *ValidationError
				assert.ErrorAs(t, err, &ve)
			}
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEnrich_Canceled(t *testing.T) {
	s := testutil.Schema(t)
	roots, err := Normalize(map[string]any{"$entity": "User"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Enrich(ctx, s, roots, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReenrich_Idempotent(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity":  "User",
		"$id":      "u1",
		"$op":      "delete",
		"accounts": []any{map[string]any{"$id": "a1"}},
		"spaces":   []any{map[string]any{"$id": "s1", "name": "x"}},
	}, Options{})

	again, err := Reenrich(context.Background(), tree)
	require.NoError(t, err)
	twice, err := Reenrich(context.Background(), again)
	require.NoError(t, err)

	ops := func(roots []*EnrichedNode) map[string]Op {
		out := map[string]Op{}
		Walk(roots, func(n, _ *EnrichedNode) bool {
			out[n.BzID] = n.Op
			return true
		})
		return out
	}
	assert.Equal(t, ops(tree), ops(again))
	assert.Equal(t, ops(again), ops(twice))
	assert.NotSame(t, tree[0], again[0], "re-enrichment returns a new tree")
}

func TestReenrich_KeepsResolvedOps(t *testing.T) {
	s := testutil.Schema(t)
	tree := enrichInput(t, s, map[string]any{
		"$entity": "User",
		"$id":     "u1",
		"spaces":  []any{map[string]any{"$id": "s1"}},
	}, Options{})
	space := tree[0].Link("spaces").Nodes[0]
	space.Op, space.OpSource = OpCreate, OpResolved

	again, err := Reenrich(context.Background(), tree)
	require.NoError(t, err)
	assert.Equal(t, OpCreate, again[0].Link("spaces").Nodes[0].Op)
}
