package docstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"thingmapper/internal/adapter"
	"thingmapper/internal/bql"
	"thingmapper/internal/schema"
	"thingmapper/internal/testutil"
)

func openStore(t *testing.T) (*Store, *schema.Schema) {
	t.Helper()
	s := testutil.Schema(t)
	store, err := Open("docs", filepath.Join(t.TempDir(), "things.db"), s)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close(context.Background()) })
	return store, s
}

func mutate(t *testing.T, store *Store, s *schema.Schema, input any, opts adapter.Options) ([]adapter.Result, error) {
	t.Helper()
	roots, err := bql.Normalize(input)
	require.NoError(t, err)
	tree, err := bql.Enrich(context.Background(), s, roots, bql.Options{})
	require.NoError(t, err)
	g, err := bql.Partition(tree)
	require.NoError(t, err)
	return store.Mutate(context.Background(), adapter.Request{Raw: input, Tree: tree, Graph: g, Schema: s, Options: opts})
}

func mustMutate(t *testing.T, store *Store, s *schema.Schema, input any) []adapter.Result {
	t.Helper()
	results, err := mutate(t, store, s, input, adapter.Options{})
	require.NoError(t, err)
	return results
}

func load(t *testing.T, store *Store, thing, id string) *document {
	t.Helper()
	var doc *document
	require.NoError(t, store.db.View(func(tx *bolt.Tx) error {
		var err error
		doc, err = (&txn{tx: tx, schema: store.schema}).get(thing, id)
		return err
	}))
	return doc
}

func TestStore_Identity(t *testing.T) {
	store, _ := openStore(t)
	assert.Equal(t, "bolt", store.Provider())
	assert.Equal(t, "docs", store.ConnectorID())
	assert.False(t, store.RequiresPreQuery())
}

func TestStore_CreateKeepsBothSidesOfALink(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, map[string]any{"$entity": "Space", "id": "s1", "name": "home"})

	results := mustMutate(t, store, s, map[string]any{
		"$entity": "User",
		"$tempId": "bob",
		"id":      "u1",
		"name":    "Bob",
		"spaces":  []any{"s1"},
	})
	require.Len(t, results, 2)
	assert.Equal(t, "u1", results[0].ID)
	assert.Equal(t, "bob", results[0].TempID)
	assert.Equal(t, "s1", results[1].ChildID)

	user := load(t, store, "User", "u1")
	require.NotNil(t, user)
	assert.Equal(t, "Bob", user.Data["name"])
	assert.Equal(t, []ref{{Thing: "Space", ID: "s1"}}, user.Links["spaces"])

	space := load(t, store, "Space", "s1")
	require.NotNil(t, space)
	assert.Equal(t, []ref{{Thing: "User", ID: "u1"}}, space.Links["users"])
}

func TestStore_ReferencedCreateUsesSuppliedID(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, []any{
		map[string]any{"$entity": "Space", "id": "plain", "name": "Plain"},
		map[string]any{"$entity": "Space", "$tempId": "home", "id": "space-home", "name": "Home"},
		map[string]any{"$entity": "User", "id": "u1", "spaces": []any{map[string]any{"$tempId": "home"}}},
	})

	require.NotNil(t, load(t, store, "Space", "plain"))
	home := load(t, store, "Space", "space-home")
	require.NotNil(t, home)
	assert.Equal(t, "space-home", home.Data["id"])
	assert.Equal(t, []ref{{Thing: "User", ID: "u1"}}, home.Links["users"])

	user := load(t, store, "User", "u1")
	require.NotNil(t, user)
	assert.Equal(t, []ref{{Thing: "Space", ID: "space-home"}}, user.Links["spaces"])
}

func TestStore_CreateTwiceFails(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, map[string]any{"$entity": "Space", "id": "s1"})

	_, err := mutate(t, store, s, map[string]any{"$entity": "Space", "id": "s1"}, adapter.Options{})
	var ve *bql.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Message, "already exists")
}

func TestStore_LinkMissingThingRollsBack(t *testing.T) {
	store, s := openStore(t)

	_, err := mutate(t, store, s, map[string]any{
		"$entity": "User",
		"id":      "u1",
		"spaces":  []any{"nope"},
	}, adapter.Options{})
	var nf *bql.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "nope", nf.ID)
	assert.Nil(t, load(t, store, "User", "u1"), "the created user is rolled back")
}

func TestStore_UpdateMergesData(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, map[string]any{"$entity": "User", "id": "u1", "name": "Bob", "email": "bob@example.com"})

	mustMutate(t, store, s, map[string]any{"$entity": "User", "$id": "u1", "name": "Robert", "email": nil})

	user := load(t, store, "User", "u1")
	require.NotNil(t, user)
	assert.Equal(t, "Robert", user.Data["name"])
	assert.NotContains(t, user.Data, "email")
}

func TestStore_ToOneLinkReplacesPrevious(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, []any{
		map[string]any{"$entity": "Team", "id": "t1"},
		map[string]any{"$entity": "Team", "id": "t2"},
	})
	mustMutate(t, store, s, map[string]any{"$entity": "User", "id": "u1", "team": "t1"})
	require.Equal(t, []ref{{Thing: "User", ID: "u1"}}, load(t, store, "Team", "t1").Links["members"])

	mustMutate(t, store, s, map[string]any{"$entity": "User", "$id": "u1", "team": "t2"})

	assert.Equal(t, []ref{{Thing: "Team", ID: "t2"}}, load(t, store, "User", "u1").Links["team"])
	assert.Empty(t, load(t, store, "Team", "t1").Links["members"])
	assert.Equal(t, []ref{{Thing: "User", ID: "u1"}}, load(t, store, "Team", "t2").Links["members"])
}

func TestStore_UnlinkAll(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, []any{
		map[string]any{"$entity": "Space", "id": "s1"},
		map[string]any{"$entity": "Space", "id": "s2"},
	})
	mustMutate(t, store, s, map[string]any{"$entity": "User", "id": "u1", "spaces": []any{"s1", "s2"}})

	mustMutate(t, store, s, map[string]any{"$entity": "User", "$id": "u1", "spaces": nil})

	assert.Empty(t, load(t, store, "User", "u1").Links["spaces"])
	assert.Empty(t, load(t, store, "Space", "s1").Links["users"])
	assert.Empty(t, load(t, store, "Space", "s2").Links["users"])
}

func TestStore_RoleFieldMirrorsLinkField(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, []any{
		map[string]any{"$entity": "Color", "id": "c1"},
		map[string]any{"$entity": "User", "id": "u1"},
	})

	mustMutate(t, store, s, map[string]any{"$relation": "UserTag", "id": "tag1", "name": "fav", "color": "c1", "users": []any{"u1"}})

	tag := load(t, store, "UserTag", "tag1")
	require.NotNil(t, tag)
	assert.Equal(t, []ref{{Thing: "Color", ID: "c1"}}, tag.Links["color"])
	assert.Equal(t, []ref{{Thing: "User", ID: "u1"}}, tag.Links["users"])
	assert.Equal(t, []ref{{Thing: "UserTag", ID: "tag1"}}, load(t, store, "Color", "c1").Links["userTags"])
	assert.Equal(t, []ref{{Thing: "UserTag", ID: "tag1"}}, load(t, store, "User", "u1").Links["tags"])
}

func TestStore_DeleteScrubsLinks(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, map[string]any{"$entity": "Space", "id": "s1"})
	mustMutate(t, store, s, map[string]any{"$entity": "User", "id": "u1", "spaces": []any{"s1"}})

	mustMutate(t, store, s, map[string]any{"$entity": "Space", "$id": "s1", "$op": "delete"})

	assert.Nil(t, load(t, store, "Space", "s1"))
	assert.Empty(t, load(t, store, "User", "u1").Links["spaces"])
}

func TestStore_MissingUpdateTarget(t *testing.T) {
	store, s := openStore(t)
	input := map[string]any{"$entity": "User", "$id": "ghost", "name": "x"}

	_, err := mutate(t, store, s, input, adapter.Options{})
	var nf *bql.NotFoundError
	require.ErrorAs(t, err, &nf)

	results, err := mutate(t, store, s, input, adapter.Options{IgnoreNonexistingThings: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestStore_Fetch(t *testing.T) {
	store, s := openStore(t)
	mustMutate(t, store, s, map[string]any{"$entity": "Space", "id": "s1"})
	mustMutate(t, store, s, map[string]any{"$entity": "SuperUser", "id": "u1", "spaces": []any{"s1"}})

	records, err := store.Fetch(context.Background(), []bql.Probe{
		{Thing: "User", ID: "u1", Fields: []string{"spaces", "team"}},
		{Thing: "Space", ID: "s9"},
	})
	require.NoError(t, err)
	assert.Equal(t, []bql.Record{
		{Thing: "User", ID: "u1", Exists: true, Linked: map[string][]bql.LinkedRef{"spaces": {{Thing: "Space", ID: "s1"}}}},
		{Thing: "Space", ID: "s9"},
	}, records)
}
