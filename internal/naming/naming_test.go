package naming

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToSnakeCase(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"User", "user"},
		{"SpaceUser", "space_user"},
		{"userTags", "user_tags"},
		{"APIKey", "api_key"},
		{"apiV2Key", "api_v2_key"},
		{"already_snake", "already_snake"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToSnakeCase(tt.input))
		})
	}
}

func TestTableName(t *testing.T) {
	tests := []struct {
		thing    string
		expected string
	}{
		{"User", "users"},
		{"SpaceUser", "space_users"},
		{"Category", "categories"},
		{"Person", "people"},
		{"AccountOwnership", "account_ownerships"},
	}

	for _, tt := range tests {
		t.Run(tt.thing, func(t *testing.T) {
			assert.Equal(t, tt.expected, Default().TableName(tt.thing))
		})
	}
}

func TestPluralizeWithOverrides(t *testing.T) {
	cfg := Config{
		PluralOverrides: map[string]string{
			"staff": "staff", // Same singular/plural
		},
	}
	namer := New(cfg, nil)

	assert.Equal(t, "staff", namer.Pluralize("staff"))
	assert.Equal(t, "users", namer.Pluralize("user")) // Falls back to library
	assert.Equal(t, "team_staff", namer.TableName("TeamStaff"))
}

func TestTablePrefix(t *testing.T) {
	namer := New(Config{TablePrefix: "tm_"}, nil)

	assert.Equal(t, "tm_users", namer.TableName("User"))
	assert.Equal(t, "tm_user_tag_users", namer.JunctionTable("UserTag", "users"))
}

func TestColumns(t *testing.T) {
	namer := Default()

	assert.Equal(t, "created_at", namer.ColumnName("createdAt"))
	id, thing := namer.RoleColumns("itemOwner")
	assert.Equal(t, "item_owner_id", id)
	assert.Equal(t, "item_owner_thing", thing)
}

func TestCollision_TableToTable(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	namer := New(DefaultConfig(), logger)

	assert.Equal(t, "user_tags", namer.TableName("UserTag"))
	// Same thing twice resolves to the same table.
	assert.Equal(t, "user_tags", namer.TableName("UserTag"))
	assert.Empty(t, buf.String())

	// A junction table landing on an existing table name gets a suffix.
	assert.Equal(t, "user_tags_2", namer.JunctionTable("User", "tags"))
	assert.Contains(t, buf.String(), "naming collision detected")
}
