package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thingmapper/internal/adapter"
	"thingmapper/internal/testutil"
)

func TestReadMutation(t *testing.T) {
	file := filepath.Join(t.TempDir(), "m.json")
	require.NoError(t, os.WriteFile(file, []byte(`[{"$entity": "User", "age": 12345678901234567890}]`), 0o600))

	tests := []struct {
		name    string
		args    []string
		stdin   string
		wantErr string
	}{
		{name: "stdin", stdin: `{"$entity": "User", "name": "Bob"}`},
		{name: "file", args: []string{file}},
		{name: "empty", stdin: "  ", wantErr: "empty"},
		{name: "broken json", stdin: `{"$entity":`, wantErr: "failed to decode"},
		{name: "two documents", stdin: `{} {}`, wantErr: "more than one"},
		{name: "two files", args: []string{file, file}, wantErr: "at most one"},
		{name: "missing file", args: []string{file + ".absent"}, wantErr: "failed to open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := readMutation(tt.args, strings.NewReader(tt.stdin))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, raw)
		})
	}
}

func TestReadMutation_KeepsNumbers(t *testing.T) {
	raw, err := readMutation(nil, strings.NewReader(`{"$entity": "User", "age": 12345678901234567890}`))
	require.NoError(t, err)
	block := raw.(map[string]any)
	assert.Equal(t, json.Number("12345678901234567890"), block["age"])
}

func TestWriteResults_EmptyIsList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeResults(&buf, nil))
	assert.JSONEq(t, `[]`, buf.String())
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"--version"}, strings.NewReader(""), &out))
	assert.Contains(t, out.String(), "thingmapper dev")
}

func TestRun_InvalidConfiguration(t *testing.T) {
	var out bytes.Buffer
	err := run([]string{"--connector.provider", "bolt"}, strings.NewReader("{}"), &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
	assert.Empty(t, out.String())
}

func TestRun_BoltMutation(t *testing.T) {
	dir := t.TempDir()
	schemaFile := filepath.Join(dir, "schema.yaml")
	require.NoError(t, os.WriteFile(schemaFile, []byte(testutil.SchemaYAML), 0o600))

	args := []string{
		"--schema_file", schemaFile,
		"--connector.provider", "bolt",
		"--connector.path", filepath.Join(dir, "things.db"),
		"--observability.logging.level", "error",
	}
	var out bytes.Buffer
	err := run(args, strings.NewReader(`{"$entity": "Space", "$tempId": "home", "name": "Home"}`), &out)
	require.NoError(t, err)

	var results []adapter.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "create", results[0].Op)
	assert.Equal(t, "Space", results[0].Thing)
	assert.Equal(t, "home", results[0].TempID)
	assert.NotEmpty(t, results[0].ID)
}
