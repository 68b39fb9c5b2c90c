package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalScenario = `
name: minimal
description: "one push"
schema: warehouse.cue
steps:
  - name: stock
    push:
      - table: containers
        rows: [{id: 1, label: a}]
assertions:
  - {type: table_len, table: containers, count: 1}
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(minimalScenario))
	require.NoError(t, err)

	assert.Equal(t, "minimal", s.Name)
	assert.Equal(t, "warehouse.cue", s.Schema)
	require.Len(t, s.Steps, 1)
	require.Len(t, s.Steps[0].Push, 1)
	assert.Equal(t, "containers", s.Steps[0].Push[0].Table)
	assert.Equal(t, map[string]any{"id": 1, "label": "a"}, s.Steps[0].Push[0].Rows[0])
	require.Len(t, s.Assertions, 1)
	assert.Equal(t, AssertTableLen, s.Assertions[0].Type)
}

func TestLoadScenarioResolvesSchemaPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimalScenario), 0o644))

	s, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "warehouse.cue"), s.Schema)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestParseScenarioRejectsUnknownFields(t *testing.T) {
	_, err := ParseScenario([]byte(minimalScenario + "assertion: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenarioValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "description: d\nschema: s.cue\nsteps: [{name: a, remove: [{table: t, rows: [0]}]}]\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			yaml:    "name: n\nschema: s.cue\nsteps: [{name: a, remove: [{table: t, rows: [0]}]}]\n",
			wantErr: "description is required",
		},
		{
			name:    "missing schema",
			yaml:    "name: n\ndescription: d\nsteps: [{name: a, remove: [{table: t, rows: [0]}]}]\n",
			wantErr: "schema is required",
		},
		{
			name:    "no steps",
			yaml:    "name: n\ndescription: d\nschema: s.cue\nsteps: []\n",
			wantErr: "steps list is required",
		},
		{
			name:    "empty step",
			yaml:    "name: n\ndescription: d\nschema: s.cue\nsteps: [{name: a}]\n",
			wantErr: "needs at least one push, edit or remove",
		},
		{
			name:    "negative row",
			yaml:    "name: n\ndescription: d\nschema: s.cue\nsteps: [{name: a, remove: [{table: t, rows: [-1]}]}]\n",
			wantErr: "negative row",
		},
		{
			name:    "edit without set",
			yaml:    "name: n\ndescription: d\nschema: s.cue\nsteps: [{name: a, edit: [{table: t, row: 0}]}]\n",
			wantErr: "table and set are required",
		},
		{
			name: "unknown assertion",
			yaml: "name: n\ndescription: d\nschema: s.cue\nsteps: [{name: a, remove: [{table: t, rows: [0]}]}]\n" +
				"assertions: [{type: trace_order}]\n",
			wantErr: `unknown assertion type "trace_order"`,
		},
		{
			name: "cell without value",
			yaml: "name: n\ndescription: d\nschema: s.cue\nsteps: [{name: a, remove: [{table: t, rows: [0]}]}]\n" +
				"assertions: [{type: cell, table: t, column: c}]\n",
			wantErr: "cell requires value",
		},
		{
			name: "bad fact kind",
			yaml: "name: n\ndescription: d\nschema: s.cue\nsteps: [{name: a, remove: [{table: t, rows: [0]}]}]\n" +
				"assertions: [{type: fact_count, table: t, kind: moved}]\n",
			wantErr: `unknown kind "moved"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
