package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioDir = "../../testdata/scenarios"

func TestRun_Directory(t *testing.T) {
	out, err := executeCommand(t, "run", scenarioDir)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ cascade_remove")
	assert.Contains(t, out, "✓ remove_missing_row")
	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
}

func TestRun_JSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "run", filepath.Join(scenarioDir, "cascade_remove.yaml"))
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	sr := resp.Data.Scenarios[0]
	assert.Equal(t, "cascade_remove", sr.Name)
	assert.True(t, sr.Pass)
	assert.Equal(t, 13, sr.Events)
}

func TestRun_FailingScenario(t *testing.T) {
	dir := t.TempDir()
	schemaPath, err := filepath.Abs(warehouseSchema)
	require.NoError(t, err)
	content := `name: wrong_count
description: asserts a length the run does not produce
schema: ` + schemaPath + `
steps:
  - name: stock
    push:
      - table: containers
        rows:
          - {id: 1, label: a}
assertions:
  - type: table_len
    table: containers
    count: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "wrong.yaml"), []byte(content), 0o644))

	out, err := executeCommand(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ wrong_count")
	assert.Contains(t, out, "0 passed, 1 failed, 1 total")
}

func TestRun_InvalidScenarioFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: [unclosed\n"), 0o644))

	out, err := executeCommand(t, "run", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1 failed")
}

func TestRun_EmptyDirectory(t *testing.T) {
	_, err := executeCommand(t, "run", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRun_MissingPath(t *testing.T) {
	_, err := executeCommand(t, "run", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
