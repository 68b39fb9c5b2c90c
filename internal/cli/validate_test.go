package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const warehouseSchema = "../../testdata/schemas/warehouse.cue"

func writeSchema(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.cue")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidate_Valid(t *testing.T) {
	out, err := executeCommand(t, "validate", warehouseSchema)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Schema valid (2 tables)")
}

func TestValidate_ValidJSON(t *testing.T) {
	out, err := executeCommand(t, "--format", "json", "validate", warehouseSchema)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 2, resp.Data.Tables)
}

func TestValidate_UnknownRef(t *testing.T) {
	path := writeSchema(t, `table: items: columns: {
	location: {type: "ref", ref: "shelves"}
}
`)
	out, err := executeCommand(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, "E204")
}

func TestValidate_UnknownRefJSON(t *testing.T) {
	path := writeSchema(t, `table: items: columns: {
	location: {type: "ref", ref: "shelves"}
}
`)
	out, err := executeCommand(t, "--format", "json", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
		Error  CLIError         `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E204", resp.Error.Code)
	assert.False(t, resp.Data.Valid)
	require.NotEmpty(t, resp.Data.Errors)
}

func TestValidate_CompileError(t *testing.T) {
	path := writeSchema(t, "widgets: 1\n")
	out, err := executeCommand(t, "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeCompile)
	assert.Contains(t, out, "no table declarations")
}

func TestValidate_NotFound(t *testing.T) {
	out, err := executeCommand(t, "validate", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestLoadSchema_Codes(t *testing.T) {
	_, err := LoadSchema(filepath.Join(t.TempDir(), "missing.cue"))
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
	assert.Zero(t, loadErr.Line())

	_, err = LoadSchema(writeSchema(t, "widgets: 1\n"))
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, ErrCodeCompile, loadErr.Code)

	s, err := LoadSchema(warehouseSchema)
	require.NoError(t, err)
	assert.Len(t, s.Tables, 2)
}
