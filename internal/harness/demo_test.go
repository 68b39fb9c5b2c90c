package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDemoScenarios runs the scenarios shipped in testdata/scenarios at
// the project root.
func TestDemoScenarios(t *testing.T) {
	tests := []struct {
		name         string
		scenarioPath string
		golden       bool
	}{
		{
			name:         "cascade_remove",
			scenarioPath: "../../testdata/scenarios/cascade_remove.yaml",
			golden:       true,
		},
		{
			name:         "remove_missing_row",
			scenarioPath: "../../testdata/scenarios/remove_missing_row.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario, err := LoadScenario(tt.scenarioPath)
			require.NoError(t, err)
			assert.Equal(t, tt.name, scenario.Name)

			var result *Result
			if tt.golden {
				result, err = RunWithGolden(t, scenario)
			} else {
				result, err = Run(scenario)
			}
			require.NoError(t, err)
			assert.True(t, result.Pass, "scenario failed: %v", result.Errors)
		})
	}
}

func TestRunSuite(t *testing.T) {
	result, err := RunSuite(context.Background(), "../../testdata/scenarios")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	assert.True(t, result.OK(), "failures: %v", result.Failures)
}

func TestRunSuiteCountsLoadFailures(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")
	writeFile(t, dir, "notes.txt", "ignored")

	result, err := RunSuite(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
}

func TestFindScenariosSingleFile(t *testing.T) {
	files, err := FindScenarios("../../testdata/scenarios/cascade_remove.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"../../testdata/scenarios/cascade_remove.yaml"}, files)
}
