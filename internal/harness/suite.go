package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// SuiteResult summarizes a run over a directory of scenarios.
type SuiteResult struct {
	Total    int
	Passed   int
	Failed   int
	Failures []ScenarioFailure
}

// ScenarioFailure describes one scenario that did not pass.
type ScenarioFailure struct {
	Path  string
	Name  string
	Error string
}

// OK reports whether every scenario passed.
func (r *SuiteResult) OK() bool {
	return r.Failed == 0
}

// FindScenarios returns the scenario files of dir, sorted. A path naming
// a single file is returned as is.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenarios: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(path, pattern))
		if err != nil {
			return nil, fmt.Errorf("scenarios: %w", err)
		}
		files = append(files, matches...)
	}
	slices.Sort(files)
	return files, nil
}

// RunSuite loads and runs every scenario under path. A scenario that
// fails to load or run counts as failed; RunSuite itself only fails when
// path cannot be listed.
func RunSuite(ctx context.Context, path string, opts ...Option) (*SuiteResult, error) {
	files, err := FindScenarios(path)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	for _, file := range files {
		result.Total++

		scenario, err := LoadScenario(file)
		if err != nil {
			result.fail(file, "", fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := RunWith(ctx, scenario, opts...)
		if err != nil {
			result.fail(file, scenario.Name, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if !runResult.Pass {
			result.fail(file, scenario.Name, fmt.Sprintf("scenario assertions failed: %v", runResult.Errors))
			continue
		}
		result.Passed++
	}
	return result, nil
}

func (r *SuiteResult) fail(path, name, msg string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Path: path, Name: name, Error: msg})
}
