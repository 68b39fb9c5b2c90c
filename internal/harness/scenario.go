package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario is one end-to-end test of a schema: a sequence of kernel
// steps against a fresh universe, followed by assertions on the trace and
// the final tables.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Schema is the CUE file or package directory declaring the tables.
	// Relative paths are resolved against the scenario file's directory.
	Schema string `yaml:"schema"`

	// Token is the prefix of the sequential invocation tokens.
	Token string `yaml:"token,omitempty"`

	// Steps run in order, one kernel invocation each.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one kernel invocation.
type Step struct {
	Name   string     `yaml:"name"`
	Push   []PushOp   `yaml:"push,omitempty"`
	Edit   []EditOp   `yaml:"edit,omitempty"`
	Remove []RemoveOp `yaml:"remove,omitempty"`

	// ExpectError is the error code the step must fail with. Empty means
	// the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// PushOp appends rows to a table.
type PushOp struct {
	Table string           `yaml:"table"`
	Rows  []map[string]any `yaml:"rows"`
}

// EditOp writes columns of one row.
type EditOp struct {
	Table string         `yaml:"table"`
	Row   int            `yaml:"row"`
	Set   map[string]any `yaml:"set"`
}

// RemoveOp removes rows from a table.
type RemoveOp struct {
	Table string `yaml:"table"`
	Rows  []int  `yaml:"rows"`
}

// Assertion validates the trace or the final state.
type Assertion struct {
	// Type is one of table_len, cell, no_dangling or fact_count.
	Type string `yaml:"type"`

	Table  string `yaml:"table,omitempty"`
	Column string `yaml:"column,omitempty"`
	Row    int    `yaml:"row,omitempty"`
	Value  any    `yaml:"value,omitempty"`
	Count  int    `yaml:"count,omitempty"`

	// Kind is the fact kind counted by fact_count.
	Kind string `yaml:"kind,omitempty"`
}

// Assertion type constants.
const (
	AssertTableLen   = "table_len"
	AssertCell       = "cell"
	AssertNoDangling = "no_dangling"
	AssertFactCount  = "fact_count"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
// The schema path is resolved against the directory of path.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	s, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	if s.Schema != "" && !filepath.IsAbs(s.Schema) {
		s.Schema = filepath.Join(filepath.Dir(path), s.Schema)
	}
	return s, nil
}

// ParseScenario parses scenario YAML. Relative schema paths are left as
// they are.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if step.Name == "" {
			return fmt.Errorf("step %d: name is required", i)
		}
		if len(step.Push)+len(step.Edit)+len(step.Remove) == 0 {
			return fmt.Errorf("step %s: needs at least one push, edit or remove", step.Name)
		}
		for _, p := range step.Push {
			if p.Table == "" {
				return fmt.Errorf("step %s: push: table is required", step.Name)
			}
		}
		for _, e := range step.Edit {
			if e.Table == "" || len(e.Set) == 0 {
				return fmt.Errorf("step %s: edit: table and set are required", step.Name)
			}
			if e.Row < 0 {
				return fmt.Errorf("step %s: edit: negative row %d", step.Name, e.Row)
			}
		}
		for _, r := range step.Remove {
			if r.Table == "" {
				return fmt.Errorf("step %s: remove: table is required", step.Name)
			}
			for _, id := range r.Rows {
				if id < 0 {
					return fmt.Errorf("step %s: remove: negative row %d", step.Name, id)
				}
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTableLen:
		if a.Table == "" {
			return fmt.Errorf("table_len requires table")
		}
	case AssertCell:
		if a.Table == "" || a.Column == "" {
			return fmt.Errorf("cell requires table and column")
		}
		if a.Value == nil {
			return fmt.Errorf("cell requires value")
		}
	case AssertNoDangling:
		if a.Table == "" || a.Column == "" {
			return fmt.Errorf("no_dangling requires table and column")
		}
	case AssertFactCount:
		if a.Table == "" || a.Kind == "" {
			return fmt.Errorf("fact_count requires table and kind")
		}
		switch a.Kind {
		case "pushed", "edited", "removed":
		default:
			return fmt.Errorf("fact_count: unknown kind %q", a.Kind)
		}
	case "":
		return fmt.Errorf("type is required")
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
