package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/universe/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Token        string       `json:"token,omitempty"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical JSON serialization.
// This is required because ir.MarshalCanonical only handles IR types and primitives.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, event := range s.Trace {
		m := map[string]any{
			"type":  event.Type,
			"seq":   event.Seq,
			"token": event.Token,
		}
		switch event.Type {
		case EventInvocation:
			m["kernel"] = event.Kernel
			m["reaction"] = event.Reaction
			m["depth"] = event.Depth
		case EventFact:
			m["kind"] = string(event.Kind)
			m["table"] = string(event.Table)
			m["rows"] = rowList(event.Rows)
			if event.Column != "" {
				m["column"] = string(event.Column)
			}
			if len(event.Moves) > 0 {
				moves := make([]any, len(event.Moves))
				for j, mv := range event.Moves {
					moves[j] = map[string]any{"from": mv.From, "to": mv.To}
				}
				m["moves"] = moves
			}
		case EventFiring:
			m["kernel"] = event.Kernel
			m["depth"] = event.Depth
			m["fact_seq"] = event.FactSeq
		case EventOutcome:
			m["status"] = event.Status
			if event.Code != "" {
				m["code"] = event.Code
			}
		}
		traceList[i] = m
	}

	result := map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
	if s.Token != "" {
		result["token"] = s.Token
	}
	return result
}

func rowList(rows []ir.RowID) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r
	}
	return out
}

// MarshalTrace renders a trace as canonical JSON.
func MarshalTrace(scenarioName, token string, trace []TraceEvent) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: scenarioName,
		Token:        token,
		Trace:        trace,
	}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can inspect state and assertion
// failures. Test failure (via goldie) occurs if the trace doesn't match
// the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	traceJSON, err := MarshalTrace(scenario.Name, scenario.Token, result.Trace)
	if err != nil {
		return nil, err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenario.Name, traceJSON)

	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, "", result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)

	return nil
}
