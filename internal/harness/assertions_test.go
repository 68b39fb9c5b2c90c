package harness

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/universe/internal/ir"
)

func stateResult() *Result {
	r := NewResult()
	r.State["items"] = []map[string]any{
		{"id": int64(10), "qty": int64(3), "location": ir.RowID(0)},
		{"id": int64(11), "qty": int64(5), "location": ir.RowID(1)},
	}
	r.Trace = []TraceEvent{
		{Type: EventInvocation, Seq: 1, Kernel: "stock"},
		{Type: EventFact, Seq: 2, Kind: ir.FactPushed, Table: "items", Rows: []ir.RowID{0, 1}},
		{Type: EventFact, Seq: 3, Kind: ir.FactEdited, Table: "items", Column: "qty", Rows: []ir.RowID{1}},
		{Type: EventOutcome, Seq: 4, Status: ir.StatusOK},
	}
	return r
}

func TestAssertTableLen(t *testing.T) {
	r := stateResult()

	assert.NoError(t, assertTableLen(r.State, Assertion{Type: AssertTableLen, Table: "items", Count: 2}))

	err := assertTableLen(r.State, Assertion{Type: AssertTableLen, Table: "items", Count: 3})
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "2 rows", ae.Actual)

	err = assertTableLen(r.State, Assertion{Type: AssertTableLen, Table: "pallets"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown table")
}

func TestAssertCell(t *testing.T) {
	r := stateResult()

	tests := []struct {
		name    string
		a       Assertion
		wantErr string
	}{
		{name: "int matches int64", a: Assertion{Table: "items", Row: 1, Column: "qty", Value: 5}},
		{name: "int matches row id", a: Assertion{Table: "items", Row: 1, Column: "location", Value: 1}},
		{name: "mismatch", a: Assertion{Table: "items", Row: 0, Column: "qty", Value: 4}, wantErr: "items[0].qty = 4"},
		{name: "row out of range", a: Assertion{Table: "items", Row: 2, Column: "qty", Value: 1}, wantErr: "row 2 exists"},
		{name: "unknown column", a: Assertion{Table: "items", Row: 0, Column: "colour", Value: 1}, wantErr: "unknown column"},
		{name: "string vs number", a: Assertion{Table: "items", Row: 0, Column: "qty", Value: "3"}, wantErr: "Expected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.a.Type = AssertCell
			err := assertCell(r.State, tt.a)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAssertFactCount(t *testing.T) {
	r := stateResult()

	assert.NoError(t, assertFactCount(r.Trace, Assertion{Kind: "pushed", Table: "items", Count: 1}))
	assert.NoError(t, assertFactCount(r.Trace, Assertion{Kind: "edited", Table: "items", Column: "qty", Count: 1}))
	assert.NoError(t, assertFactCount(r.Trace, Assertion{Kind: "edited", Table: "items", Column: "id", Count: 0}))
	assert.NoError(t, assertFactCount(r.Trace, Assertion{Kind: "removed", Table: "items", Count: 0}))

	err := assertFactCount(r.Trace, Assertion{Type: AssertFactCount, Kind: "pushed", Table: "items", Count: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Full trace")
	assert.Contains(t, err.Error(), "edited items.qty [row(1)]")
}

func TestCellEqual(t *testing.T) {
	assert.True(t, cellEqual(3, int64(3)))
	assert.True(t, cellEqual(0, ir.RowID(0)))
	assert.True(t, cellEqual(1.5, 1.5))
	assert.True(t, cellEqual(2, float64(2)))
	assert.True(t, cellEqual("a", "a"))
	assert.True(t, cellEqual(true, true))
	assert.False(t, cellEqual(true, int64(1)))
	assert.False(t, cellEqual("1", int64(1)))
}

func TestEvaluateAssertionsCollectsFailures(t *testing.T) {
	r := stateResult()
	errs := EvaluateAssertions(r, []Assertion{
		{Type: AssertTableLen, Table: "items", Count: 2},
		{Type: AssertTableLen, Table: "items", Count: 9},
		{Type: AssertNoDangling, Table: "items", Column: "location"},
		{Type: "trace_order"},
	}, nil)

	require.Len(t, errs, 3)
	assert.Contains(t, errs[0], "Assertion failed: table_len")
	assert.Contains(t, errs[1], "no_dangling requires a universe")
	assert.Contains(t, errs[2], `unknown assertion type "trace_order"`)
}

func TestAssertNoDanglingNotARef(t *testing.T) {
	s := &Scenario{
		Name:        "not_ref",
		Description: "no_dangling on a scalar column",
		Schema:      warehouseSchema(t),
		Steps:       []Step{stockStep()},
		Assertions: []Assertion{
			{Type: AssertNoDangling, Table: "items", Column: "qty"},
			{Type: AssertNoDangling, Table: "items", Column: "location"},
		},
	}

	result, err := RunWith(context.Background(), s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "items.qty is not a ref column")
}
