package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/universe/internal/ir"
)

func TestMarshalTrace(t *testing.T) {
	trace := []TraceEvent{
		{Type: EventInvocation, Seq: 1, Token: "t-0001", Kernel: "clear"},
		{Type: EventFact, Seq: 2, Token: "t-0001", Kind: ir.FactRemoved, Table: "containers",
			Rows: []ir.RowID{0}, Moves: []ir.Move{{From: 1, To: 0}}},
		{Type: EventFiring, Seq: 3, Token: "t-0001", Kernel: "fk", Depth: 1, FactSeq: 2},
		{Type: EventOutcome, Seq: 4, Token: "t-0001", Status: ir.StatusFailed, Code: "PROPAGATION_FAILED"},
	}

	got, err := MarshalTrace("demo", "t", trace)
	require.NoError(t, err)

	want := `{"scenario_name":"demo","token":"t","trace":[` +
		`{"depth":0,"kernel":"clear","reaction":false,"seq":1,"token":"t-0001","type":"invocation"},` +
		`{"kind":"removed","moves":[{"from":1,"to":0}],"rows":[0],"seq":2,"table":"containers","token":"t-0001","type":"fact"},` +
		`{"depth":1,"fact_seq":2,"kernel":"fk","seq":3,"token":"t-0001","type":"firing"},` +
		`{"code":"PROPAGATION_FAILED","seq":4,"status":"failed","token":"t-0001","type":"outcome"}]}`
	assert.Equal(t, want, string(got))
}

func TestMarshalTraceOmitsEmptyToken(t *testing.T) {
	got, err := MarshalTrace("empty", "", nil)
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"empty","trace":[]}`, string(got))
}

func TestMarshalTraceDeterministic(t *testing.T) {
	s := &Scenario{
		Name:        "deterministic",
		Description: "same scenario, same bytes",
		Schema:      warehouseSchema(t),
		Steps: []Step{
			stockStep(),
			{Name: "clear", Remove: []RemoveOp{{Table: "containers", Rows: []int{0}}}},
		},
	}

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	a, err := MarshalTrace(s.Name, s.Token, first.Trace)
	require.NoError(t, err)
	b, err := MarshalTrace(s.Name, s.Token, second.Trace)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
