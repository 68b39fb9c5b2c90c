package harness

import "github.com/roach88/universe/internal/ir"

// Trace event types.
const (
	EventInvocation = "invocation"
	EventFact       = "fact"
	EventFiring     = "firing"
	EventOutcome    = "outcome"
)

// TraceEvent is one record of the universe's trace, flattened so every
// kind of record fits one slice ordered by seq.
type TraceEvent struct {
	Type  string `json:"type"`
	Seq   int64  `json:"seq"`
	Token string `json:"token"`

	// Kernel is the kernel of an invocation or the reaction of a firing.
	Kernel   string `json:"kernel,omitempty"`
	Reaction bool   `json:"reaction,omitempty"`
	Depth    int    `json:"depth,omitempty"`

	Kind   ir.FactKind   `json:"kind,omitempty"`
	Table  ir.TableName  `json:"table,omitempty"`
	Column ir.ColumnName `json:"column,omitempty"`
	Rows   []ir.RowID    `json:"rows,omitempty"`
	Moves  []ir.Move     `json:"moves,omitempty"`

	FactSeq int64 `json:"fact_seq,omitempty"`

	Status string `json:"status,omitempty"`
	Code   string `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step behaved as expected and every
	// assertion held.
	Pass bool `json:"pass"`

	// Trace holds every record of the run, ordered by seq.
	Trace []TraceEvent `json:"trace"`

	// Errors contains failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// State holds the final rows of every table, keyed by table name.
	State map[string][]map[string]any `json:"state,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
		State:  make(map[string][]map[string]any),
	}
}

// AddError adds a failure message and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Count returns the number of trace events of type typ.
func (r *Result) Count(typ string) int {
	n := 0
	for _, e := range r.Trace {
		if e.Type == typ {
			n++
		}
	}
	return n
}
