package ir

import (
	"fmt"
	"slices"
)

// FactKind classifies a change record.
type FactKind string

const (
	// FactPushed records rows appended to a table.
	FactPushed FactKind = "pushed"

	// FactEdited records rows of a tracked column that were written.
	FactEdited FactKind = "edited"

	// FactRemoved records rows removed from a table together with the
	// compaction moves the removal caused.
	FactRemoved FactKind = "removed"
)

// Valid reports whether k is one of the known fact kinds.
func (k FactKind) Valid() bool {
	switch k {
	case FactPushed, FactEdited, FactRemoved:
		return true
	}
	return false
}

// Move records a row relocated by swap-with-last compaction.
type Move struct {
	From RowID `json:"from"`
	To   RowID `json:"to"`
}

// RemovedRow is the last observed state of a removed row.
// ID is the row's id at the moment of removal (before compaction).
type RemovedRow struct {
	ID     RowID              `json:"id"`
	Values map[ColumnName]any `json:"values"`
}

// Fact is an immutable record of one change made by one kernel step.
//
// Row ids in a removed fact are pre-compaction ids; Moves map surviving
// rows from their old slot to their new one. Row ids in pushed and edited
// facts are post-compaction ids of the same step.
//
// Old holds, for edited facts, the value each row had before the step.
// New holds the current value (edited) or the row snapshot (pushed).
type Fact struct {
	Seq        int64        `json:"seq"`
	Kind       FactKind     `json:"kind"`
	Table      TableName    `json:"table"`
	Column     ColumnName   `json:"column,omitempty"`
	Rows       []RowID      `json:"rows"`
	Old        []any        `json:"-"`
	New        []any        `json:"-"`
	Removed    []RemovedRow `json:"-"`
	Moves      []Move       `json:"moves,omitempty"`
	Invocation string       `json:"invocation"`
	Digest     string       `json:"digest"`
}

// OldValue returns the value row held before the step that emitted an
// edited fact. ok is false when row is not part of the fact.
func (f *Fact) OldValue(row RowID) (any, bool) {
	i := slices.Index(f.Rows, row)
	if i < 0 || i >= len(f.Old) {
		return nil, false
	}
	return f.Old[i], true
}

// MovedTo translates a pre-removal row id through the fact's moves.
// Rows that did not move map to themselves.
func (f *Fact) MovedTo(row RowID) RowID {
	for _, m := range f.Moves {
		if m.From == row {
			return m.To
		}
	}
	return row
}

// WasRemoved reports whether row (a pre-compaction id) was removed.
func (f *Fact) WasRemoved(row RowID) bool {
	return slices.Contains(f.Rows, row) && f.Kind == FactRemoved
}

func (f *Fact) String() string {
	if f.Column != "" {
		return fmt.Sprintf("%s %s.%s %v", f.Kind, f.Table, f.Column, f.Rows)
	}
	return fmt.Sprintf("%s %s %v", f.Kind, f.Table, f.Rows)
}

// Structure returns the canonical-JSON-ready shape of the fact used for
// digests and golden traces. Values are rendered with %v because column
// types are arbitrary Go types.
func (f *Fact) Structure() map[string]any {
	rows := make([]any, len(f.Rows))
	for i, r := range f.Rows {
		rows[i] = int64(r)
	}
	out := map[string]any{
		"kind":  string(f.Kind),
		"table": string(f.Table),
		"rows":  rows,
	}
	if f.Column != "" {
		out["column"] = string(f.Column)
	}
	if len(f.Old) > 0 {
		old := make([]any, len(f.Old))
		for i, v := range f.Old {
			old[i] = fmt.Sprint(v)
		}
		out["old"] = old
	}
	if len(f.New) > 0 {
		vals := make([]any, len(f.New))
		for i, v := range f.New {
			vals[i] = fmt.Sprint(v)
		}
		out["new"] = vals
	}
	if len(f.Removed) > 0 {
		removed := make([]any, len(f.Removed))
		for i, r := range f.Removed {
			removed[i] = fmt.Sprint(r.Values)
		}
		out["removed"] = removed
	}
	if len(f.Moves) > 0 {
		moves := make([]any, len(f.Moves))
		for i, m := range f.Moves {
			moves[i] = map[string]any{"from": int64(m.From), "to": int64(m.To)}
		}
		out["moves"] = moves
	}
	return out
}

// Invocation records one kernel execution. Reactions run inside a
// top-level invocation share its Token and carry the reaction flag.
type Invocation struct {
	Token    string `json:"token"`
	Kernel   string `json:"kernel"`
	Seq      int64  `json:"seq"`
	Reaction bool   `json:"reaction"`
	Depth    int    `json:"depth"`
}

// Firing records that a reaction ran because of a fact.
type Firing struct {
	FactSeq    int64  `json:"fact_seq"`
	Reaction   string `json:"reaction"`
	Invocation string `json:"invocation"`
	Depth      int    `json:"depth"`
	Seq        int64  `json:"seq"`
}

// Outcome is the final status of a top-level invocation.
type Outcome struct {
	Token   string `json:"token"`
	Seq     int64  `json:"seq"`
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// Outcome statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)
