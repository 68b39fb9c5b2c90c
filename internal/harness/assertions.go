package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/universe/internal/engine"
	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/linkage"
	"github.com/roach88/universe/internal/schema"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, event := range e.Trace {
			switch event.Type {
			case EventInvocation:
				fmt.Fprintf(&buf, "  [%d] invoke %s depth=%d\n", event.Seq, event.Kernel, event.Depth)
			case EventFact:
				fmt.Fprintf(&buf, "  [%d] %s %s%s %v\n", event.Seq, event.Kind, event.Table, columnSuffix(event.Column), event.Rows)
			case EventFiring:
				fmt.Fprintf(&buf, "  [%d] fire %s on [%d]\n", event.Seq, event.Kernel, event.FactSeq)
			case EventOutcome:
				fmt.Fprintf(&buf, "  [%d] %s %s\n", event.Seq, event.Status, event.Code)
			}
		}
	}
	return buf.String()
}

func columnSuffix(c ir.ColumnName) string {
	if c == "" {
		return ""
	}
	return "." + string(c)
}

// assertTableLen checks the number of rows of a table.
func assertTableLen(state map[string][]map[string]any, a Assertion) error {
	rows, ok := state[a.Table]
	if !ok {
		return fmt.Errorf("table_len: unknown table %q", a.Table)
	}
	if len(rows) != a.Count {
		return &AssertionError{
			Type:     AssertTableLen,
			Expected: fmt.Sprintf("%s has %d rows", a.Table, a.Count),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

// assertCell checks the value of one column of one row.
func assertCell(state map[string][]map[string]any, a Assertion) error {
	rows, ok := state[a.Table]
	if !ok {
		return fmt.Errorf("cell: unknown table %q", a.Table)
	}
	if a.Row < 0 || a.Row >= len(rows) {
		return &AssertionError{
			Type:     AssertCell,
			Expected: fmt.Sprintf("%s row %d exists", a.Table, a.Row),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	got, ok := rows[a.Row][a.Column]
	if !ok {
		return fmt.Errorf("cell: unknown column %s.%s", a.Table, a.Column)
	}
	if !cellEqual(a.Value, got) {
		return &AssertionError{
			Type:     AssertCell,
			Expected: fmt.Sprintf("%s[%d].%s = %v", a.Table, a.Row, a.Column, a.Value),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// assertNoDangling checks that every reference of a ref column names a
// live row.
func assertNoDangling(actx *AssertionContext, a Assertion) error {
	var fk *linkage.ForeignKey
	for _, candidate := range actx.Schema.ForeignKeys() {
		if string(candidate.Local) == a.Table && string(candidate.Column) == a.Column {
			fk = &candidate
			break
		}
	}
	if fk == nil {
		return fmt.Errorf("no_dangling: %s.%s is not a ref column", a.Table, a.Column)
	}

	dangling, err := linkage.Dangling(actx.Ctx, actx.Universe, *fk)
	if err != nil {
		return fmt.Errorf("no_dangling: %w", err)
	}
	if len(dangling) > 0 {
		return &AssertionError{
			Type:     AssertNoDangling,
			Expected: fmt.Sprintf("every %s.%s names a live %s row", a.Table, a.Column, fk.Foreign),
			Actual:   fmt.Sprintf("dangling rows %v", dangling),
		}
	}
	return nil
}

// assertFactCount checks how many facts of one kind a table produced.
// A column narrows the count to edited facts of that column.
func assertFactCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, e := range trace {
		if e.Type != EventFact || string(e.Kind) != a.Kind || string(e.Table) != a.Table {
			continue
		}
		if a.Column != "" && string(e.Column) != a.Column {
			continue
		}
		count++
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertFactCount,
			Expected: fmt.Sprintf("%d %s facts on %s%s", a.Count, a.Kind, a.Table, columnSuffix(ir.ColumnName(a.Column))),
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

// cellEqual compares a scenario value with a stored one. Numbers compare
// by value whatever their Go type, since YAML decodes every integer as
// int while columns hold int64 or ir.RowID.
func cellEqual(expected, actual any) bool {
	en, eok := numeric(expected)
	an, aok := numeric(actual)
	if eok && aok {
		return en == an
	}
	return reflect.DeepEqual(expected, actual)
}

func numeric(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}

// AssertionContext provides the live universe for assertions that need
// to run kernels.
type AssertionContext struct {
	Ctx      context.Context
	Universe *engine.Universe
	Schema   *schema.Schema
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTableLen:
			err = assertTableLen(result.State, assertion)
		case AssertCell:
			err = assertCell(result.State, assertion)
		case AssertFactCount:
			err = assertFactCount(result.Trace, assertion)
		case AssertNoDangling:
			if actx == nil || actx.Universe == nil || actx.Schema == nil {
				err = fmt.Errorf("assertion[%d]: no_dangling requires a universe", i)
			} else {
				err = assertNoDangling(actx, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
