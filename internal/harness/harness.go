package harness

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/universe/internal/engine"
	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/journal"
	"github.com/roach88/universe/internal/schema"
	"github.com/roach88/universe/internal/table"
	"github.com/roach88/universe/internal/testutil"
)

// Option configures RunWith.
type Option func(*config)

type config struct {
	journal *journal.Store
	logger  *slog.Logger
}

// WithJournal also records the scenario's trace in st.
func WithJournal(st *journal.Store) Option {
	return func(c *config) { c.journal = st }
}

// WithLogger sets the universe's logger. By default logs are discarded.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) { c.logger = logger }
}

// Harness is the test execution engine for one scenario.
// It runs steps with a deterministic clock and sequential tokens.
type Harness struct {
	universe *engine.Universe
	schema   *schema.Schema
	recorder *testutil.Recorder
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh universe for isolation.
// Execution flow:
// 1. Load the schema and declare it on a new universe
// 2. Run every step as one kernel invocation
// 3. Check each step's error code against expect_error
// 4. Collect the trace and the final tables
// 5. Evaluate assertions
//
// The returned error reports a scenario that could not be run at all;
// failed steps and assertions are reported in the Result.
func Run(s *Scenario) (*Result, error) {
	return RunWith(context.Background(), s)
}

// RunWith is Run with options.
func RunWith(ctx context.Context, s *Scenario, opts ...Option) (*Result, error) {
	cfg := &config{logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(cfg)
	}

	sc, err := schema.LoadPath(s.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}

	rec := testutil.NewRecorder()
	var observer engine.Observer = rec
	if cfg.journal != nil {
		observer = engine.MultiObserver(rec, cfg.journal)
	}

	u := engine.New(
		engine.WithLogger(cfg.logger),
		engine.WithObserver(observer),
		engine.WithTokenGenerator(testutil.NewSequentialTokens(s.Token)),
		engine.WithClock(engine.NewClock()),
	)
	defer u.Close()

	if err := schema.Apply(u, sc); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	h := &Harness{universe: u, schema: sc, recorder: rec, logger: cfg.logger}
	result := NewResult()

	for _, step := range s.Steps {
		if err := h.runStep(ctx, step, result); err != nil {
			return nil, err
		}
	}

	result.Trace = h.trace()

	state, err := h.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.State = state

	actx := &AssertionContext{
		Ctx:      ctx,
		Universe: u,
		Schema:   sc,
	}
	for _, msg := range EvaluateAssertions(result, s.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// runStep runs one step and records a mismatch between its error code
// and the expected one.
func (h *Harness) runStep(ctx context.Context, step Step, result *Result) error {
	k, err := stepKernel(step)
	if err != nil {
		return fmt.Errorf("step %s: %w", step.Name, err)
	}

	runErr := h.universe.Run(ctx, k)
	code := string(engine.CodeOf(runErr))
	if runErr != nil && code == "" {
		code = "UNKNOWN"
	}

	switch {
	case step.ExpectError == "" && runErr != nil:
		result.AddError(fmt.Sprintf("step %s: unexpected error: %v", step.Name, runErr))
	case step.ExpectError != "" && runErr == nil:
		result.AddError(fmt.Sprintf("step %s: expected error %s, got success", step.Name, step.ExpectError))
	case step.ExpectError != "" && code != step.ExpectError:
		result.AddError(fmt.Sprintf("step %s: expected error %s, got %s: %v", step.Name, step.ExpectError, code, runErr))
	}

	h.logger.Info("step completed",
		"step", step.Name,
		"code", code)
	return nil
}

// stepKernel builds the kernel of one step. Parameters are sorted by
// table and column so the same step always declares the same kernel.
func stepKernel(step Step) (engine.Kernel, error) {
	pushes := make(map[string]bool)
	removes := make(map[string]bool)
	for _, p := range step.Push {
		pushes[p.Table] = true
	}
	for _, r := range step.Remove {
		removes[r.Table] = true
	}

	rows := make(map[string]*engine.RowsParam)
	for _, name := range slices.Sorted(maps.Keys(mergeKeys(pushes, removes))) {
		tn := ir.TableName(name)
		switch {
		case pushes[name] && removes[name]:
			rows[name] = engine.Rows(tn)
		case pushes[name]:
			rows[name] = engine.NewRows(tn)
		default:
			rows[name] = engine.TakeRows(tn)
		}
	}

	edits := make(map[ir.ColumnKey]*engine.AnyParam)
	for _, e := range step.Edit {
		for col := range e.Set {
			key := ir.ColumnKey{Table: ir.TableName(e.Table), Column: ir.ColumnName(col)}
			if _, ok := edits[key]; !ok {
				edits[key] = engine.EditAny(key.Table, key.Column)
			}
		}
	}

	var params []engine.Param
	for _, name := range slices.Sorted(maps.Keys(rows)) {
		params = append(params, rows[name])
	}
	editKeys := slices.SortedFunc(maps.Keys(edits), func(a, b ir.ColumnKey) int { return a.Compare(b) })
	for _, key := range editKeys {
		params = append(params, edits[key])
	}

	body := func(tx *engine.Tx) error {
		for _, p := range step.Push {
			rs := rows[p.Table].In(tx)
			for i, row := range p.Rows {
				if _, err := rs.Push(toRow(row)); err != nil {
					return fmt.Errorf("push %s[%d]: %w", p.Table, i, err)
				}
			}
		}
		for _, e := range step.Edit {
			for _, col := range slices.Sorted(maps.Keys(e.Set)) {
				key := ir.ColumnKey{Table: ir.TableName(e.Table), Column: ir.ColumnName(col)}
				if err := edits[key].In(tx).SetValue(ir.RowID(e.Row), e.Set[col]); err != nil {
					return fmt.Errorf("edit %s row %d: %w", key, e.Row, err)
				}
			}
		}
		for _, r := range step.Remove {
			ids := make([]ir.RowID, len(r.Rows))
			for i, id := range r.Rows {
				ids[i] = ir.RowID(id)
			}
			if err := rows[r.Table].In(tx).Remove(ids...); err != nil {
				return err
			}
		}
		return nil
	}

	if len(params) == 0 {
		return engine.Kernel{}, fmt.Errorf("step touches no table")
	}
	return engine.Kernel{Name: step.Name, Params: params, Body: body}, nil
}

func mergeKeys(a, b map[string]bool) map[string]bool {
	out := maps.Clone(a)
	maps.Copy(out, b)
	return out
}

func toRow(m map[string]any) table.Row {
	row := make(table.Row, len(m))
	for k, v := range m {
		row[ir.ColumnName(k)] = v
	}
	return row
}

// trace merges the recorded invocations, facts, firings and outcomes
// into one slice ordered by seq.
func (h *Harness) trace() []TraceEvent {
	var events []TraceEvent
	for _, inv := range h.recorder.Invocations() {
		events = append(events, TraceEvent{
			Type:     EventInvocation,
			Seq:      inv.Seq,
			Token:    inv.Token,
			Kernel:   inv.Kernel,
			Reaction: inv.Reaction,
			Depth:    inv.Depth,
		})
	}
	for _, f := range h.recorder.Facts() {
		events = append(events, TraceEvent{
			Type:   EventFact,
			Seq:    f.Seq,
			Token:  f.Invocation,
			Kind:   f.Kind,
			Table:  f.Table,
			Column: f.Column,
			Rows:   f.Rows,
			Moves:  f.Moves,
		})
	}
	for _, f := range h.recorder.Firings() {
		events = append(events, TraceEvent{
			Type:    EventFiring,
			Seq:     f.Seq,
			Token:   f.Invocation,
			Kernel:  f.Reaction,
			Depth:   f.Depth,
			FactSeq: f.FactSeq,
		})
	}
	for _, o := range h.recorder.Outcomes() {
		events = append(events, TraceEvent{
			Type:   EventOutcome,
			Seq:    o.Seq,
			Token:  o.Token,
			Status: o.Status,
			Code:   o.Code,
		})
	}
	slices.SortStableFunc(events, func(a, b TraceEvent) int { return cmp.Compare(a.Seq, b.Seq) })
	return events
}

// snapshot copies every row of every table in one read-only kernel.
func (h *Harness) snapshot(ctx context.Context) (map[string][]map[string]any, error) {
	tables := h.universe.Tables()
	params := make([]engine.Param, len(tables))
	readers := make([]*engine.RowsParam, len(tables))
	for i, name := range tables {
		readers[i] = engine.ReadRows(name)
		params[i] = readers[i]
	}

	state := make(map[string][]map[string]any, len(tables))
	err := h.universe.Run(ctx, engine.Kernel{
		Name:   "snapshot",
		Params: params,
		Body: func(tx *engine.Tx) error {
			for i, name := range tables {
				rs := readers[i].In(tx)
				rows := make([]map[string]any, 0, rs.Len())
				for id := range rs.IDs() {
					snap, _ := rs.Snapshot(id)
					row := make(map[string]any, len(snap))
					for col, v := range snap {
						row[string(col)] = v
					}
					rows = append(rows, row)
				}
				state[string(name)] = rows
			}
			return nil
		},
	})
	return state, err
}
