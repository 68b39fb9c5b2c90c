package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/universe/internal/engine"
	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/lock"
)

// StressOptions holds flags for the stress command.
type StressOptions struct {
	*RootOptions
	Workers int
	Kernels int
	Tables  int
	Width   int
	Timeout time.Duration
	Seed    uint64
}

// StressResult reports a stress run.
type StressResult struct {
	Seed       uint64       `json:"seed"`
	Kernels    int          `json:"kernels"`
	Succeeded  int          `json:"succeeded"`
	Failed     int          `json:"failed"`
	Elapsed    string       `json:"elapsed"`
	LockWaits  uint64       `json:"lock_waits"`
	LockWaited float64      `json:"lock_waited_seconds"`
	Mismatches []Mismatch   `json:"mismatches,omitempty"`
	Deadlock   bool         `json:"deadlock"`
	Locks      []lock.State `json:"locks,omitempty"`
}

// Mismatch is a counter whose final value differs from the number of
// successful increments.
type Mismatch struct {
	Table    string `json:"table"`
	Expected int64  `json:"expected"`
	Actual   int64  `json:"actual"`
}

const stressColumn ir.ColumnName = "n"

// NewStressCommand creates the stress command.
func NewStressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StressOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run overlapping kernels concurrently",
		Long: `Run many kernels with overlapping, randomly ordered lock sets on a
pool of workers, then check that no increment was lost.

Every table holds one counter row. Each kernel reads some tables and
increments the counters of others, declaring its parameters in random
order. A run that does not finish within --timeout is reported as a
deadlock together with the lock table.

Exit codes:
  0 - Every counter matches
  1 - Lost update or deadlock
  2 - Command error

Examples:
  universe stress
  universe stress --workers 16 --kernels 10000 --tables 8 --seed 42`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Workers, "workers", 8, "concurrent workers")
	cmd.Flags().IntVar(&opts.Kernels, "kernels", 1000, "kernels to run")
	cmd.Flags().IntVar(&opts.Tables, "tables", 6, "tables to contend on")
	cmd.Flags().IntVar(&opts.Width, "width", 3, "maximum tables per kernel")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 30*time.Second, "deadline for the whole run")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "random seed")

	return cmd
}

func runStress(opts *StressOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.Workers < 1 || opts.Kernels < 1 || opts.Tables < 1 || opts.Width < 1 {
		return formatter.fail(ExitCommandError, ErrCodeStressSetup, "workers, kernels, tables and width must be positive", nil)
	}

	reg := prometheus.NewRegistry()
	u := engine.New(
		engine.WithLogger(slog.Default()),
		engine.WithMetrics(engine.NewMetrics(reg)),
		engine.WithLockTimeout(opts.Timeout),
	)
	defer u.Close()

	tables, err := setupStress(cmd.Context(), u, opts.Tables)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeStressSetup, "failed to build universe", err)
	}

	s := &stressRun{
		u:        u,
		tables:   tables,
		rng:      rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		expected: make(map[ir.TableName]int64, len(tables)),
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	// The lock table is captured when the deadline hits, before blocked
	// kernels give up and release what they hold.
	var (
		snapMu   sync.Mutex
		snapshot []lock.State
	)
	stop := context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			snapMu.Lock()
			snapshot = u.Locks().Snapshot()
			snapMu.Unlock()
		}
	})
	defer stop()

	start := time.Now()
	pool := u.NewPool(opts.Workers)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		defer pool.Close()
		for i := range opts.Kernels {
			k, increments := s.kernel(i, opts.Width)
			if err := pool.Submit(k, s.done(increments)); err != nil {
				return err
			}
		}
		return nil
	})
	runErr := g.Wait()
	elapsed := time.Since(start)

	result := StressResult{
		Seed:      opts.Seed,
		Kernels:   opts.Kernels,
		Succeeded: s.succeeded,
		Failed:    s.failed,
		Elapsed:   elapsed.String(),
	}
	result.LockWaits, result.LockWaited = lockWaits(reg)

	if errors.Is(runErr, context.DeadlineExceeded) {
		result.Deadlock = true
		snapMu.Lock()
		result.Locks = snapshot
		snapMu.Unlock()
	} else if runErr != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "stress run failed", runErr)
	} else {
		actual, err := readCounters(context.Background(), u, tables)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to read counters", err)
		}
		for _, t := range tables {
			if actual[t] != s.expected[t] {
				result.Mismatches = append(result.Mismatches, Mismatch{Table: string(t), Expected: s.expected[t], Actual: actual[t]})
			}
		}
	}

	return outputStressResult(formatter, result)
}

// stressRun holds the kernel generator and the expected counters.
type stressRun struct {
	u      *engine.Universe
	tables []ir.TableName
	rng    *rand.Rand

	mu        sync.Mutex
	expected  map[ir.TableName]int64
	succeeded int
	failed    int
}

// kernel builds the i-th kernel: a random set of up to width tables,
// each read or incremented, declared in random order.
func (s *stressRun) kernel(i, width int) (engine.Kernel, []ir.TableName) {
	n := 1 + s.rng.IntN(min(width, len(s.tables)))
	picked := s.rng.Perm(len(s.tables))[:n]

	var params []engine.Param
	var edits []*engine.EditParam[int64]
	var increments []ir.TableName
	for _, idx := range picked {
		t := s.tables[idx]
		if s.rng.IntN(3) == 0 {
			params = append(params, engine.Read[int64](t, stressColumn))
			continue
		}
		e := engine.Edit[int64](t, stressColumn)
		params = append(params, e)
		edits = append(edits, e)
		increments = append(increments, t)
	}

	return engine.Kernel{
		Name:   fmt.Sprintf("stress-%d", i),
		Params: params,
		Body: func(tx *engine.Tx) error {
			for _, e := range edits {
				e.In(tx).Update(0, func(v *int64) { *v++ })
			}
			return nil
		},
	}, increments
}

// done counts the outcome of one kernel. Increments only count when the
// kernel committed.
func (s *stressRun) done(increments []ir.TableName) func(error) {
	return func(err error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.failed++
			slog.Debug("stress kernel failed", "code", engine.CodeOf(err), "error", err)
			return
		}
		s.succeeded++
		for _, t := range increments {
			s.expected[t]++
		}
	}
}

func setupStress(ctx context.Context, u *engine.Universe, n int) ([]ir.TableName, error) {
	tables := make([]ir.TableName, n)
	params := make([]engine.Param, n)
	rows := make([]*engine.RowsParam, n)
	for i := range n {
		tables[i] = ir.TableName(fmt.Sprintf("t%02d", i))
		if err := u.DeclareTable(tables[i]); err != nil {
			return nil, err
		}
		if err := engine.DeclareColumn[int64](u, tables[i], stressColumn); err != nil {
			return nil, err
		}
		rows[i] = engine.NewRows(tables[i])
		params[i] = rows[i]
	}

	err := u.Run(ctx, engine.Kernel{
		Name:   "stress-setup",
		Params: params,
		Body: func(tx *engine.Tx) error {
			for _, r := range rows {
				if _, err := r.In(tx).Push(nil); err != nil {
					return err
				}
			}
			return nil
		},
	})
	return tables, err
}

func readCounters(ctx context.Context, u *engine.Universe, tables []ir.TableName) (map[ir.TableName]int64, error) {
	readers := make([]*engine.ReadParam[int64], len(tables))
	params := make([]engine.Param, len(tables))
	for i, t := range tables {
		readers[i] = engine.Read[int64](t, stressColumn)
		params[i] = readers[i]
	}

	out := make(map[ir.TableName]int64, len(tables))
	err := u.Run(ctx, engine.Kernel{
		Name:   "stress-read",
		Params: params,
		Body: func(tx *engine.Tx) error {
			for i, r := range readers {
				out[tables[i]] = r.In(tx).At(0)
			}
			return nil
		},
	})
	return out, err
}

// lockWaits reads the lock wait histogram from reg.
func lockWaits(reg *prometheus.Registry) (uint64, float64) {
	families, err := reg.Gather()
	if err != nil {
		return 0, 0
	}
	for _, mf := range families {
		if mf.GetName() != "universe_lock_wait_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			h := m.GetHistogram()
			return h.GetSampleCount(), h.GetSampleSum()
		}
	}
	return 0, 0
}

func outputStressResult(formatter *OutputFormatter, result StressResult) error {
	var failure error
	switch {
	case result.Deadlock:
		failure = NewExitError(ExitFailure, "stress run did not finish: possible deadlock")
	case len(result.Mismatches) > 0:
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d counter(s) lost updates", len(result.Mismatches)))
	}

	if formatter.JSON() {
		if failure != nil {
			if err := formatter.Failure(ErrCodeGeneric, failure.Error(), result); err != nil {
				return err
			}
			return failure
		}
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Seed:      %d\n", result.Seed)
	fmt.Fprintf(w, "Kernels:   %d (%d ok, %d failed)\n", result.Kernels, result.Succeeded, result.Failed)
	fmt.Fprintf(w, "Elapsed:   %s\n", result.Elapsed)
	fmt.Fprintf(w, "Lock waits: %d (%.6fs)\n", result.LockWaits, result.LockWaited)

	if result.Deadlock {
		fmt.Fprintln(w, "✗ Deadline exceeded; held locks:")
		for _, st := range result.Locks {
			fmt.Fprintf(w, "  %s writer=%q readers=%v waiting=%d\n", st.Key, st.Writer, st.Readers, st.WaitingWriters)
		}
		return failure
	}
	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "✗ %s: expected %d, got %d\n", m.Table, m.Expected, m.Actual)
	}
	if failure == nil {
		fmt.Fprintln(w, "✓ No lost updates")
	}
	return failure
}
