package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/universe/internal/harness"
	"github.com/roach88/universe/internal/journal"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database string
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	Path   string   `json:"path"`
	Pass   bool     `json:"pass"`
	Events int      `json:"events"`
	Errors []string `json:"errors,omitempty"`
}

// RunResult holds the overall result of a run.
type RunResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml|dir>",
		Short: "Run scenarios against a live universe",
		Long: `Run YAML scenarios against a fresh universe each.

Every step of a scenario runs as one kernel invocation; reactions such
as foreign key cascades run inside it. With --db the invocations, facts,
reaction firings and outcomes are journaled to SQLite for later
inspection with "universe trace".

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, database not found, etc.)

Examples:
  universe run ./testdata/scenarios/cascade_remove.yaml
  universe run ./testdata/scenarios --db ./journal.db
  universe run ./testdata/scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "journal the runs to this SQLite database")

	return cmd
}

func runScenarios(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	files, err := harness.FindScenarios(path)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, "scenarios not found", err)
	}
	if len(files) == 0 {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("no scenario files in %s", path), nil)
	}

	runOpts := []harness.Option{harness.WithLogger(slog.Default())}
	if opts.Database != "" {
		st, err := journal.Open(opts.Database, journal.WithLogger(slog.Default()))
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
		runOpts = append(runOpts, harness.WithJournal(st))
	}

	result := RunResult{Scenarios: []ScenarioResult{}}
	for _, file := range files {
		sr := ScenarioResult{Name: file, Path: file}

		scenario, err := harness.LoadScenario(file)
		if err != nil {
			sr.Errors = []string{err.Error()}
		} else {
			sr.Name = scenario.Name
			formatter.VerboseLog("Running scenario %s (%d steps)", scenario.Name, len(scenario.Steps))
			res, err := harness.RunWith(ctx, scenario, runOpts...)
			switch {
			case err != nil:
				sr.Errors = []string{err.Error()}
			default:
				sr.Pass = res.Pass
				sr.Events = len(res.Trace)
				sr.Errors = res.Errors
			}
		}

		result.Total++
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	return outputRunResult(formatter, result)
}

func outputRunResult(formatter *OutputFormatter, result RunResult) error {
	var failure error
	if result.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
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
	for _, sr := range result.Scenarios {
		if sr.Pass {
			fmt.Fprintf(w, "✓ %s (%d events)\n", sr.Name, sr.Events)
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", sr.Name)
		for _, e := range sr.Errors {
			fmt.Fprintf(w, "    %s\n", e)
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	return failure
}
