package cli

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/universe/internal/ir"
	"github.com/roach88/universe/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Token    string
	Limit    int
	Verify   bool
}

// TraceEvent represents a single event in the trace timeline.
type TraceEvent struct {
	Seq      int64         `json:"seq"`
	Type     string        `json:"type"` // "invocation", "fact" or "firing"
	Kernel   string        `json:"kernel,omitempty"`
	Depth    int           `json:"depth,omitempty"`
	Reaction bool          `json:"reaction,omitempty"`
	Kind     ir.FactKind   `json:"kind,omitempty"`
	Table    ir.TableName  `json:"table,omitempty"`
	Column   ir.ColumnName `json:"column,omitempty"`
	Rows     []ir.RowID    `json:"rows,omitempty"`
	Moves    []ir.Move     `json:"moves,omitempty"`
	FactSeq  int64         `json:"fact_seq,omitempty"`
}

// TraceResult holds the complete trace output of one invocation.
type TraceResult struct {
	Token      string                   `json:"token"`
	Timeline   []TraceEvent             `json:"timeline"`
	Outcome    *ir.Outcome              `json:"outcome,omitempty"`
	Stats      TraceStats               `json:"stats"`
	Mismatches []journal.DigestMismatch `json:"mismatches,omitempty"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	Invocations      int  `json:"invocations"`
	Facts            int  `json:"facts"`
	Firings          int  `json:"firings"`
	UnmatchedFirings int  `json:"unmatched_firings"`
	IsComplete       bool `json:"is_complete"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect journaled invocations",
		Long: `Inspect the journal written by "universe run --db".

Without --token, lists the most recent invocations with their outcome.
With --token, shows the timeline of one invocation: every step, the
facts it produced and the reactions those facts fired.

Examples:
  universe trace --db ./journal.db
  universe trace --db ./journal.db --token warehouse-0003
  universe trace --db ./journal.db --token warehouse-0003 --verify --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Token, "token", "", "invocation token to trace")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "invocations to list without --token")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "recompute fact digests")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)
	ctx := cmd.Context()

	st, err := journal.Open(opts.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to open journal", err)
	}
	defer st.Close()

	if opts.Token == "" {
		summaries, err := st.ListInvocations(ctx, opts.Limit)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to list invocations", err)
		}
		return outputSummaries(formatter, summaries)
	}

	trace, err := st.ReadTrace(ctx, opts.Token)
	if errors.Is(err, journal.ErrNotFound) {
		return formatter.fail(ExitFailure, ErrCodeNotFound, fmt.Sprintf("no invocation %s", opts.Token), nil)
	}
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to read trace", err)
	}

	result := TraceResult{
		Token:    trace.Token,
		Timeline: buildTimeline(trace),
		Outcome:  trace.Outcome,
		Stats: TraceStats{
			Invocations:      len(trace.Invocations),
			Facts:            len(trace.Facts),
			Firings:          len(trace.Firings),
			UnmatchedFirings: trace.UnmatchedFirings,
			IsComplete:       trace.Complete(),
		},
	}

	var failure error
	if opts.Verify {
		result.Mismatches, err = st.Verify(ctx, opts.Token)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to verify trace", err)
		}
		if len(result.Mismatches) > 0 {
			failure = NewExitError(ExitFailure, fmt.Sprintf("%d fact digest(s) do not match", len(result.Mismatches)))
		}
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
	outputTraceText(formatter.Writer, result, opts.Verbose)
	return failure
}

// buildTimeline merges a trace's records into one list ordered by seq.
func buildTimeline(trace *journal.Trace) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(trace.Invocations)+len(trace.Facts)+len(trace.Firings))
	for _, inv := range trace.Invocations {
		timeline = append(timeline, TraceEvent{
			Seq:      inv.Seq,
			Type:     "invocation",
			Kernel:   inv.Kernel,
			Depth:    inv.Depth,
			Reaction: inv.Reaction,
		})
	}
	for _, f := range trace.Facts {
		timeline = append(timeline, TraceEvent{
			Seq:    f.Seq,
			Type:   "fact",
			Kind:   f.Kind,
			Table:  f.Table,
			Column: f.Column,
			Rows:   f.Rows,
			Moves:  f.Moves,
		})
	}
	for _, f := range trace.Firings {
		timeline = append(timeline, TraceEvent{
			Seq:     f.Seq,
			Type:    "firing",
			Kernel:  f.Reaction,
			Depth:   f.Depth,
			FactSeq: f.FactSeq,
		})
	}
	slices.SortFunc(timeline, func(a, b TraceEvent) int { return cmp.Compare(a.Seq, b.Seq) })
	return timeline
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for invocation: %s\n", result.Token)
	fmt.Fprintf(w, "Status: %s\n", outcomeStatus(result.Outcome))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, event := range result.Timeline {
		formatTimelineEvent(w, event, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Invocations: %d\n", result.Stats.Invocations)
	fmt.Fprintf(w, "  Facts:       %d\n", result.Stats.Facts)
	fmt.Fprintf(w, "  Firings:     %d\n", result.Stats.Firings)
	if result.Stats.UnmatchedFirings > 0 {
		fmt.Fprintf(w, "  Unmatched:   %d\n", result.Stats.UnmatchedFirings)
	}

	for _, m := range result.Mismatches {
		fmt.Fprintf(w, "✗ fact %d: stored digest %s, computed %s\n", m.Seq, m.Stored, m.Computed)
	}
}

// formatTimelineEvent formats a single timeline event for text output.
// Nested steps are indented by depth.
func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	indent := strings.Repeat("  ", event.Depth)
	switch event.Type {
	case "invocation":
		label := "RUN"
		if event.Reaction {
			label = "REACT"
		}
		fmt.Fprintf(w, "  [%d] %s%s %s\n", event.Seq, indent, label, event.Kernel)
	case "fact":
		name := string(event.Table)
		if event.Column != "" {
			name += "." + string(event.Column)
		}
		fmt.Fprintf(w, "  [%d] %s  %s %s %s\n", event.Seq, indent, strings.ToUpper(string(event.Kind)), name, formatRows(event.Rows))
		if verbose && len(event.Moves) > 0 {
			fmt.Fprintf(w, "       moves: %s\n", formatMoves(event.Moves))
		}
	case "firing":
		fmt.Fprintf(w, "  [%d] %sFIRE %s on [%d]\n", event.Seq, indent, event.Kernel, event.FactSeq)
	}
}

func formatRows(rows []ir.RowID) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = fmt.Sprint(uint32(r))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatMoves(moves []ir.Move) string {
	parts := make([]string, len(moves))
	for i, m := range moves {
		parts[i] = fmt.Sprintf("%d->%d", uint32(m.From), uint32(m.To))
	}
	return strings.Join(parts, ", ")
}

func outcomeStatus(o *ir.Outcome) string {
	switch {
	case o == nil:
		return "running"
	case o.Code != "":
		return fmt.Sprintf("%s (%s)", o.Status, o.Code)
	}
	return o.Status
}

// outputSummaries prints the invocation list.
func outputSummaries(formatter *OutputFormatter, summaries []journal.Summary) error {
	if formatter.JSON() {
		if summaries == nil {
			summaries = []journal.Summary{}
		}
		return formatter.Success(summaries)
	}

	w := formatter.Writer
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No invocations journaled")
		return nil
	}
	for _, s := range summaries {
		fmt.Fprintf(w, "%-24s %-12s %-8s steps=%d facts=%d", s.Token, s.Kernel, s.Status, s.Steps, s.Facts)
		if s.Code != "" {
			fmt.Fprintf(w, " code=%s", s.Code)
		}
		fmt.Fprintln(w)
	}
	return nil
}
