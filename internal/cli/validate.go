package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/universe/internal/schema"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                     `json:"valid"`
	Tables   int                      `json:"tables"`
	Errors   []schema.ValidationError `json:"errors,omitempty"`
	Warnings []schema.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <schema.cue|dir>",
		Short: "Validate a universe schema",
		Long: `Compile and validate a CUE universe schema.

Checks identifiers, column types, ref targets and on_remove policies,
and warns about cascade cycles between tables.

Exit codes:
  0 - Schema valid
  1 - Validation errors
  2 - Schema could not be loaded

Examples:
  universe validate ./schemas/warehouse.cue
  universe validate ./schemas --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd)

	s, err := LoadSchema(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			if loadErr.Code == ErrCodeCompile {
				return outputValidationErrors(formatter, []schema.ValidationError{{
					Field:   "cue",
					Message: loadErr.Message,
					Code:    loadErr.Code,
					Line:    loadErr.Line(),
				}}, nil)
			}
			return formatter.fail(ExitCommandError, loadErr.Code, loadErr.Message, nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to load schema", err)
	}

	formatter.VerboseLog("Loaded %d table(s) from %s", len(s.Tables), path)

	warnings := schema.AnalyzeCycles(s)
	if errs := schema.Validate(s); len(errs) > 0 {
		return outputValidationErrors(formatter, errs, warnings)
	}
	return outputValidateSuccess(formatter, s, warnings)
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, s *schema.Schema, warnings []schema.CycleWarning) error {
	if formatter.JSON() {
		return formatter.Success(ValidationResult{Valid: true, Tables: len(s.Tables), Warnings: warnings})
	}

	fmt.Fprintf(formatter.Writer, "✓ Schema valid (%d tables)\n", len(s.Tables))
	for _, w := range warnings {
		fmt.Fprintf(formatter.Writer, "  %s: %s [%s]\n", w.Level, w.Message, strings.Join(w.Path, " -> "))
	}
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, errs []schema.ValidationError, warnings []schema.CycleWarning) error {
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.JSON() {
		result := ValidationResult{Valid: false, Errors: errs, Warnings: warnings}
		if err := formatter.Failure(errs[0].Code, errs[0].Message, result); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		if err.Line > 0 {
			fmt.Fprintf(formatter.Writer, "line %d\n", err.Line)
		}
		fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n\n", err.Code, err.Field, err.Message)
	}
	return failure
}
