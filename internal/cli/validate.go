package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/entitysync/internal/schema"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Schema string
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                     `json:"valid"`
	Types    int                      `json:"types"`
	Keys     int                      `json:"keys"`
	Errors   []schema.ValidationError `json:"errors,omitempty"`
	Warnings []schema.CycleWarning    `json:"warnings,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [--schema <schema> | <schema>]",
		Short: "Validate a CUE schema",
		Long: `Compile a CUE schema and check its keys, types and resolution policies.

Every semantic problem is reported, not just the first. Identity reference
cycles between types are reported as warnings: such entities can only be
imported when one side of the cycle is already in the store.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				if opts.Schema != "" {
					return NewExitError(ExitCommandError, "give the schema as --schema or as an argument, not both")
				}
				opts.Schema = args[0]
			}
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file or directory")
	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	s, err := loadSchema(opts.Schema)
	var verrs schema.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		return outputValidationErrors(formatter, ValidationResult{Errors: verrs})
	case err != nil:
		var lerr *LoadError
		if errors.As(err, &lerr) && lerr.Code == ErrCodeLoadFailed {
			return outputValidationErrors(formatter, ValidationResult{Errors: []schema.ValidationError{{
				Field:   "cue",
				Message: lerr.Error(),
				Code:    lerr.Code,
			}}})
		}
		return loadFailure(formatter, err)
	}

	result := ValidationResult{
		Valid:    true,
		Types:    len(s.Types),
		Keys:     len(s.Keys),
		Warnings: schema.IdentityCycles(s),
	}
	formatter.VerboseLog("Schema %s: namespace %q", opts.Schema, s.Namespace)
	return formatter.Success(result, func(w io.Writer) {
		for _, warn := range result.Warnings {
			fmt.Fprintf(w, "⚠ %s\n", warn.Message)
		}
		fmt.Fprintf(w, "✓ Schema valid (%d types, %d keys)\n", result.Types, result.Keys)
	})
}

// outputValidationErrors reports a failed validation. Validation failures
// exit with ExitFailure.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	msg := fmt.Sprintf("validation failed with %d error(s)", len(errs))
	err := formatter.Failure(errs[0].Code, errs[0].Message, result, func(w io.Writer) {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, e := range errs {
			fmt.Fprintf(w, "  %s: %s: %s\n", e.Code, e.Field, e.Message)
		}
		fmt.Fprintln(w)
	})
	if err != nil {
		return err
	}
	return NewExitError(ExitFailure, msg)
}
