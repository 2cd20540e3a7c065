package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/intenthost/internal/compiler"
	"github.com/roach88/intenthost/internal/core"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Domain string
	Strict bool // lint warnings fail validation
}

// DomainReport is the validation outcome of one domain.
type DomainReport struct {
	ID         string                 `json:"id"`
	Version    string                 `json:"version,omitempty"`
	SchemaHash string                 `json:"schemaHash,omitempty"`
	Actions    []string               `json:"actions"`
	Valid      bool                   `json:"valid"`
	Errors     []string               `json:"errors,omitempty"`
	Warnings   []compiler.LintWarning `json:"warnings,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid   bool           `json:"valid"`
	Domains []DomainReport `json:"domains"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <schema>",
		Short: "Compile and check CUE domains",
		Long: `Compile every domain in a CUE file or directory, check its expressions
with the reference evaluator and lint its flows.

Exit codes:
  0 - All domains are valid
  1 - A domain failed to compile or validate (or has warnings with --strict)
  2 - Command error (path not found, no CUE files)

Examples:
  hostctl validate ./domains
  hostctl validate ./domains/cart.cue --domain cart --strict`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Domain, "domain", "", "validate only this domain")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "treat lint warnings as failures")

	return cmd
}

func runValidate(opts *ValidateOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	schemas, err := compiler.Load(path)
	if err != nil {
		return loadFailure(formatter, err)
	}

	evaluator, err := core.NewFlowCore()
	if err != nil {
		return WrapExitError(ExitCommandError, "create evaluator", err)
	}

	result := ValidationResult{Valid: true, Domains: []DomainReport{}}
	for _, schema := range schemas {
		if opts.Domain != "" && schema.ID != opts.Domain {
			continue
		}
		report := validateDomain(evaluator, schema, opts.Strict)
		if !report.Valid {
			result.Valid = false
		}
		result.Domains = append(result.Domains, report)
	}
	if len(result.Domains) == 0 {
		_ = formatter.Failure(compiler.ErrCodeNoDomain, fmt.Sprintf("domain %q not declared", opts.Domain), nil, nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("domain %q not declared", opts.Domain))
	}

	if !result.Valid {
		if err := formatter.Failure("E100", "validation failed", result, func(w io.Writer) { writeValidation(w, result) }); err != nil {
			return err
		}
		return NewExitError(ExitFailure, "validation failed")
	}
	return formatter.Success(result, func(w io.Writer) { writeValidation(w, result) })
}

func validateDomain(evaluator core.Evaluator, schema *core.Schema, strict bool) DomainReport {
	report := DomainReport{
		ID:       schema.ID,
		Version:  schema.Version,
		Actions:  schema.ActionNames(),
		Valid:    true,
		Warnings: compiler.Lint(schema),
	}
	if hash, err := schema.Hash(); err == nil {
		report.SchemaHash = hash
	}
	if err := evaluator.Validate(schema); err != nil {
		report.Valid = false
		report.Errors = append(report.Errors, splitJoined(err)...)
	}
	if strict && len(report.Warnings) > 0 {
		report.Valid = false
	}
	return report
}

// splitJoined unpacks errors.Join results into one message each.
func splitJoined(err error) []string {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var msgs []string
		for _, e := range joined.Unwrap() {
			msgs = append(msgs, splitJoined(e)...)
		}
		return msgs
	}
	return []string{err.Error()}
}

func writeValidation(w io.Writer, result ValidationResult) {
	for _, d := range result.Domains {
		mark := "ok"
		if !d.Valid {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "%-4s %s (%d actions)\n", mark, d.ID, len(d.Actions))
		for _, e := range d.Errors {
			fmt.Fprintf(w, "     error: %s\n", e)
		}
		for _, warn := range d.Warnings {
			fmt.Fprintf(w, "     warn:  %s\n", warn)
		}
	}
}

// loadFailure reports a schema loading error. Missing inputs are command
// errors; CUE that does not compile is a validation failure.
func loadFailure(formatter *OutputFormatter, err error) error {
	var loadErr *compiler.LoadError
	if errors.As(err, &loadErr) {
		_ = formatter.Failure(loadErr.Code, loadErr.Message, nil, nil)
		switch loadErr.Code {
		case compiler.ErrCodeNotFound, compiler.ErrCodeNoFiles, compiler.ErrCodeScanError:
			return WrapExitError(ExitCommandError, "load schema", err)
		}
		return WrapExitError(ExitFailure, "load schema", err)
	}

	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		_ = formatter.Failure("E101", compileErr.Error(), nil, nil)
		return WrapExitError(ExitFailure, "compile schema", err)
	}

	_ = formatter.Failure(compiler.ErrCodeGeneric, err.Error(), nil, nil)
	return WrapExitError(ExitFailure, "load schema", err)
}
