package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/intenthost/internal/compiler"
	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/scenario"
	"github.com/roach88/intenthost/internal/snapshot"
	"github.com/roach88/intenthost/internal/store"
)

// ScenarioOptions are the flags shared by run and replay.
type ScenarioOptions struct {
	*RootOptions
	Scenario      string
	Schema        string // overrides the scenario's schema path
	Domain        string
	Database      string
	MaxIterations int
	UUIDIDs       bool // run only
}

// RunSummary is the JSON payload of the run command.
type RunSummary struct {
	Scenario  string             `json:"scenario"`
	Pass      bool               `json:"pass"`
	Outcomes  []scenario.Outcome `json:"outcomes"`
	Errors    []string           `json:"errors,omitempty"`
	Journaled int                `json:"journaled,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario through the execution host",
		Long: `Dispatch a scenario's intents in order against one host, using its
scripted effect handlers and a deterministic runtime.

With --db (or HOSTCTL_DB) every settled dispatch is journaled for trace
and replay.

Exit codes:
  0 - All expectations and assertions held
  1 - An expectation or assertion failed
  2 - Command error (missing scenario, bad schema path, journal error)

Examples:
  hostctl run --scenario ./scenarios/fetch.yaml
  hostctl run --scenario fetch.yaml --schema ./domains --db ./journal.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(opts, cmd)
		},
	}

	addScenarioFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.UUIDIDs, "uuid-ids", false, "name unnamed intents with UUIDv7 ids (journal is not replayable)")
	return cmd
}

func addScenarioFlags(cmd *cobra.Command, opts *ScenarioOptions) {
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "path to scenario YAML (required)")
	_ = cmd.MarkFlagRequired("scenario")
	cmd.Flags().StringVar(&opts.Schema, "schema", "", "CUE schema file or directory (default: the scenario's schema)")
	cmd.Flags().StringVar(&opts.Domain, "domain", "", "domain id (default: the scenario's domain)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default: $HOSTCTL_DB)")
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "dispatch loop bound (default: scenario, then $HOSTCTL_MAX_ITERATIONS)")
}

func runScenario(opts *ScenarioOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	sc, schema, err := prepareScenario(opts)
	if err != nil {
		return err
	}

	var (
		st        *store.Store
		journaled int
	)
	if db := opts.database(); db != "" {
		st, err = store.Open(db)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				slog.Error("error closing journal", "error", closeErr)
			}
		}()
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	runOpts := scenario.Options{
		MaxIterations: opts.maxIterations(sc),
		Logger:        slog.Default(),
	}
	if opts.UUIDIDs {
		runOpts.IDs = host.UUIDv7Generator{}
	}
	if st != nil {
		runOpts.OnDispatch = func(intent snapshot.Intent, res *host.HostResult) error {
			rec, err := store.NewRecord(intent, res)
			if err != nil {
				return err
			}
			_, inserted, err := st.WriteDispatch(ctx, rec)
			if err != nil {
				return err
			}
			if inserted {
				journaled++
			} else {
				slog.Warn("intent already journaled", "intent_id", intent.IntentID)
			}
			return nil
		}
	}

	slog.Info("running scenario", "scenario", sc.Name, "domain", schema.ID, "intents", len(sc.Intents))
	result, err := scenario.Run(ctx, sc, schema, runOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "scenario run failed", err)
	}

	summary := RunSummary{
		Scenario:  sc.Name,
		Pass:      result.Pass,
		Outcomes:  result.Outcomes,
		Errors:    result.Errors,
		Journaled: journaled,
	}
	text := func(w io.Writer) { writeRunSummary(w, summary) }
	if !result.Pass {
		if err := formatter.Failure("E200", "scenario failed", summary, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", sc.Name))
	}
	return formatter.Success(summary, text)
}

// prepareScenario loads the scenario and its schema, applying flag and
// environment overrides.
func prepareScenario(opts *ScenarioOptions) (*scenario.Scenario, *core.Schema, error) {
	sc, err := scenario.LoadScenario(opts.Scenario)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load scenario", err)
	}
	if opts.Config.SeedPrefix != "" {
		sc.SeedPrefix = opts.Config.SeedPrefix
	}

	schemaPath, domain := sc.Schema, sc.Domain
	if opts.Schema != "" {
		schemaPath = opts.Schema
	}
	if opts.Domain != "" {
		domain = opts.Domain
	}
	if schemaPath == "" {
		return nil, nil, NewExitError(ExitCommandError, "no schema: pass --schema or set schema in the scenario")
	}

	schema, err := compiler.LoadDomain(schemaPath, domain)
	if err != nil {
		return nil, nil, WrapExitError(ExitCommandError, "failed to load schema", err)
	}
	return sc, schema, nil
}

func (o *ScenarioOptions) database() string {
	if o.Database != "" {
		return o.Database
	}
	return o.Config.DB
}

// maxIterations picks the flag, then the scenario, then the environment.
func (o *ScenarioOptions) maxIterations(sc *scenario.Scenario) int {
	switch {
	case o.MaxIterations > 0:
		return o.MaxIterations
	case sc.MaxIterations > 0:
		return sc.MaxIterations
	default:
		return o.Config.MaxIterations
	}
}

// signalContext cancels on SIGINT or SIGTERM. Cancellation reaches effect
// handlers and ends an awaiting dispatch with DISPATCH_CANCELLED.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func writeRunSummary(w io.Writer, s RunSummary) {
	for _, o := range s.Outcomes {
		line := fmt.Sprintf("%-14s %-16s %-8s", o.IntentID, o.Type, o.Status)
		if o.ErrorCode != "" {
			line += " " + o.ErrorCode
		}
		fmt.Fprintln(w, line)
	}
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  - %s\n", e)
	}
	verdict := "PASS"
	if !s.Pass {
		verdict = "FAIL"
	}
	fmt.Fprintf(w, "%s %s (%d intents)\n", verdict, s.Scenario, len(s.Outcomes))
	if s.Journaled > 0 {
		fmt.Fprintf(w, "journaled %d dispatches\n", s.Journaled)
	}
}
