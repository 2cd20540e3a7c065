package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/scenario"
	"github.com/roach88/intenthost/internal/snapshot"
	"github.com/roach88/intenthost/internal/store"
)

// ReplayResult is the JSON payload of the replay command.
type ReplayResult struct {
	Scenario    string             `json:"scenario"`
	Compared    int                `json:"compared"`
	Divergences []store.Divergence `json:"divergences,omitempty"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-run a scenario and compare it with the journal",
		Long: `Re-run a scenario with the same seed and compare each dispatch's status,
error code, snapshot hash and schema hash with what was journaled.

Exit codes:
  0 - Every dispatch matched
  1 - At least one dispatch diverged
  2 - Command error

Examples:
  hostctl replay --db ./journal.db --scenario ./scenarios/fetch.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	addScenarioFlags(cmd, opts)
	return cmd
}

func runReplay(opts *ScenarioOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	db := opts.database()
	if db == "" {
		return NewExitError(ExitCommandError, "no journal: pass --db or set HOSTCTL_DB")
	}

	sc, schema, err := prepareScenario(opts)
	if err != nil {
		return err
	}

	st, err := store.Open(db)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing journal", "error", closeErr)
		}
	}()

	ctx, stop := signalContext(cmd)
	defer stop()

	result := ReplayResult{Scenario: sc.Name}
	runOpts := scenario.Options{
		MaxIterations: opts.maxIterations(sc),
		Logger:        slog.Default(),
		OnDispatch: func(intent snapshot.Intent, res *host.HostResult) error {
			rec, err := store.NewRecord(intent, res)
			if err != nil {
				return err
			}
			divs, err := st.Compare(ctx, rec)
			if err != nil {
				return err
			}
			result.Compared++
			result.Divergences = append(result.Divergences, divs...)
			return nil
		},
	}

	if _, err := scenario.Run(ctx, sc, schema, runOpts); err != nil {
		return WrapExitError(ExitCommandError, "replay failed", err)
	}
	slog.Debug("replay compared", "scenario", sc.Name, "dispatches", result.Compared, "divergences", len(result.Divergences))

	text := func(w io.Writer) { writeReplay(w, result) }
	if len(result.Divergences) > 0 {
		if err := formatter.Failure("E300", "replay diverged", result, text); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("replay of %s diverged in %d places", sc.Name, len(result.Divergences)))
	}
	return formatter.Success(result, text)
}

func writeReplay(w io.Writer, r ReplayResult) {
	for _, d := range r.Divergences {
		fmt.Fprintf(w, "  - %s\n", d)
	}
	if len(r.Divergences) == 0 {
		fmt.Fprintf(w, "MATCH %s (%d dispatches)\n", r.Scenario, r.Compared)
		return
	}
	fmt.Fprintf(w, "DIVERGED %s (%d dispatches, %d divergences)\n", r.Scenario, r.Compared, len(r.Divergences))
}
