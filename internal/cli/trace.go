package cli

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/intenthost/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	IntentID string
}

// DispatchSummary is one row of the trace listing.
type DispatchSummary struct {
	Seq          int64  `json:"seq"`
	IntentID     string `json:"intentId"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	ErrorCode    string `json:"errorCode,omitempty"`
	SnapshotHash string `json:"snapshotHash"`
	Events       int    `json:"events"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Inspect journaled dispatches",
		Long: `List journaled dispatches in order, or show the trace events of one
dispatch with --intent.

Examples:
  hostctl trace --db ./journal.db
  hostctl trace --db ./journal.db --intent intent-2 --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite journal (default: $HOSTCTL_DB)")
	cmd.Flags().StringVar(&opts.IntentID, "intent", "", "show events for this intent id")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

	db := opts.Database
	if db == "" {
		db = opts.Config.DB
	}
	if db == "" {
		return NewExitError(ExitCommandError, "no journal: pass --db or set HOSTCTL_DB")
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

	ctx := cmd.Context()
	if opts.IntentID != "" {
		rec, err := st.ReadDispatch(ctx, opts.IntentID)
		if store.IsNotFound(err) {
			return NewExitError(ExitFailure, fmt.Sprintf("intent %s not journaled", opts.IntentID))
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read dispatch", err)
		}
		return formatter.Success(rec, func(w io.Writer) { writeRecordTrace(w, rec) })
	}

	recs, err := st.ListDispatches(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list dispatches", err)
	}
	summaries := make([]DispatchSummary, 0, len(recs))
	for _, rec := range recs {
		summaries = append(summaries, DispatchSummary{
			Seq:          rec.Seq,
			IntentID:     rec.IntentID,
			Type:         rec.Intent.Type,
			Status:       string(rec.Status),
			ErrorCode:    rec.ErrorCode,
			SnapshotHash: rec.SnapshotHash,
			Events:       len(rec.Traces),
		})
	}
	return formatter.Success(summaries, func(w io.Writer) { writeDispatchList(w, summaries) })
}

func writeDispatchList(w io.Writer, summaries []DispatchSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "no dispatches journaled")
		return
	}
	for _, s := range summaries {
		status := s.Status
		if s.ErrorCode != "" {
			status += " " + s.ErrorCode
		}
		fmt.Fprintf(w, "%4d  %-14s %-16s %-30s %3d events  %s\n",
			s.Seq, s.IntentID, s.Type, status, s.Events, shortHash(s.SnapshotHash))
	}
}

func writeRecordTrace(w io.Writer, rec store.Record) {
	fmt.Fprintf(w, "intent %s (%s) -> %s", rec.IntentID, rec.Intent.Type, rec.Status)
	if rec.ErrorCode != "" {
		fmt.Fprintf(w, " %s", rec.ErrorCode)
	}
	fmt.Fprintf(w, "\nsnapshot %s\n", shortHash(rec.SnapshotHash))
	for _, ev := range rec.Traces {
		var b strings.Builder
		fmt.Fprintf(&b, "%4d  %-16s", ev.Seq, ev.Kind)
		if ev.EffectType != "" {
			fmt.Fprintf(&b, " %s", ev.EffectType)
		}
		if ev.RequirementID != "" {
			fmt.Fprintf(&b, " req=%s", shortHash(ev.RequirementID))
		}
		if ev.Iteration > 0 {
			fmt.Fprintf(&b, " iter=%d", ev.Iteration)
		}
		keys := make([]string, 0, len(ev.Details))
		for k := range ev.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%s", k, ev.Details[k])
		}
		fmt.Fprintln(w, b.String())
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
