package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intenthost/internal/config"
	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/store"
)

func executeRun(t *testing.T, opts *RootOptions, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestRunMissingScenarioFlag(t *testing.T) {
	_, err := executeRun(t, &RootOptions{Format: "text"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
	assert.Contains(t, err.Error(), "scenario")
}

func TestRunMissingScenarioFile(t *testing.T) {
	_, err := executeRun(t, &RootOptions{Format: "text"}, "--scenario", "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load scenario")
}

func TestRunBadSchemaOverride(t *testing.T) {
	_, err := executeRun(t, &RootOptions{Format: "text"},
		"--scenario", "testdata/counter.yaml", "--schema", "/nonexistent/domains")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load schema")
}

func TestRunPassingScenario(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "text"}, "--scenario", "testdata/counter.yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "intent-1")
	assert.Contains(t, out, "increment")
	assert.Contains(t, out, "PASS counter (2 intents)")
}

func TestRunFailingScenario(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "json"}, "--scenario", "testdata/failing.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string `json:"status"`
		Error  struct {
			Code    string     `json:"code"`
			Details RunSummary `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "E200", resp.Error.Code)
	assert.False(t, resp.Error.Details.Pass)
	require.NotEmpty(t, resp.Error.Details.Errors)
	assert.Contains(t, resp.Error.Details.Errors[0], "data.count")
}

func TestRunEffectScenarioJSON(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "json"}, "--scenario", "testdata/fetch.yaml")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Outcomes, 1)
	outcome := resp.Data.Outcomes[0]
	assert.Equal(t, string(host.ResultComplete), outcome.Status)
	assert.Equal(t, 1, outcome.TraceCounts[string(host.TraceEffectRequest)])
	assert.Equal(t, 1, outcome.TraceCounts[string(host.TraceEffectResult)])
}

func TestRunJournalsDispatches(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")

	out, err := executeRun(t, &RootOptions{Format: "text"},
		"--scenario", "testdata/counter.yaml", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "journaled 2 dispatches")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	recs, err := st.ListDispatches(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "intent-1", recs[0].IntentID)
	assert.Equal(t, "intent-2", recs[1].IntentID)
	assert.Equal(t, host.ResultComplete, recs[1].Status)
	assert.NotEmpty(t, recs[1].SnapshotHash)
}

func TestRunJournalFromEnvironment(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "env.db")
	opts := &RootOptions{Format: "text", Config: config.Config{DB: dbPath}}

	_, err := executeRun(t, opts, "--scenario", "testdata/counter.yaml")
	require.NoError(t, err)

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.ListDispatches(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestRunTwiceKeepsFirstJournalEntry(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "journal.db")
	opts := &RootOptions{Format: "text"}

	_, err := executeRun(t, opts, "--scenario", "testdata/counter.yaml", "--db", dbPath)
	require.NoError(t, err)
	out, err := executeRun(t, opts, "--scenario", "testdata/counter.yaml", "--db", dbPath)
	require.NoError(t, err)
	assert.NotContains(t, out, "journaled")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	recs, err := st.ListDispatches(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestMaxIterationsPrecedence(t *testing.T) {
	opts := &ScenarioOptions{RootOptions: &RootOptions{Config: config.Config{MaxIterations: 100}}}

	sc, _, err := prepareScenario(&ScenarioOptions{RootOptions: opts.RootOptions, Scenario: "testdata/counter.yaml"})
	require.NoError(t, err)
	assert.Equal(t, 100, opts.maxIterations(sc))

	sc.MaxIterations = 20
	assert.Equal(t, 20, opts.maxIterations(sc))

	opts.MaxIterations = 5
	assert.Equal(t, 5, opts.maxIterations(sc))
}

func TestPrepareScenarioSeedOverride(t *testing.T) {
	opts := &ScenarioOptions{
		RootOptions: &RootOptions{Config: config.Config{SeedPrefix: "ci"}},
		Scenario:    "testdata/counter.yaml",
	}
	sc, schema, err := prepareScenario(opts)
	require.NoError(t, err)
	assert.Equal(t, "ci", sc.SeedPrefix)
	assert.Equal(t, "counter", schema.ID)
}

func TestPrepareScenarioDomainOverride(t *testing.T) {
	opts := &ScenarioOptions{
		RootOptions: &RootOptions{},
		Scenario:    "testdata/counter.yaml",
		Schema:      "testdata/domains",
		Domain:      "fetcher",
	}
	_, schema, err := prepareScenario(opts)
	require.NoError(t, err)
	assert.Equal(t, "fetcher", schema.ID)
}

func TestRunUUIDIntentIDs(t *testing.T) {
	out, err := executeRun(t, &RootOptions{Format: "json"}, "--scenario", "testdata/counter.yaml", "--uuid-ids")
	require.NoError(t, err)

	var resp struct {
		Data RunSummary `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Outcomes, 2)
	for _, o := range resp.Data.Outcomes {
		id, err := uuid.Parse(o.IntentID)
		require.NoError(t, err)
		assert.Equal(t, uuid.Version(7), id.Version())
	}
	assert.NotEqual(t, resp.Data.Outcomes[0].IntentID, resp.Data.Outcomes[1].IntentID)
}
