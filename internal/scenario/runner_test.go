package scenario

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intenthost/internal/compiler"
	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/snapshot"
)

func loadTestScenario(t *testing.T, name string) (*Scenario, *core.Schema) {
	t.Helper()
	sc, err := LoadScenario(filepath.Join("testdata", name+".yaml"))
	require.NoError(t, err)
	schema, err := compiler.LoadDomain(sc.Schema, sc.Domain)
	require.NoError(t, err)
	return sc, schema
}

func TestScenariosGolden(t *testing.T) {
	for _, name := range []string{"counter", "fetch", "guarded"} {
		t.Run(name, func(t *testing.T) {
			sc, schema := loadTestScenario(t, name)

			result, err := RunWithGolden(t, sc, schema)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRunIsDeterministic(t *testing.T) {
	sc, schema := loadTestScenario(t, "fetch")

	first, err := Run(context.Background(), sc, schema, Options{})
	require.NoError(t, err)
	second, err := Run(context.Background(), sc, schema, Options{})
	require.NoError(t, err)

	require.Len(t, second.Outcomes, len(first.Outcomes))
	for i := range first.Outcomes {
		assert.NotEmpty(t, first.Outcomes[i].SnapshotHash)
		assert.Equal(t, first.Outcomes[i].SnapshotHash, second.Outcomes[i].SnapshotHash)
	}
}

func TestLoadAndRun(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "counter.yaml"))
	require.NoError(t, err)

	result, err := LoadAndRun(context.Background(), sc, Options{})
	require.NoError(t, err)
	assert.True(t, result.Pass)
	assert.Equal(t, map[string]any{"count": 5.0}, result.FinalData)

	sc.Schema = ""
	_, err = LoadAndRun(context.Background(), sc, Options{})
	assert.ErrorContains(t, err, "schema is required")
}

func TestRunOnDispatch(t *testing.T) {
	sc, schema := loadTestScenario(t, "counter")

	var seen []string
	_, err := Run(context.Background(), sc, schema, Options{
		OnDispatch: func(intent snapshot.Intent, res *host.HostResult) error {
			seen = append(seen, intent.IntentID+":"+string(res.Status))
			return nil
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"intent-1:complete", "intent-2:complete"}, seen)

	_, err = Run(context.Background(), sc, schema, Options{
		OnDispatch: func(snapshot.Intent, *host.HostResult) error {
			return assert.AnError
		},
	})
	require.ErrorIs(t, err, assert.AnError)
}

func TestRunReportsExpectationFailures(t *testing.T) {
	sc, schema := loadTestScenario(t, "counter")
	sc.Intents[0].Expect = &Expect{Status: "pending", ErrorCode: "NOPE", Data: map[string]any{"count": 3, "other": 1}}
	sc.Assertions = append(sc.Assertions, Assertion{Type: AssertFinalState, Path: "count", Value: 6})

	result, err := Run(context.Background(), sc, schema, Options{})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)
	assert.Equal(t, "intent intent-1: status: expected pending, got complete", result.Errors[0])
	assert.Equal(t, `intent intent-1: error code: expected NOPE, got ""`, result.Errors[1])
	assert.Equal(t, "intent intent-1: data.count: expected 3, got 2", result.Errors[2])
	assert.Equal(t, "intent intent-1: data.other: missing", result.Errors[3])
	assert.Contains(t, result.Errors[4], "Assertion failed: final_state")
}

func TestRunMaxIterationsOverride(t *testing.T) {
	schema := &core.Schema{
		ID: "spin",
		Actions: map[string]core.Action{
			"spin": {Flow: []core.Step{{Effect: &core.EffectStep{Type: "tick"}}}},
		},
	}
	sc := &Scenario{
		Name:          "spin",
		MaxIterations: 50,
		Effects:       map[string]EffectStub{"tick": {Patches: []PatchSpec{{Op: "set", Path: "ticked", Value: true}}}},
		Intents:       []IntentStep{{Type: "spin", Expect: &Expect{Status: "error", ErrorCode: string(host.ErrCodeLoopMaxIterations)}}},
	}

	result, err := Run(context.Background(), sc, schema, Options{MaxIterations: 3})
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, 1, result.Outcomes[0].TraceCounts[string(host.TraceFatal)])
}

func TestRunRejectsBadSchema(t *testing.T) {
	sc := &Scenario{Name: "bad", Intents: []IntentStep{{Type: "x"}}}
	_, err := Run(context.Background(), sc, &core.Schema{}, Options{})
	assert.ErrorContains(t, err, "create host")
}

func TestRunCustomIntentIDs(t *testing.T) {
	sc, schema := loadTestScenario(t, "counter")

	result, err := Run(context.Background(), sc, schema, Options{
		IDs: host.NewFixedGenerator("a", "b"),
	})
	require.NoError(t, err)
	require.Len(t, result.Outcomes, 2)
	assert.Equal(t, "a", result.Outcomes[0].IntentID)
	assert.Equal(t, "b", result.Outcomes[1].IntentID)
}
