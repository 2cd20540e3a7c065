package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intenthost/internal/snapshot"
)

func fetchSchema() *Schema {
	return &Schema{
		ID: "fetcher",
		Computed: map[string]string{
			"hasResponse": "has(data.response)",
		},
		Actions: map[string]Action{
			"fetchData": {Flow: []Step{
				{When: "!has(data.response)", Patch: &PatchStep{Op: snapshot.OpSet, Path: "loading", Value: true}},
				{When: "!has(data.response)", Effect: &EffectStep{Type: "http", Params: map[string]any{"url": "/data"}}},
				{Patch: &PatchStep{Op: snapshot.OpSet, Path: "loading", Value: false}},
			}},
			"add": {Flow: []Step{
				{Patch: &PatchStep{Op: snapshot.OpSet, Path: "count", Expr: "(has(data.count) ? data.count : 0.0) + input.n"}},
			}},
			"boom": {Flow: []Step{
				{Fail: &FailStep{Code: "BOOM", Message: "exploded"}},
			}},
			"stopEarly": {Flow: []Step{
				{Halt: true},
				{Patch: &PatchStep{Op: snapshot.OpSet, Path: "unreachable", Value: true}},
			}},
			"locked": {Available: "data.open == true", Flow: []Step{{Halt: true}}},
		},
	}
}

func newCore(t *testing.T) *FlowCore {
	t.Helper()
	c, err := NewFlowCore()
	require.NoError(t, err)
	return c
}

var testCtx = HostContext{Now: 1000, RandomSeed: "seed-1"}

func TestFlowCore_CreateSnapshot(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()

	snap, err := c.CreateSnapshot(schema, map[string]any{"n": 1}, testCtx)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"n": float64(1)}, snap.Data)
	assert.Equal(t, map[string]any{"hasResponse": false}, snap.Computed)
	assert.Equal(t, snapshot.StatusIdle, snap.System.Status)
	assert.Empty(t, snap.System.PendingRequirements)
	assert.Equal(t, int64(0), snap.Meta.Version)
	assert.Equal(t, "seed-1", snap.Meta.RandomSeed)

	hash, err := schema.Hash()
	require.NoError(t, err)
	assert.Equal(t, hash, snap.Meta.SchemaHash)
}

func TestFlowCore_ComputeReentrantFlow(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	intent := snapshot.Intent{Type: "fetchData", IntentID: "i1"}
	res, err := c.Compute(schema, snap, intent, testCtx)
	require.NoError(t, err)

	assert.Equal(t, ComputePending, res.Status)
	assert.Equal(t, snapshot.StatusPending, res.Snapshot.System.Status)
	assert.Equal(t, "fetchData", res.Snapshot.System.CurrentAction)
	assert.Equal(t, true, res.Snapshot.Data["loading"])
	require.Len(t, res.Snapshot.System.PendingRequirements, 1)

	req := res.Snapshot.System.PendingRequirements[0]
	assert.Equal(t, "http", req.Type)
	assert.Equal(t, 1, req.FlowPosition)
	assert.Equal(t, "fetchData", req.ActionID)
	assert.Equal(t, map[string]any{"url": "/data"}, req.Params)

	// Input snapshot is untouched.
	assert.Empty(t, snap.Data)

	// Simulate the host fulfilling the effect.
	applied, err := c.Apply(schema, res.Snapshot, []snapshot.Patch{snapshot.Set("response", map[string]any{"data": "fetched"})}, testCtx)
	require.NoError(t, err)
	cleared, err := c.ApplySystemDelta(schema, applied, SystemDelta{RemoveRequirementIDs: []string{req.ID}}, testCtx)
	require.NoError(t, err)
	assert.Empty(t, cleared.System.PendingRequirements)

	res2, err := c.Compute(schema, cleared, intent, testCtx)
	require.NoError(t, err)
	assert.Equal(t, ComputeComplete, res2.Status)
	assert.Equal(t, map[string]any{"loading": false, "response": map[string]any{"data": "fetched"}}, res2.Snapshot.Data)
	assert.Equal(t, snapshot.StatusIdle, res2.Snapshot.System.Status)
	assert.Equal(t, "", res2.Snapshot.System.CurrentAction)
	assert.Equal(t, true, res2.Snapshot.Computed["hasResponse"])
	assert.Greater(t, res2.Snapshot.Meta.Version, res.Snapshot.Meta.Version)
}

func TestFlowCore_RequirementIDStableAcrossRuns(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	intent := snapshot.Intent{Type: "fetchData", IntentID: "i1"}
	a, err := c.Compute(schema, snap, intent, testCtx)
	require.NoError(t, err)
	b, err := c.Compute(schema, snap, intent, HostContext{Now: 5, RandomSeed: "x"})
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot.System.PendingRequirements[0].ID, b.Snapshot.System.PendingRequirements[0].ID)
}

func TestFlowCore_ExpressionPatch(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	res, err := c.Compute(schema, snap, snapshot.Intent{Type: "add", IntentID: "a1", Input: map[string]any{"n": 2}}, testCtx)
	require.NoError(t, err)
	assert.Equal(t, ComputeComplete, res.Status)
	assert.Equal(t, float64(2), res.Snapshot.Data["count"])

	res, err = c.Compute(schema, res.Snapshot, snapshot.Intent{Type: "add", IntentID: "a2", Input: map[string]any{"n": 3}}, testCtx)
	require.NoError(t, err)
	assert.Equal(t, float64(5), res.Snapshot.Data["count"])
}

func TestFlowCore_UnknownAction(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	res, err := c.Compute(schema, snap, snapshot.Intent{Type: "nope", IntentID: "x"}, testCtx)
	require.NoError(t, err)
	assert.Equal(t, ComputeError, res.Status)
	assert.Equal(t, snapshot.StatusError, res.Snapshot.System.Status)
	require.NotNil(t, res.Snapshot.System.LastError)
	assert.Equal(t, CodeUnknownAction, res.Snapshot.System.LastError.Code)
	assert.Len(t, res.Snapshot.System.Errors, 1)
}

func TestFlowCore_FailStep(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	res, err := c.Compute(schema, snap, snapshot.Intent{Type: "boom", IntentID: "b"}, testCtx)
	require.NoError(t, err)
	assert.Equal(t, ComputeError, res.Status)
	assert.Equal(t, "BOOM", res.Snapshot.System.LastError.Code)
	assert.Equal(t, "exploded", res.Snapshot.System.LastError.Message)
}

func TestFlowCore_Halt(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	res, err := c.Compute(schema, snap, snapshot.Intent{Type: "stopEarly", IntentID: "h"}, testCtx)
	require.NoError(t, err)
	assert.Equal(t, ComputeHalted, res.Status)
	assert.NotContains(t, res.Snapshot.Data, "unreachable")
}

func TestFlowCore_Available(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()

	closed, err := c.CreateSnapshot(schema, map[string]any{"open": false}, testCtx)
	require.NoError(t, err)
	res, err := c.Compute(schema, closed, snapshot.Intent{Type: "locked", IntentID: "l"}, testCtx)
	require.NoError(t, err)
	assert.Equal(t, CodeActionUnavailable, res.Snapshot.System.LastError.Code)

	open, err := c.CreateSnapshot(schema, map[string]any{"open": true}, testCtx)
	require.NoError(t, err)
	res, err = c.Compute(schema, open, snapshot.Intent{Type: "locked", IntentID: "l"}, testCtx)
	require.NoError(t, err)
	assert.Equal(t, ComputeHalted, res.Status)
}

func TestFlowCore_ApplyRejectsSystemPath(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	_, err = c.Apply(schema, snap, []snapshot.Patch{snapshot.Set("system.status", "idle")}, testCtx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "system namespace")
}

func TestFlowCore_ApplySystemDeltaRecordsErrors(t *testing.T) {
	c := newCore(t)
	schema := fetchSchema()
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	next, err := c.ApplySystemDelta(schema, snap, SystemDelta{
		AddErrors: []snapshot.ErrorValue{{Code: "UNKNOWN_EFFECT", Message: "no handler"}},
	}, testCtx)
	require.NoError(t, err)
	require.Len(t, next.System.Errors, 1)
	assert.Equal(t, "UNKNOWN_EFFECT", next.System.LastError.Code)
	assert.Equal(t, int64(1000), next.System.Errors[0].Timestamp)
	assert.Equal(t, snap.Meta.Version+1, next.Meta.Version)
	assert.Empty(t, snap.System.Errors)
}

func TestFlowCore_Validate(t *testing.T) {
	c := newCore(t)
	require.NoError(t, c.Validate(fetchSchema()))

	bad := &Schema{
		ID: "bad",
		Actions: map[string]Action{
			"a": {Flow: []Step{
				{When: "data.(", Halt: true},
				{Patch: &PatchStep{Op: "replace", Path: "x"}},
				{},
				{Patch: &PatchStep{Op: snapshot.OpSet, Path: "system.status"}},
			}},
		},
	}
	err := c.Validate(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown op")
	assert.Contains(t, err.Error(), "exactly one of")
	assert.Contains(t, err.Error(), "system namespace")

	err = c.Validate(&Schema{ID: "x", Actions: map[string]Action{"a": {Flow: []Step{{When: "data.(", Halt: true}}}}})
	require.Error(t, err)
	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)

	assert.Error(t, c.Validate(&Schema{}))
	assert.Error(t, c.Validate(nil))
}

func TestFlowCore_SystemLastErrorVisibleToGuards(t *testing.T) {
	c := newCore(t)
	schema := &Schema{
		ID: "branch",
		Actions: map[string]Action{
			"try": {Flow: []Step{
				{When: "!has(system.lastError)", Effect: &EffectStep{Type: "missing"}},
				{Patch: &PatchStep{Op: snapshot.OpSet, Path: "failedWith", Expr: "system.lastError.code"}},
			}},
		},
	}
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	intent := snapshot.Intent{Type: "try", IntentID: "t1"}
	res, err := c.Compute(schema, snap, intent, testCtx)
	require.NoError(t, err)
	require.Equal(t, ComputePending, res.Status)
	req := res.Snapshot.System.PendingRequirements[0]

	failed, err := c.ApplySystemDelta(schema, res.Snapshot, SystemDelta{
		RemoveRequirementIDs: []string{req.ID},
		AddErrors:            []snapshot.ErrorValue{{Code: "UNKNOWN_EFFECT", Message: "no handler", RequirementID: req.ID}},
	}, testCtx)
	require.NoError(t, err)

	res, err = c.Compute(schema, failed, intent, testCtx)
	require.NoError(t, err)
	assert.Equal(t, ComputeComplete, res.Status)
	assert.Equal(t, "UNKNOWN_EFFECT", res.Snapshot.Data["failedWith"])
	assert.Len(t, res.Snapshot.System.Errors, 1)
}

func TestFlowCore_ParamExprs(t *testing.T) {
	c := newCore(t)
	schema := &Schema{
		ID: "params",
		Actions: map[string]Action{
			"load": {Flow: []Step{
				{Effect: &EffectStep{
					Type:       "http",
					Params:     map[string]any{"method": "GET"},
					ParamExprs: map[string]string{"url": "'/items/' + input.id"},
				}},
			}},
		},
	}
	snap, err := c.CreateSnapshot(schema, nil, testCtx)
	require.NoError(t, err)

	res, err := c.Compute(schema, snap, snapshot.Intent{Type: "load", IntentID: "l1", Input: map[string]any{"id": "42"}}, testCtx)
	require.NoError(t, err)
	require.Len(t, res.Snapshot.System.PendingRequirements, 1)
	assert.Equal(t, map[string]any{"method": "GET", "url": "/items/42"}, res.Snapshot.System.PendingRequirements[0].Params)
}
