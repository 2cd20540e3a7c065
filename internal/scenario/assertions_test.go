package scenario

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/intenthost/internal/host"
)

func testTrace() []host.TraceEvent {
	return []host.TraceEvent{
		{Seq: 1, Kind: host.TraceJobStart, IntentID: "a"},
		{Seq: 2, Kind: host.TraceEffectRequest, IntentID: "a", EffectType: "auth"},
		{Seq: 3, Kind: host.TraceEffectResult, IntentID: "a", EffectType: "auth"},
		{Seq: 4, Kind: host.TraceEffectRequest, IntentID: "a", EffectType: "fetch"},
		{Seq: 5, Kind: host.TraceEffectRequest, IntentID: "b", EffectType: "auth"},
	}
}

func TestAssertTraceContains(t *testing.T) {
	trace := testTrace()
	assert.NoError(t, assertTraceContains(trace, Assertion{Kind: "effect:result", EffectType: "auth"}))
	assert.NoError(t, assertTraceContains(trace, Assertion{Kind: "effect:request", Intent: "b"}))

	err := assertTraceContains(trace, Assertion{Kind: "effect:result", EffectType: "fetch"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "effect:result effect=fetch")
	assert.Contains(t, err.Error(), "[4] effect:request a fetch")
}

func TestAssertTraceOrder(t *testing.T) {
	trace := testTrace()
	assert.NoError(t, assertTraceOrder(trace, Assertion{Effects: []string{"auth", "fetch"}}))

	err := assertTraceOrder(trace, Assertion{Effects: []string{"fetch", "auth"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch (pos 4) should be before auth (pos 2)")

	err = assertTraceOrder(trace, Assertion{Effects: []string{"auth", "pay"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing effect: pay")

	err = assertTraceOrder(trace, Assertion{Intent: "b", Effects: []string{"auth", "fetch"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing effect: fetch")
}

func TestAssertTraceCount(t *testing.T) {
	trace := testTrace()
	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: "effect:request", Count: 3}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: "effect:request", Intent: "a", Count: 2}))
	assert.NoError(t, assertTraceCount(trace, Assertion{Kind: "fatal", Count: 0}))

	err := assertTraceCount(trace, Assertion{Kind: "effect:request", EffectType: "auth", Count: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 occurrences of effect:request effect=auth")
	assert.Contains(t, err.Error(), "Actual: 2 occurrences")
}

func TestAssertFinalState(t *testing.T) {
	data := map[string]any{"user": map[string]any{"name": "ada", "age": 36.0, "tags": []any{"x"}}}

	assert.NoError(t, assertFinalState(data, Assertion{Path: "user.age", Value: 36}))
	assert.NoError(t, assertFinalState(data, Assertion{Path: "user", Value: map[string]any{"name": "ada"}}))
	assert.NoError(t, assertFinalState(data, Assertion{Path: "user.tags", Value: []any{"x"}}))

	err := assertFinalState(data, Assertion{Path: "user.email", Value: "a@b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path not set")

	err = assertFinalState(data, Assertion{Path: "user.name", Value: "grace"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Actual: ada")
}

func TestValuesEqual(t *testing.T) {
	assert.True(t, valuesEqual(2.0, 2))
	assert.True(t, valuesEqual(map[string]any{"a": 1.0, "b": 2.0}, map[string]any{"a": 1}))
	assert.False(t, valuesEqual(map[string]any{"a": 1.0}, map[string]any{"a": 1, "b": 2}))
	assert.False(t, valuesEqual("1", 1))
	assert.True(t, valuesEqual(nil, nil))
}

func TestEvaluateAssertionsUnknownType(t *testing.T) {
	errs := EvaluateAssertions(NewResult("x"), []Assertion{{Type: "vibes"}})
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], `unknown assertion type "vibes"`)
}
