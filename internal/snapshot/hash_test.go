package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonical_SortsKeysAndStripsWhitespace(t *testing.T) {
	out, err := MarshalCanonical(map[string]any{"b": 1, "a": []any{true, "x"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[true,"x"],"b":1}`, string(out))
}

func TestMarshalCanonical_NFC(t *testing.T) {
	// "é" as e + combining acute vs precomposed U+00E9.
	decomposed, err := MarshalCanonical(map[string]any{"k": "e\u0301"})
	require.NoError(t, err)
	composed, err := MarshalCanonical(map[string]any{"k": "\u00e9"})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestRequirementID_Deterministic(t *testing.T) {
	params := map[string]any{"url": "https://example.test", "retries": 2}
	id1, err := RequirementID("i1", "fetchData", 1, "http", params)
	require.NoError(t, err)
	id2, err := RequirementID("i1", "fetchData", 1, "http", map[string]any{"retries": 2.0, "url": "https://example.test"})
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 64)

	other, err := RequirementID("i2", "fetchData", 1, "http", params)
	require.NoError(t, err)
	assert.NotEqual(t, id1, other)

	pos, err := RequirementID("i1", "fetchData", 2, "http", params)
	require.NoError(t, err)
	assert.NotEqual(t, id1, pos)
}

func TestRequirementID_NilParams(t *testing.T) {
	a, err := RequirementID("i1", "a", 0, "t", nil)
	require.NoError(t, err)
	b, err := RequirementID("i1", "a", 0, "t", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHash_IgnoresTimestamp(t *testing.T) {
	s1 := &Snapshot{Data: map[string]any{"x": 1.0}, Meta: Meta{Version: 2, Timestamp: 100, RandomSeed: "s"}}
	s2 := s1.Clone()
	s2.Meta.Timestamp = 999

	h1, err := Hash(s1)
	require.NoError(t, err)
	h2, err := Hash(s2)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	s2.Meta.RandomSeed = "other"
	h3, err := Hash(s2)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHash_Nil(t *testing.T) {
	_, err := Hash(nil)
	assert.Error(t, err)
}
