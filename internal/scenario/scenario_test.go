package scenario

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScenarioResolvesSchema(t *testing.T) {
	sc, err := LoadScenario(filepath.Join("testdata", "fetch.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "fetch", sc.Name)
	assert.Equal(t, filepath.Join("testdata", "domains"), sc.Schema)
	assert.Equal(t, "fetcher", sc.Domain)
	require.Len(t, sc.Intents, 2)
	assert.Equal(t, "first", sc.Intents[0].ID)
	require.Contains(t, sc.Effects, "http")
	assert.Len(t, sc.Effects["http"].Patches, 1)
}

func TestLoadScenarioMissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "read scenario file")
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`
name: typo
intent:
  - type: x
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse YAML")
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{"missing name", "intents: [{type: a}]", "name is required"},
		{"no intents", "name: x", "intents list is required"},
		{"intent without type", "name: x\nintents: [{id: a}]", "intent 0: type is required"},
		{"duplicate id", "name: x\nintents: [{id: a, type: t}, {id: a, type: t}]", `duplicate id "a"`},
		{"bad status", "name: x\nintents: [{type: t, expect: {status: done}}]", `unknown expected status "done"`},
		{"stub both", "name: x\neffects: {e: {fail: boom, patches: [{op: set, path: a, value: 1}]}}\nintents: [{type: t}]", "exactly one of patches or fail"},
		{"stub none", "name: x\neffects: {e: {}}\nintents: [{type: t}]", "exactly one of patches or fail"},
		{"stub bad op", "name: x\neffects: {e: {patches: [{op: push, path: a}]}}\nintents: [{type: t}]", `unknown op "push"`},
		{"stub bad path", "name: x\neffects: {e: {patches: [{op: set, path: 'a..b'}]}}\nintents: [{type: t}]", "effect e patch 0"},
		{"unknown assertion", "name: x\nintents: [{type: t}]\nassertions: [{type: vibes}]", `unknown assertion type "vibes"`},
		{"count without kind", "name: x\nintents: [{type: t}]\nassertions: [{type: trace_count, count: 1}]", "trace_count requires kind"},
		{"order too short", "name: x\nintents: [{type: t}]\nassertions: [{type: trace_order, effects: [a]}]", "at least two effects"},
		{"final state without path", "name: x\nintents: [{type: t}]\nassertions: [{type: final_state, value: 1}]", "final_state requires path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLoadScenarioKeepsAbsoluteSchema(t *testing.T) {
	dir := t.TempDir()
	abs := filepath.Join(dir, "schema.cue")
	path := filepath.Join(dir, "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: s\nschema: "+abs+"\nintents: [{type: t}]\n"), 0o644))

	sc, err := LoadScenario(path)
	require.NoError(t, err)
	assert.Equal(t, abs, sc.Schema)
}
