package scenario

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/snapshot"
)

// Scenario is one scripted dispatch sequence.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Schema is the path of the CUE schema file or directory, relative to
	// the scenario file. May be left empty when the caller supplies one.
	Schema string `yaml:"schema,omitempty"`

	// Domain selects a domain when Schema declares several.
	Domain string `yaml:"domain,omitempty"`

	// MaxIterations overrides the host's dispatch loop bound.
	MaxIterations int `yaml:"max_iterations,omitempty"`

	// SeedPrefix feeds the deterministic runtime. Defaults to the name.
	SeedPrefix string `yaml:"seed_prefix,omitempty"`

	Initial map[string]any `yaml:"initial,omitempty"`

	// Effects scripts one handler per effect type.
	Effects map[string]EffectStub `yaml:"effects,omitempty"`

	// Intents are dispatched in order against one host.
	Intents []IntentStep `yaml:"intents"`

	// Assertions run against the combined trace and final data.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// EffectStub is a scripted effect handler. Exactly one of Patches or Fail
// is set.
type EffectStub struct {
	Patches []PatchSpec `yaml:"patches,omitempty"`
	Fail    string      `yaml:"fail,omitempty"`
}

// PatchSpec is the YAML form of snapshot.Patch.
type PatchSpec struct {
	Op    string `yaml:"op"`
	Path  string `yaml:"path"`
	Value any    `yaml:"value,omitempty"`
}

// IntentStep is one intent plus what its dispatch must produce.
type IntentStep struct {
	// ID defaults to a sequential id when empty.
	ID     string  `yaml:"id,omitempty"`
	Type   string  `yaml:"type"`
	Input  any     `yaml:"input,omitempty"`
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect checks one dispatch result.
type Expect struct {
	Status    string `yaml:"status,omitempty"`
	ErrorCode string `yaml:"error_code,omitempty"`

	// Data is a subset match against the snapshot data.
	Data map[string]any `yaml:"data,omitempty"`
}

// Assertion validates the combined trace or the final data.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count, final_state.
	Type string `yaml:"type"`

	// Kind filters trace events (trace_contains, trace_count).
	Kind string `yaml:"kind,omitempty"`

	// EffectType filters trace events by effect type.
	EffectType string `yaml:"effect_type,omitempty"`

	// Intent filters trace events by intent id.
	Intent string `yaml:"intent,omitempty"`

	Count int `yaml:"count,omitempty"`

	// Effects is the expected order of effect requests (trace_order).
	Effects []string `yaml:"effects,omitempty"`

	// Path and Value check one final data value (final_state).
	Path  string `yaml:"path,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

var validStatuses = map[string]bool{
	string(host.ResultComplete): true,
	string(host.ResultPending):  true,
	string(host.ResultError):    true,
}

// LoadScenario reads a scenario file with strict field checking and
// resolves Schema relative to the file's directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario file: %w", err)
	}

	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if sc.Schema != "" && !filepath.IsAbs(sc.Schema) {
		sc.Schema = filepath.Join(filepath.Dir(path), sc.Schema)
	}
	return sc, nil
}

// Parse decodes and validates scenario YAML.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Intents) == 0 {
		return fmt.Errorf("intents list is required and must be non-empty")
	}
	if s.MaxIterations < 0 {
		return fmt.Errorf("max_iterations must be positive")
	}

	for effectType, stub := range s.Effects {
		if (len(stub.Patches) > 0) == (stub.Fail != "") {
			return fmt.Errorf("effect %s: exactly one of patches or fail is required", effectType)
		}
		for i, p := range stub.Patches {
			if _, err := p.toPatch(); err != nil {
				return fmt.Errorf("effect %s patch %d: %w", effectType, i, err)
			}
		}
	}

	seen := make(map[string]bool)
	for i, step := range s.Intents {
		if step.Type == "" {
			return fmt.Errorf("intent %d: type is required", i)
		}
		if step.ID != "" {
			if seen[step.ID] {
				return fmt.Errorf("intent %d: duplicate id %q", i, step.ID)
			}
			seen[step.ID] = true
		}
		if step.Expect != nil && step.Expect.Status != "" && !validStatuses[step.Expect.Status] {
			return fmt.Errorf("intent %d: unknown expected status %q", i, step.Expect.Status)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertion %d: %w", i, err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("trace_contains requires kind")
		}
	case AssertTraceCount:
		if a.Kind == "" {
			return fmt.Errorf("trace_count requires kind")
		}
	case AssertTraceOrder:
		if len(a.Effects) < 2 {
			return fmt.Errorf("trace_order requires at least two effects")
		}
	case AssertFinalState:
		if a.Path == "" {
			return fmt.Errorf("final_state requires path")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func (p PatchSpec) toPatch() (snapshot.Patch, error) {
	value, err := snapshot.Normalize(p.Value)
	if err != nil {
		return snapshot.Patch{}, err
	}
	patch := snapshot.Patch{Op: snapshot.PatchOp(p.Op), Path: p.Path, Value: value}
	switch patch.Op {
	case snapshot.OpSet, snapshot.OpMerge, snapshot.OpUnset:
	default:
		return snapshot.Patch{}, fmt.Errorf("unknown op %q", p.Op)
	}
	if _, err := snapshot.SplitPath(p.Path); err != nil {
		return snapshot.Patch{}, err
	}
	return patch, nil
}
