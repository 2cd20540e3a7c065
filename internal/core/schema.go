package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/intenthost/internal/snapshot"
)

// Schema is a compiled domain definition.
type Schema struct {
	ID       string            `json:"id"`
	Version  string            `json:"version,omitempty"`
	Computed map[string]string `json:"computed,omitempty"`
	Actions  map[string]Action `json:"actions"`
}

// Action is one named action and its flow.
type Action struct {
	// Available is an optional CEL guard evaluated before the flow runs.
	Available string `json:"available,omitempty"`
	Flow      []Step `json:"flow"`
}

// Step is one flow step. Exactly one of Patch, Effect, Fail or Halt is set.
type Step struct {
	When   string      `json:"when,omitempty"`
	Patch  *PatchStep  `json:"patch,omitempty"`
	Effect *EffectStep `json:"effect,omitempty"`
	Fail   *FailStep   `json:"fail,omitempty"`
	Halt   bool        `json:"halt,omitempty"`
}

// PatchStep mutates data. Expr, when set, is a CEL expression whose result
// replaces Value.
type PatchStep struct {
	Op    snapshot.PatchOp `json:"op"`
	Path  string           `json:"path"`
	Value any              `json:"value,omitempty"`
	Expr  string           `json:"expr,omitempty"`
}

// EffectStep emits a requirement and suspends the flow.
type EffectStep struct {
	Type       string            `json:"type"`
	Params     map[string]any    `json:"params,omitempty"`
	ParamExprs map[string]string `json:"paramExprs,omitempty"`
}

// FailStep stops the flow with an evaluator error.
type FailStep struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Hash returns the content hash of the schema.
func (s *Schema) Hash() (string, error) {
	return snapshot.SchemaHash(s)
}

// ActionNames returns action names in sorted order.
func (s *Schema) ActionNames() []string {
	names := make([]string, 0, len(s.Actions))
	for name := range s.Actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidationError describes a structural problem in a schema.
type ValidationError struct {
	Action string
	Step   int
	Field  string
	Msg    string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Action != "" && e.Step >= 0:
		return fmt.Sprintf("action %s step %d: %s: %s", e.Action, e.Step, e.Field, e.Msg)
	case e.Action != "":
		return fmt.Sprintf("action %s: %s: %s", e.Action, e.Field, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Field, e.Msg)
	}
}

// validateStructure checks shape only. Expression compilation happens in
// FlowCore.Validate.
func validateStructure(s *Schema) error {
	if s == nil {
		return &ValidationError{Step: -1, Field: "schema", Msg: "schema is nil"}
	}
	if s.ID == "" {
		return &ValidationError{Step: -1, Field: "id", Msg: "id is required"}
	}
	if len(s.Actions) == 0 {
		return &ValidationError{Step: -1, Field: "actions", Msg: "at least one action is required"}
	}

	var errs []error
	for _, name := range s.ActionNames() {
		action := s.Actions[name]
		for i, step := range action.Flow {
			if err := validateStep(name, i, step); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func validateStep(action string, i int, step Step) error {
	kinds := 0
	if step.Patch != nil {
		kinds++
	}
	if step.Effect != nil {
		kinds++
	}
	if step.Fail != nil {
		kinds++
	}
	if step.Halt {
		kinds++
	}
	if kinds != 1 {
		return &ValidationError{Action: action, Step: i, Field: "step", Msg: fmt.Sprintf("exactly one of patch, effect, fail, halt required (got %d)", kinds)}
	}

	switch {
	case step.Patch != nil:
		switch step.Patch.Op {
		case snapshot.OpSet, snapshot.OpMerge, snapshot.OpUnset:
		default:
			return &ValidationError{Action: action, Step: i, Field: "patch.op", Msg: fmt.Sprintf("unknown op %q", step.Patch.Op)}
		}
		if _, err := snapshot.SplitPath(step.Patch.Path); err != nil {
			return &ValidationError{Action: action, Step: i, Field: "patch.path", Msg: err.Error()}
		}
		if snapshot.IsSystemPath(step.Patch.Path) {
			return &ValidationError{Action: action, Step: i, Field: "patch.path", Msg: "system namespace is not writable by flows"}
		}
	case step.Effect != nil:
		if step.Effect.Type == "" {
			return &ValidationError{Action: action, Step: i, Field: "effect.type", Msg: "type is required"}
		}
	case step.Fail != nil:
		if step.Fail.Code == "" {
			return &ValidationError{Action: action, Step: i, Field: "fail.code", Msg: "code is required"}
		}
	}
	return nil
}
