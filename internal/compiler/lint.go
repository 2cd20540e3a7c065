package compiler

import (
	"fmt"

	"github.com/roach88/intenthost/internal/core"
)

// Lint warning codes (W100-W199)
const (
	WarnUnguardedEffect = "W101" // effect step without a when guard
	WarnUnreachableStep = "W102" // step after an unconditional halt or fail
	WarnEmptyFlow       = "W103" // action with no steps
)

// LintWarning flags a flow that is valid but will misbehave at runtime.
type LintWarning struct {
	Action  string `json:"action"`
	Step    int    `json:"step"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (w LintWarning) String() string {
	if w.Step >= 0 {
		return fmt.Sprintf("[%s] action %s step %d: %s", w.Code, w.Action, w.Step, w.Message)
	}
	return fmt.Sprintf("[%s] action %s: %s", w.Code, w.Action, w.Message)
}

// Lint inspects every action and returns all warnings in action order.
//
// Flows are re-entrant: each effect fulfilment recomputes the action from
// the first step. An effect step with no guard is therefore requested again
// after every fulfilment and the dispatch only ends at the iteration bound.
func Lint(schema *core.Schema) []LintWarning {
	if schema == nil {
		return nil
	}

	var warnings []LintWarning
	for _, name := range schema.ActionNames() {
		action := schema.Actions[name]
		if len(action.Flow) == 0 {
			warnings = append(warnings, LintWarning{
				Action:  name,
				Step:    -1,
				Code:    WarnEmptyFlow,
				Message: "flow has no steps",
			})
			continue
		}

		terminated := -1
		for i, step := range action.Flow {
			if terminated >= 0 {
				warnings = append(warnings, LintWarning{
					Action:  name,
					Step:    i,
					Code:    WarnUnreachableStep,
					Message: fmt.Sprintf("unreachable after step %d", terminated),
				})
				continue
			}
			if step.Effect != nil && step.When == "" {
				warnings = append(warnings, LintWarning{
					Action:  name,
					Step:    i,
					Code:    WarnUnguardedEffect,
					Message: fmt.Sprintf("effect %q has no when guard and re-fires on every re-entry", step.Effect.Type),
				})
			}
			if step.When == "" && (step.Halt || step.Fail != nil) {
				terminated = i
			}
		}
	}
	return warnings
}
