package core

import (
	"errors"
	"fmt"
	"sort"

	"github.com/roach88/intenthost/internal/snapshot"
)

// Evaluator error codes written to system.lastError by FlowCore.
const (
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeActionUnavailable = "ACTION_UNAVAILABLE"
	CodeExpressionError   = "EXPRESSION_ERROR"
	CodePatchFailed       = "PATCH_FAILED"
)

// FlowCore is the reference Evaluator.
//
// Thread-safety: FlowCore is safe for concurrent use. Compiled CEL programs
// are cached behind an RWMutex; everything else is pure.
type FlowCore struct {
	exprs *exprEngine
}

var _ Evaluator = (*FlowCore)(nil)

// NewFlowCore creates a FlowCore with a fresh CEL environment.
func NewFlowCore() (*FlowCore, error) {
	exprs, err := newExprEngine()
	if err != nil {
		return nil, err
	}
	return &FlowCore{exprs: exprs}, nil
}

// Validate checks schema structure and compiles every expression.
func (c *FlowCore) Validate(schema *Schema) error {
	if err := validateStructure(schema); err != nil {
		return err
	}

	var errs []error
	check := func(action string, step int, field, expr string) {
		if expr == "" {
			return
		}
		if _, err := c.exprs.program(expr); err != nil {
			errs = append(errs, &ValidationError{Action: action, Step: step, Field: field, Msg: err.Error()})
		}
	}

	for _, name := range sortedKeys(schema.Computed) {
		check("", -1, "computed."+name, schema.Computed[name])
	}
	for _, name := range schema.ActionNames() {
		action := schema.Actions[name]
		check(name, -1, "available", action.Available)
		for i, step := range action.Flow {
			check(name, i, "when", step.When)
			if step.Patch != nil {
				check(name, i, "patch.expr", step.Patch.Expr)
			}
			if step.Effect != nil {
				for _, k := range sortedKeys(step.Effect.ParamExprs) {
					check(name, i, "effect.paramExprs."+k, step.Effect.ParamExprs[k])
				}
			}
		}
	}
	return errors.Join(errs...)
}

// CreateSnapshot builds the initial snapshot for data.
func (c *FlowCore) CreateSnapshot(schema *Schema, data map[string]any, hctx HostContext) (*snapshot.Snapshot, error) {
	if schema == nil {
		return nil, fmt.Errorf("create snapshot: nil schema")
	}
	normalized, err := snapshot.Normalize(data)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	dataMap, _ := normalized.(map[string]any)
	if dataMap == nil {
		dataMap = map[string]any{}
	}
	hash, err := schema.Hash()
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}

	snap := &snapshot.Snapshot{
		Data:     dataMap,
		Computed: map[string]any{},
		System: snapshot.SystemState{
			Status:              snapshot.StatusIdle,
			PendingRequirements: []snapshot.Requirement{},
			Errors:              []snapshot.ErrorValue{},
		},
		Meta: snapshot.Meta{
			Version:    0,
			Timestamp:  hctx.Now,
			RandomSeed: hctx.RandomSeed,
			SchemaHash: hash,
		},
	}
	computed, err := c.EvaluateComputed(schema, snap)
	if err != nil {
		return nil, fmt.Errorf("create snapshot: %w", err)
	}
	snap.Computed = computed
	return snap, nil
}

// EvaluateComputed evaluates computed fields in name order. Each expression
// sees the values computed before it.
func (c *FlowCore) EvaluateComputed(schema *Schema, snap *snapshot.Snapshot) (map[string]any, error) {
	out := make(map[string]any, len(schema.Computed))
	for _, name := range sortedKeys(schema.Computed) {
		v, err := c.exprs.evalValue(schema.Computed[name], map[string]any{
			"data":     snap.Data,
			"computed": out,
			"meta":     metaVars(snap.Meta),
			"system":   systemVars(snap.System),
			"input":    nil,
		})
		if err != nil {
			return nil, fmt.Errorf("computed %s: %w", name, err)
		}
		out[name] = v
	}
	return out, nil
}

// Apply applies data patches. Patches rooted in the system namespace are
// rejected.
func (c *FlowCore) Apply(schema *Schema, snap *snapshot.Snapshot, patches []snapshot.Patch, hctx HostContext) (*snapshot.Snapshot, error) {
	next := snap.Clone()
	for i, p := range patches {
		if snapshot.IsSystemPath(p.Path) {
			return nil, fmt.Errorf("apply patch %d: path %q targets the system namespace", i, p.Path)
		}
		if err := snapshot.ApplyPatch(next.Data, p); err != nil {
			return nil, fmt.Errorf("apply patch %d: %w", i, err)
		}
	}
	if err := c.finish(schema, next, hctx); err != nil {
		return nil, err
	}
	return next, nil
}

// ApplySystemDelta removes fulfilled requirements and records errors.
func (c *FlowCore) ApplySystemDelta(schema *Schema, snap *snapshot.Snapshot, delta SystemDelta, hctx HostContext) (*snapshot.Snapshot, error) {
	next := snap.Clone()
	if len(delta.RemoveRequirementIDs) > 0 {
		drop := make(map[string]bool, len(delta.RemoveRequirementIDs))
		for _, id := range delta.RemoveRequirementIDs {
			drop[id] = true
		}
		kept := next.System.PendingRequirements[:0]
		for _, r := range next.System.PendingRequirements {
			if !drop[r.ID] {
				kept = append(kept, r)
			}
		}
		next.System.PendingRequirements = kept
	}
	for _, e := range delta.AddErrors {
		if e.Timestamp == 0 {
			e.Timestamp = hctx.Now
		}
		next.System.Errors = append(next.System.Errors, e)
		last := e.Clone()
		next.System.LastError = &last
	}
	next.Meta.Version++
	next.Meta.Timestamp = hctx.Now
	return next, nil
}

// Compute runs the action's flow from the top against snap.
func (c *FlowCore) Compute(schema *Schema, snap *snapshot.Snapshot, intent snapshot.Intent, hctx HostContext) (*ComputeResult, error) {
	if schema == nil || snap == nil {
		return nil, fmt.Errorf("compute: schema and snapshot are required")
	}
	next := snap.Clone()
	next.System.PendingRequirements = []snapshot.Requirement{}
	next.System.Status = snapshot.StatusComputing
	next.System.CurrentAction = intent.Type

	action, ok := schema.Actions[intent.Type]
	if !ok {
		return c.fail(schema, next, hctx, CodeUnknownAction, fmt.Sprintf("action %q is not defined", intent.Type))
	}

	input, err := snapshot.Normalize(intent.Input)
	if err != nil {
		return c.fail(schema, next, hctx, CodeExpressionError, fmt.Sprintf("input: %v", err))
	}
	vars := func() map[string]any {
		return map[string]any{
			"data":     next.Data,
			"computed": next.Computed,
			"meta":     metaVars(next.Meta),
			"system":   systemVars(next.System),
			"input":    input,
		}
	}

	available, err := c.exprs.evalBool(action.Available, vars())
	if err != nil {
		return c.fail(schema, next, hctx, CodeExpressionError, err.Error())
	}
	if !available {
		return c.fail(schema, next, hctx, CodeActionUnavailable, fmt.Sprintf("action %q is not available", intent.Type))
	}

	status := ComputeComplete
steps:
	for pos, step := range action.Flow {
		ok, err := c.exprs.evalBool(step.When, vars())
		if err != nil {
			return c.fail(schema, next, hctx, CodeExpressionError, err.Error())
		}
		if !ok {
			continue
		}

		switch {
		case step.Patch != nil:
			p := snapshot.Patch{Op: step.Patch.Op, Path: step.Patch.Path, Value: step.Patch.Value}
			if step.Patch.Expr != "" {
				v, err := c.exprs.evalValue(step.Patch.Expr, vars())
				if err != nil {
					return c.fail(schema, next, hctx, CodeExpressionError, err.Error())
				}
				p.Value = v
			}
			if snapshot.IsSystemPath(p.Path) {
				return c.fail(schema, next, hctx, CodePatchFailed, fmt.Sprintf("path %q targets the system namespace", p.Path))
			}
			if err := snapshot.ApplyPatch(next.Data, p); err != nil {
				return c.fail(schema, next, hctx, CodePatchFailed, err.Error())
			}
			// Later guards observe computed values derived from this patch.
			computed, err := c.EvaluateComputed(schema, next)
			if err != nil {
				return c.fail(schema, next, hctx, CodeExpressionError, err.Error())
			}
			next.Computed = computed

		case step.Effect != nil:
			req, err := c.requirement(intent, pos, step.Effect, vars(), hctx)
			if err != nil {
				return c.fail(schema, next, hctx, CodeExpressionError, err.Error())
			}
			next.System.PendingRequirements = append(next.System.PendingRequirements, req)
			status = ComputePending
			break steps

		case step.Fail != nil:
			return c.fail(schema, next, hctx, step.Fail.Code, step.Fail.Message)

		case step.Halt:
			status = ComputeHalted
			break steps
		}
	}

	switch status {
	case ComputePending:
		next.System.Status = snapshot.StatusPending
	default:
		next.System.Status = snapshot.StatusIdle
		next.System.CurrentAction = ""
	}
	if err := c.finish(schema, next, hctx); err != nil {
		return nil, err
	}
	return &ComputeResult{Snapshot: next, Status: status}, nil
}

func (c *FlowCore) requirement(intent snapshot.Intent, pos int, eff *EffectStep, vars map[string]any, hctx HostContext) (snapshot.Requirement, error) {
	params := snapshot.CopyMap(eff.Params)
	for _, k := range sortedKeys(eff.ParamExprs) {
		v, err := c.exprs.evalValue(eff.ParamExprs[k], vars)
		if err != nil {
			return snapshot.Requirement{}, fmt.Errorf("param %s: %w", k, err)
		}
		params[k] = v
	}
	normalized, err := snapshot.Normalize(params)
	if err != nil {
		return snapshot.Requirement{}, err
	}
	params = normalized.(map[string]any)

	id, err := snapshot.RequirementID(intent.IntentID, intent.Type, pos, eff.Type, params)
	if err != nil {
		return snapshot.Requirement{}, err
	}
	return snapshot.Requirement{
		ID:           id,
		Type:         eff.Type,
		Params:       params,
		ActionID:     intent.Type,
		FlowPosition: pos,
		CreatedAt:    hctx.Now,
	}, nil
}

// fail records an evaluator error and stops the flow.
func (c *FlowCore) fail(schema *Schema, next *snapshot.Snapshot, hctx HostContext, code, msg string) (*ComputeResult, error) {
	ev := snapshot.ErrorValue{
		Code:      code,
		Message:   msg,
		Source:    next.System.CurrentAction,
		Timestamp: hctx.Now,
	}
	next.System.Status = snapshot.StatusError
	next.System.PendingRequirements = []snapshot.Requirement{}
	next.System.Errors = append(next.System.Errors, ev)
	last := ev.Clone()
	next.System.LastError = &last
	if err := c.finish(schema, next, hctx); err != nil {
		// Computed evaluation may be what failed; keep the previous values.
		next.Meta.Version++
		next.Meta.Timestamp = hctx.Now
		next.Meta.RandomSeed = hctx.RandomSeed
	}
	return &ComputeResult{Snapshot: next, Status: ComputeError}, nil
}

// finish re-evaluates computed values and advances meta.
func (c *FlowCore) finish(schema *Schema, next *snapshot.Snapshot, hctx HostContext) error {
	computed, err := c.EvaluateComputed(schema, next)
	if err != nil {
		return err
	}
	next.Computed = computed
	next.Meta.Version++
	next.Meta.Timestamp = hctx.Now
	next.Meta.RandomSeed = hctx.RandomSeed
	return nil
}

func metaVars(m snapshot.Meta) map[string]any {
	return map[string]any{
		"version":    float64(m.Version),
		"timestamp":  float64(m.Timestamp),
		"randomSeed": m.RandomSeed,
	}
}

// systemVars is the read-only view of system.* offered to expressions.
// lastError is absent until an error has been recorded, so flows test it
// with has(system.lastError).
func systemVars(s snapshot.SystemState) map[string]any {
	out := map[string]any{
		"status":     s.Status,
		"errorCount": float64(len(s.Errors)),
	}
	if s.LastError != nil {
		out["lastError"] = map[string]any{
			"code":    s.LastError.Code,
			"message": s.LastError.Message,
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
