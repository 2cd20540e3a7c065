package compiler

import (
	"encoding/json"
	"fmt"
	"sort"

	"cuelang.org/go/cue"

	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/snapshot"
)

var stepFields = map[string]bool{
	"when":   true,
	"patch":  true,
	"effect": true,
	"fail":   true,
	"halt":   true,
}

// CompileDomain parses one domain struct into a Schema. The schema id is the
// last path selector of v, e.g. "counter" for domain.counter.
//
// Only the shape is checked here. Expressions are compiled when the schema
// is validated by an evaluator.
func CompileDomain(v cue.Value) (*core.Schema, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	schema := &core.Schema{
		Actions: make(map[string]core.Action),
	}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		schema.ID = labels[len(labels)-1].String()
	}
	if schema.ID == "" {
		return nil, &CompileError{Field: "domain", Message: "domain must be a named struct", Pos: v.Pos()}
	}

	version, err := optionalString(v, "version")
	if err != nil {
		return nil, err
	}
	schema.Version = version

	schema.Computed, err = parseComputed(v)
	if err != nil {
		return nil, err
	}

	actionsVal := v.LookupPath(cue.ParsePath("action"))
	if !actionsVal.Exists() {
		return nil, &CompileError{Field: "action", Message: "at least one action is required", Pos: v.Pos()}
	}
	iter, err := actionsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		action, err := parseAction(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		schema.Actions[iter.Label()] = action
	}
	if len(schema.Actions) == 0 {
		return nil, &CompileError{Field: "action", Message: "at least one action is required", Pos: actionsVal.Pos()}
	}

	return schema, nil
}

// CompileAll compiles every domain under the top-level "domain" struct,
// sorted by id.
func CompileAll(root cue.Value) ([]*core.Schema, error) {
	domains := root.LookupPath(cue.ParsePath("domain"))
	if !domains.Exists() {
		return nil, &CompileError{Field: "domain", Message: "no domain declared", Pos: root.Pos()}
	}
	iter, err := domains.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []*core.Schema
	for iter.Next() {
		schema, err := CompileDomain(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, schema)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func parseComputed(v cue.Value) (map[string]string, error) {
	computedVal := v.LookupPath(cue.ParsePath("computed"))
	if !computedVal.Exists() {
		return nil, nil
	}
	iter, err := computedVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	computed := make(map[string]string)
	for iter.Next() {
		expr, err := iter.Value().String()
		if err != nil {
			return nil, &CompileError{
				Field:   "computed." + iter.Label(),
				Message: "computed field must be a CEL expression string",
				Pos:     iter.Value().Pos(),
			}
		}
		computed[iter.Label()] = expr
	}
	return computed, nil
}

func parseAction(name string, v cue.Value) (core.Action, error) {
	var action core.Action

	available, err := optionalString(v, "available")
	if err != nil {
		return action, err
	}
	action.Available = available

	flowVal := v.LookupPath(cue.ParsePath("flow"))
	if !flowVal.Exists() {
		return action, &CompileError{Field: "action." + name + ".flow", Message: "flow is required", Pos: v.Pos()}
	}
	iter, err := flowVal.List()
	if err != nil {
		return action, formatCUEError(err)
	}

	action.Flow = []core.Step{}
	for i := 0; iter.Next(); i++ {
		step, err := parseStep(fmt.Sprintf("action.%s.flow[%d]", name, i), iter.Value())
		if err != nil {
			return action, err
		}
		action.Flow = append(action.Flow, step)
	}
	return action, nil
}

func parseStep(field string, v cue.Value) (core.Step, error) {
	var step core.Step

	fields, err := v.Fields()
	if err != nil {
		return step, formatCUEError(err)
	}
	for fields.Next() {
		if !stepFields[fields.Label()] {
			return step, &CompileError{
				Field:   field,
				Message: fmt.Sprintf("unknown step field %q", fields.Label()),
				Pos:     fields.Value().Pos(),
			}
		}
	}

	if step.When, err = optionalString(v, "when"); err != nil {
		return step, err
	}

	kinds := 0
	if p := v.LookupPath(cue.ParsePath("patch")); p.Exists() {
		kinds++
		if step.Patch, err = parsePatch(field+".patch", p); err != nil {
			return step, err
		}
	}
	if e := v.LookupPath(cue.ParsePath("effect")); e.Exists() {
		kinds++
		if step.Effect, err = parseEffect(field+".effect", e); err != nil {
			return step, err
		}
	}
	if f := v.LookupPath(cue.ParsePath("fail")); f.Exists() {
		kinds++
		if step.Fail, err = parseFail(field+".fail", f); err != nil {
			return step, err
		}
	}
	if h := v.LookupPath(cue.ParsePath("halt")); h.Exists() {
		halt, err := h.Bool()
		if err != nil {
			return step, &CompileError{Field: field + ".halt", Message: "halt must be a boolean", Pos: h.Pos()}
		}
		if halt {
			kinds++
		}
		step.Halt = halt
	}

	if kinds != 1 {
		return step, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("exactly one of patch, effect, fail, halt required (got %d)", kinds),
			Pos:     v.Pos(),
		}
	}
	return step, nil
}

func parsePatch(field string, v cue.Value) (*core.PatchStep, error) {
	op, err := requiredString(v, field, "op")
	if err != nil {
		return nil, err
	}
	path, err := requiredString(v, field, "path")
	if err != nil {
		return nil, err
	}

	patch := &core.PatchStep{Op: snapshot.PatchOp(op), Path: path}
	switch patch.Op {
	case snapshot.OpSet, snapshot.OpMerge, snapshot.OpUnset:
	default:
		return nil, &CompileError{Field: field + ".op", Message: fmt.Sprintf("unknown op %q", op), Pos: v.Pos()}
	}

	if patch.Expr, err = optionalString(v, "expr"); err != nil {
		return nil, err
	}
	if val := v.LookupPath(cue.ParsePath("value")); val.Exists() {
		if patch.Expr != "" {
			return nil, &CompileError{Field: field, Message: "value and expr are mutually exclusive", Pos: v.Pos()}
		}
		if patch.Value, err = concreteJSON(field+".value", val); err != nil {
			return nil, err
		}
	}
	return patch, nil
}

func parseEffect(field string, v cue.Value) (*core.EffectStep, error) {
	typ, err := requiredString(v, field, "type")
	if err != nil {
		return nil, err
	}
	effect := &core.EffectStep{Type: typ}

	if params := v.LookupPath(cue.ParsePath("params")); params.Exists() {
		decoded, err := concreteJSON(field+".params", params)
		if err != nil {
			return nil, err
		}
		m, ok := decoded.(map[string]any)
		if !ok {
			return nil, &CompileError{Field: field + ".params", Message: "params must be a struct", Pos: params.Pos()}
		}
		effect.Params = m
	}

	if exprs := v.LookupPath(cue.ParsePath("paramExprs")); exprs.Exists() {
		iter, err := exprs.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		effect.ParamExprs = make(map[string]string)
		for iter.Next() {
			s, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{
					Field:   field + ".paramExprs." + iter.Label(),
					Message: "param expression must be a string",
					Pos:     iter.Value().Pos(),
				}
			}
			effect.ParamExprs[iter.Label()] = s
		}
	}
	return effect, nil
}

func parseFail(field string, v cue.Value) (*core.FailStep, error) {
	code, err := requiredString(v, field, "code")
	if err != nil {
		return nil, err
	}
	message, err := optionalString(v, "message")
	if err != nil {
		return nil, err
	}
	return &core.FailStep{Code: code, Message: message}, nil
}

func optionalString(v cue.Value, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", &CompileError{Field: name, Message: "must be a string", Pos: f.Pos()}
	}
	return s, nil
}

func requiredString(v cue.Value, parent, name string) (string, error) {
	f := v.LookupPath(cue.ParsePath(name))
	if !f.Exists() {
		return "", &CompileError{Field: parent + "." + name, Message: name + " is required", Pos: v.Pos()}
	}
	s, err := f.String()
	if err != nil {
		return "", &CompileError{Field: parent + "." + name, Message: "must be a string", Pos: f.Pos()}
	}
	return s, nil
}

// concreteJSON decodes a concrete CUE value into the snapshot value model.
func concreteJSON(field string, v cue.Value) (any, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, &CompileError{Field: field, Message: "value must be concrete", Pos: v.Pos()}
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return out, nil
}
