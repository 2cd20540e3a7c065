package core

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"google.golang.org/protobuf/types/known/structpb"
)

var jsonValueType = reflect.TypeOf(&structpb.Value{})

// exprEngine compiles and caches CEL programs.
type exprEngine struct {
	env      *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program
}

func newExprEngine() (*exprEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("data", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("computed", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("meta", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("system", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("input", cel.DynType),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL env: %w", err)
	}
	return &exprEngine{
		env:      env,
		programs: make(map[string]cel.Program),
	}, nil
}

// program returns a cached program, compiling on first use.
func (e *exprEngine) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, hit := e.programs[expr]
	e.mu.RUnlock()
	if hit {
		return prg, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if prg, hit = e.programs[expr]; hit {
		return prg, nil
	}
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile %q: %w", expr, issues.Err())
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", expr, err)
	}
	e.programs[expr] = prg
	return prg, nil
}

func (e *exprEngine) eval(expr string, vars map[string]any) (ref.Val, error) {
	prg, err := e.program(expr)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.Eval(vars)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", expr, err)
	}
	return out, nil
}

// evalBool evaluates a guard. An empty expression is true.
func (e *exprEngine) evalBool(expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	out, err := e.eval(expr, vars)
	if err != nil {
		return false, err
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("eval %q: result is %s, not bool", expr, out.Type().TypeName())
	}
	return b, nil
}

// evalValue evaluates an expression to a JSON-model Go value.
func (e *exprEngine) evalValue(expr string, vars map[string]any) (any, error) {
	out, err := e.eval(expr, vars)
	if err != nil {
		return nil, err
	}
	native, err := out.ConvertToNative(jsonValueType)
	if err != nil {
		return nil, fmt.Errorf("eval %q: convert result: %w", expr, err)
	}
	return native.(*structpb.Value).AsInterface(), nil
}
