package scenario

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/roach88/intenthost/internal/compiler"
	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/snapshot"
	"github.com/roach88/intenthost/internal/testutil"
)

// Options tune a scenario run.
type Options struct {
	// Evaluator defaults to a fresh core.FlowCore.
	Evaluator core.Evaluator

	// MaxIterations overrides the scenario's own bound when positive.
	MaxIterations int

	Logger *slog.Logger

	// IDs names intents that have no id in the scenario. Defaults to
	// intent-1, intent-2, ... so runs are replayable.
	IDs host.IntentIDGenerator

	// OnDispatch is called after every dispatch, in order. An error stops
	// the run.
	OnDispatch func(intent snapshot.Intent, res *host.HostResult) error
}

// Run executes the scenario against a new Host built from schema and
// returns the per-intent outcomes. Expectation and assertion failures are
// recorded on the Result; the error return is for setup failures only.
func Run(ctx context.Context, sc *Scenario, schema *core.Schema, opts Options) (*Result, error) {
	evaluator := opts.Evaluator
	if evaluator == nil {
		fc, err := core.NewFlowCore()
		if err != nil {
			return nil, fmt.Errorf("create evaluator: %w", err)
		}
		evaluator = fc
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	initial, err := snapshot.Normalize(sc.Initial)
	if err != nil {
		return nil, fmt.Errorf("initial data: %w", err)
	}
	initialData, _ := initial.(map[string]any)
	if initialData == nil {
		initialData = map[string]any{}
	}

	seed := sc.SeedPrefix
	if seed == "" {
		seed = sc.Name
	}
	hostOpts := []host.Option{
		host.WithRuntime(testutil.NewDeterministicRuntime(seed)),
		host.WithInitialData(initialData),
		host.WithLogger(logger),
	}
	switch {
	case opts.MaxIterations > 0:
		hostOpts = append(hostOpts, host.WithMaxIterations(opts.MaxIterations))
	case sc.MaxIterations > 0:
		hostOpts = append(hostOpts, host.WithMaxIterations(sc.MaxIterations))
	}

	h, err := host.New(evaluator, schema, hostOpts...)
	if err != nil {
		return nil, fmt.Errorf("create host: %w", err)
	}
	if err := registerStubs(h, sc.Effects); err != nil {
		return nil, err
	}

	var ids host.IntentIDGenerator = testutil.NewSequentialIDs("intent")
	if opts.IDs != nil {
		ids = opts.IDs
	}
	result := NewResult(sc.Name)

	for i, step := range sc.Intents {
		intent, err := buildIntent(step, ids)
		if err != nil {
			return nil, fmt.Errorf("intent %d: %w", i, err)
		}

		res := h.Dispatch(ctx, intent)
		outcome, err := newOutcome(intent, res)
		if err != nil {
			return nil, fmt.Errorf("intent %s: %w", intent.IntentID, err)
		}
		result.Outcomes = append(result.Outcomes, outcome)
		result.Trace = append(result.Trace, res.Traces...)

		if opts.OnDispatch != nil {
			if err := opts.OnDispatch(intent, res); err != nil {
				return nil, fmt.Errorf("intent %s: %w", intent.IntentID, err)
			}
		}
		if step.Expect != nil {
			for _, msg := range checkExpect(outcome, step.Expect) {
				result.AddError(fmt.Sprintf("intent %s: %s", intent.IntentID, msg))
			}
		}
	}

	result.FinalData = userData(h.GetSnapshot())
	for _, msg := range EvaluateAssertions(result, sc.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// LoadAndRun loads the scenario's own schema and runs it.
func LoadAndRun(ctx context.Context, sc *Scenario, opts Options) (*Result, error) {
	if sc.Schema == "" {
		return nil, fmt.Errorf("scenario %s: schema is required", sc.Name)
	}
	schema, err := compiler.LoadDomain(sc.Schema, sc.Domain)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	return Run(ctx, sc, schema, opts)
}

func registerStubs(h *host.Host, stubs map[string]EffectStub) error {
	types := make([]string, 0, len(stubs))
	for t := range stubs {
		types = append(types, t)
	}
	sort.Strings(types)

	for _, effectType := range types {
		stub := stubs[effectType]
		handler, err := stub.handler()
		if err != nil {
			return fmt.Errorf("effect %s: %w", effectType, err)
		}
		if err := h.RegisterEffect(effectType, handler); err != nil {
			return fmt.Errorf("effect %s: %w", effectType, err)
		}
	}
	return nil
}

func (s EffectStub) handler() (host.EffectHandler, error) {
	if s.Fail != "" {
		msg := s.Fail
		return func(context.Context, string, map[string]any, *snapshot.Snapshot) ([]snapshot.Patch, error) {
			return nil, fmt.Errorf("%s", msg)
		}, nil
	}

	patches := make([]snapshot.Patch, 0, len(s.Patches))
	for _, spec := range s.Patches {
		p, err := spec.toPatch()
		if err != nil {
			return nil, err
		}
		patches = append(patches, p)
	}
	return func(context.Context, string, map[string]any, *snapshot.Snapshot) ([]snapshot.Patch, error) {
		out := make([]snapshot.Patch, len(patches))
		for i, p := range patches {
			out[i] = snapshot.Patch{Op: p.Op, Path: p.Path, Value: snapshot.DeepCopy(p.Value)}
		}
		return out, nil
	}, nil
}

func buildIntent(step IntentStep, ids host.IntentIDGenerator) (snapshot.Intent, error) {
	input, err := snapshot.Normalize(step.Input)
	if err != nil {
		return snapshot.Intent{}, fmt.Errorf("input: %w", err)
	}
	id := step.ID
	if id == "" {
		id = ids.Generate()
	}
	return snapshot.Intent{Type: step.Type, Input: input, IntentID: id}, nil
}

// userData strips the host namespace from snapshot data.
func userData(s *snapshot.Snapshot) map[string]any {
	if s == nil {
		return map[string]any{}
	}
	out := snapshot.CopyMap(s.Data)
	delete(out, snapshot.HostNamespace)
	return out
}
