package host

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/snapshot"
	"github.com/roach88/intenthost/internal/testutil"
)

// testSchema covers the flows used across the host tests.
func testSchema() *core.Schema {
	return &core.Schema{
		ID:      "host-test",
		Version: "1",
		Actions: map[string]core.Action{
			"fetchData": {Flow: []core.Step{
				{When: "!has(data.response)", Patch: &core.PatchStep{Op: snapshot.OpSet, Path: "loading", Value: true}},
				{When: "!has(data.response)", Effect: &core.EffectStep{Type: "http", Params: map[string]any{"url": "/data"}}},
				{Patch: &core.PatchStep{Op: snapshot.OpSet, Path: "loading", Value: false}},
			}},
			"callMissing": {Flow: []core.Step{
				{When: "!has(system.lastError)", Effect: &core.EffectStep{Type: "missing"}},
				{Patch: &core.PatchStep{Op: snapshot.OpSet, Path: "failedWith", Expr: "system.lastError.code"}},
			}},
			"poll": {Flow: []core.Step{
				{When: "!has(data.done)", Effect: &core.EffectStep{Type: "poll"}},
			}},
			"add": {Flow: []core.Step{
				{Patch: &core.PatchStep{Op: snapshot.OpSet, Path: "count", Expr: "(has(data.count) ? data.count : 0.0) + input.n"}},
			}},
			"boom": {Flow: []core.Step{
				{Fail: &core.FailStep{Code: "BOOM", Message: "exploded"}},
			}},
		},
	}
}

func newFlowCore(t *testing.T) *core.FlowCore {
	t.Helper()
	c, err := core.NewFlowCore()
	require.NoError(t, err)
	return c
}

// newTestHost builds a Host over FlowCore with an empty initial snapshot and
// a deterministic runtime.
func newTestHost(t *testing.T, opts ...Option) *Host {
	t.Helper()
	base := []Option{
		WithInitialData(map[string]any{}),
		WithRuntime(testutil.NewDeterministicRuntime("test")),
	}
	h, err := New(newFlowCore(t), testSchema(), append(base, opts...)...)
	require.NoError(t, err)
	return h
}

func fetchHandler(_ context.Context, _ string, _ map[string]any, _ *snapshot.Snapshot) ([]snapshot.Patch, error) {
	return []snapshot.Patch{snapshot.Set("response", map[string]any{"data": "fetched"})}, nil
}

// userData strips the $host namespace from data.
func userData(s *snapshot.Snapshot) map[string]any {
	out := snapshot.CopyMap(s.Data)
	delete(out, snapshot.HostNamespace)
	return out
}

// traceRecorder collects trace events from WithOnTrace.
type traceRecorder struct {
	mu     sync.Mutex
	events []TraceEvent
}

func (r *traceRecorder) record(ev TraceEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *traceRecorder) kinds() []TraceKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TraceKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func countKind(events []TraceEvent, kind TraceKind) int {
	n := 0
	for _, ev := range events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// stubCore is a minimal Evaluator for scheduler tests. Compute records the
// order of intents and runs an optional hook first.
type stubCore struct {
	mu       sync.Mutex
	computed []string
	patches  [][]snapshot.Patch
	hook     func(intent snapshot.Intent)
	failWith error
}

var _ core.Evaluator = (*stubCore)(nil)

func (s *stubCore) CreateSnapshot(_ *core.Schema, data map[string]any, hctx core.HostContext) (*snapshot.Snapshot, error) {
	return &snapshot.Snapshot{
		Data:     snapshot.CopyMap(data),
		Computed: map[string]any{},
		System:   snapshot.SystemState{Status: snapshot.StatusIdle},
		Meta:     snapshot.Meta{Timestamp: hctx.Now, RandomSeed: hctx.RandomSeed},
	}, nil
}

func (s *stubCore) Apply(_ *core.Schema, snap *snapshot.Snapshot, patches []snapshot.Patch, hctx core.HostContext) (*snapshot.Snapshot, error) {
	s.mu.Lock()
	s.patches = append(s.patches, patches)
	s.mu.Unlock()

	next := snap.Clone()
	for _, p := range patches {
		if err := snapshot.ApplyPatch(next.Data, p); err != nil {
			return nil, err
		}
	}
	next.Meta.Version++
	next.Meta.Timestamp = hctx.Now
	return next, nil
}

func (s *stubCore) ApplySystemDelta(_ *core.Schema, snap *snapshot.Snapshot, delta core.SystemDelta, hctx core.HostContext) (*snapshot.Snapshot, error) {
	next := snap.Clone()
	drop := map[string]bool{}
	for _, id := range delta.RemoveRequirementIDs {
		drop[id] = true
	}
	kept := []snapshot.Requirement{}
	for _, r := range next.System.PendingRequirements {
		if !drop[r.ID] {
			kept = append(kept, r)
		}
	}
	next.System.PendingRequirements = kept
	next.System.Errors = append(next.System.Errors, delta.AddErrors...)
	next.Meta.Version++
	return next, nil
}

func (s *stubCore) Compute(_ *core.Schema, snap *snapshot.Snapshot, intent snapshot.Intent, hctx core.HostContext) (*core.ComputeResult, error) {
	if s.hook != nil {
		s.hook(intent)
	}
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.mu.Lock()
	s.computed = append(s.computed, intent.Type)
	s.mu.Unlock()

	next := snap.Clone()
	next.Meta.Version++
	next.System.Status = snapshot.StatusIdle
	return &core.ComputeResult{Snapshot: next, Status: core.ComputeComplete}, nil
}

func (s *stubCore) EvaluateComputed(*core.Schema, *snapshot.Snapshot) (map[string]any, error) {
	return map[string]any{}, nil
}

func (s *stubCore) Validate(*core.Schema) error {
	return nil
}

func (s *stubCore) order() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.computed...)
}

// newStubContext wires an ExecutionContext over stubCore.
func newStubContext(t *testing.T, stub *stubCore, cb ContextCallbacks) *ExecutionContext {
	t.Helper()
	provider := NewContextProvider(testutil.NewDeterministicRuntime("stub"), nil)
	snap, err := stub.CreateSnapshot(nil, map[string]any{}, provider.Create(""))
	require.NoError(t, err)
	return NewExecutionContext(ContextConfig{
		Key:       "k",
		Mailbox:   NewMailbox("k"),
		Evaluator: stub,
		Schema:    &core.Schema{ID: "stub"},
		Provider:  provider,
		Snapshot:  snap,
		Callbacks: cb,
	})
}

func startJob(typ string, n int) Job {
	return StartIntent(snapshot.Intent{Type: typ, IntentID: fmt.Sprintf("%s-%d", typ, n)})
}
