package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/snapshot"
)

// DefaultMaxIterations bounds the dispatch loop when WithMaxIterations is
// not given.
const DefaultMaxIterations = 100

const tracerName = "github.com/roach88/intenthost/internal/host"

// ResultStatus is the terminal status of a dispatch.
type ResultStatus string

const (
	ResultComplete ResultStatus = "complete"
	ResultPending  ResultStatus = "pending"
	ResultError    ResultStatus = "error"
)

// HostResult is produced exactly once per Dispatch.
type HostResult struct {
	Status   ResultStatus
	Snapshot *snapshot.Snapshot
	Traces   []TraceEvent
	Error    *HostError
}

// Host orchestrates dispatches: it owns the effect registry, creates one
// execution context per key and drives the enqueue, drain, await loop.
//
// Thread-safety: all exported methods are safe for concurrent use.
// Dispatches for different intent ids run independently. Each starts from
// the snapshot published when it began and publishes its own result, so
// concurrent dispatches that must compose should be serialized by the
// caller.
type Host struct {
	evaluator core.Evaluator
	schema    *core.Schema
	registry  *EffectRegistry
	executor  *EffectExecutor
	provider  *ContextProvider
	mailboxes *MailboxManager
	runner    *RunnerState
	clock     *Clock

	maxIterations     int
	disableAutoEffect bool
	onTrace           func(TraceEvent)
	logger            *slog.Logger
	tracer            trace.Tracer
	runtime           Runtime
	env               map[string]string
	initialData       map[string]any

	traceMu sync.Mutex

	mu         sync.Mutex
	published  *snapshot.Snapshot
	executions map[string]*execution
}

// execution is the Host's bookkeeping for one live key.
type execution struct {
	ctx      context.Context
	ec       *ExecutionContext
	inflight *inflightEffect
	traces   []TraceEvent
}

// inflightEffect owns a key's effect slot until its handler returns.
type inflightEffect struct {
	requirementID string
	done          chan struct{}
}

// Option configures a Host.
type Option func(*Host)

// WithMaxIterations bounds the number of drains per dispatch.
func WithMaxIterations(n int) Option {
	return func(h *Host) {
		h.maxIterations = n
	}
}

// WithRuntime sets the clock and seed source. Default: SystemRuntime.
func WithRuntime(rt Runtime) Option {
	return func(h *Host) {
		h.runtime = rt
	}
}

// WithEnv sets the environment visible to the evaluator.
func WithEnv(env map[string]string) Option {
	return func(h *Host) {
		h.env = maps.Clone(env)
	}
}

// WithOnTrace installs a trace callback. Calls are serialized and must not
// call back into the Host.
func WithOnTrace(fn func(TraceEvent)) Option {
	return func(h *Host) {
		h.onTrace = fn
	}
}

// WithDisableAutoEffect surfaces requirements without executing them.
// Results must then be supplied with InjectEffectResult.
func WithDisableAutoEffect(disable bool) Option {
	return func(h *Host) {
		h.disableAutoEffect = disable
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) {
		h.logger = l
	}
}

// WithInitialData publishes an initial snapshot built from data.
func WithInitialData(data map[string]any) Option {
	return func(h *Host) {
		h.initialData = snapshot.CopyMap(data)
	}
}

// WithTracer sets the OpenTelemetry tracer for dispatch spans.
func WithTracer(t trace.Tracer) Option {
	return func(h *Host) {
		h.tracer = t
	}
}

// New creates a Host for schema. The schema is validated by the evaluator.
func New(evaluator core.Evaluator, schema *core.Schema, opts ...Option) (*Host, error) {
	if evaluator == nil {
		return nil, errors.New("host: nil evaluator")
	}
	if schema == nil {
		return nil, errors.New("host: nil schema")
	}

	h := &Host{
		evaluator:     evaluator,
		schema:        schema,
		registry:      NewEffectRegistry(),
		mailboxes:     NewMailboxManager(),
		runner:        NewRunnerState(),
		clock:         NewClock(),
		maxIterations: DefaultMaxIterations,
		executions:    make(map[string]*execution),
	}
	for _, opt := range opts {
		opt(h)
	}

	if h.maxIterations < 1 {
		return nil, fmt.Errorf("host: maxIterations must be positive, got %d", h.maxIterations)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	if err := evaluator.Validate(schema); err != nil {
		return nil, fmt.Errorf("host: invalid schema: %w", err)
	}

	h.provider = NewContextProvider(h.runtime, h.env)
	h.executor = NewEffectExecutor(h.registry, h.logger)

	if h.initialData != nil {
		if err := h.Reset(h.initialData); err != nil {
			return nil, err
		}
	}
	return h, nil
}

// RegisterEffect installs a handler for effectType.
func (h *Host) RegisterEffect(effectType string, handler EffectHandler, opts ...EffectOptions) error {
	return h.registry.Register(effectType, handler, opts...)
}

// UnregisterEffect removes the handler for effectType.
func (h *Host) UnregisterEffect(effectType string) bool {
	return h.registry.Unregister(effectType)
}

// HasEffect reports whether effectType has a handler.
func (h *Host) HasEffect(effectType string) bool {
	return h.registry.Has(effectType)
}

// EffectTypes returns the registered effect types, sorted.
func (h *Host) EffectTypes() []string {
	return h.registry.Types()
}

// GetSnapshot returns a deep copy of the published snapshot, or nil before
// initialization.
func (h *Host) GetSnapshot() *snapshot.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published.Clone()
}

// GetSchema returns the schema. Callers must not mutate it.
func (h *Host) GetSchema() *core.Schema {
	return h.schema
}

// GetCore returns the evaluator.
func (h *Host) GetCore() core.Evaluator {
	return h.evaluator
}

// ValidateSchema re-validates the schema with the evaluator.
func (h *Host) ValidateSchema() error {
	return h.evaluator.Validate(h.schema)
}

// Reset replaces the published snapshot with a fresh one built from
// initialData. Computed values are evaluated eagerly.
func (h *Host) Reset(initialData map[string]any) error {
	snap, err := h.evaluator.CreateSnapshot(h.schema, initialData, h.provider.Create(""))
	if err != nil {
		return fmt.Errorf("host: reset: %w", err)
	}
	h.publish(snap)
	return nil
}

func (h *Host) publish(s *snapshot.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.published = s
}

// Dispatch runs intent to a terminal state. It never returns a Go error:
// every failure is reported in HostResult.Error. ctx is handed to effect
// handlers; cancelling it ends the dispatch with DISPATCH_CANCELLED while an
// effect is outstanding.
func (h *Host) Dispatch(ctx context.Context, intent snapshot.Intent) *HostResult {
	ctx, span := h.tracer.Start(ctx, "host.dispatch",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("intent.id", intent.IntentID),
			attribute.String("intent.type", intent.Type),
		),
	)
	defer span.End()

	res := h.dispatch(ctx, intent)

	span.SetAttributes(attribute.String("host.status", string(res.Status)))
	if res.Error != nil {
		span.RecordError(res.Error)
		span.SetStatus(codes.Error, string(res.Error.Code))
	}
	return res
}

func (h *Host) dispatch(ctx context.Context, intent snapshot.Intent) *HostResult {
	if intent.IntentID == "" {
		return h.rejected(newHostError(ErrCodeInvalidState, "", "intent %q has no intentId", intent.Type))
	}
	key := intent.IntentID

	h.mu.Lock()
	base := h.published
	h.mu.Unlock()
	if base == nil {
		return h.rejected(newHostError(ErrCodeHostNotInitialized, key, "no snapshot published; call Reset or use WithInitialData"))
	}

	exe, herr := h.open(ctx, key, base)
	if herr != nil {
		return h.rejected(herr)
	}
	defer h.dispose(key)

	h.logger.Debug("dispatch started", "intent_id", key, "type", intent.Type)
	h.enqueue(exe.ec, StartIntent(intent))

	herr = h.loop(ctx, exe)

	final := exe.ec.current()
	h.publish(final)

	res := h.assemble(key, final, herr)
	h.logger.Debug("dispatch finished",
		"intent_id", key,
		"status", res.Status,
		"version", final.Meta.Version,
	)
	return res
}

// loop drains, awaits the in-flight effect, and repeats until the key is
// settled or the budget runs out.
func (h *Host) loop(ctx context.Context, exe *execution) *HostError {
	ec := exe.ec
	key := ec.Key()
	budget := NewIterationBudget(h.maxIterations)

	for {
		if err := budget.Spend(key); err != nil {
			return h.abort(ec, NewLoopBoundError(key, budget.Current(), budget.Limit()))
		}
		h.emit(key, TraceEvent{Kind: TraceLoopIteration, IntentID: key, Iteration: budget.Current()})
		h.runner.ProcessMailbox(ec)

		if f := ec.Fatal(); f != nil {
			return f
		}

		wait := h.inflightDone(key)
		if wait == nil && ec.Mailbox().IsEmpty() {
			return nil
		}
		if budget.Exhausted() {
			return h.abort(ec, NewLoopBoundError(key, budget.Current(), budget.Limit()))
		}
		if wait == nil {
			continue
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return h.abort(ec, newHostError(ErrCodeDispatchCancelled, key, "dispatch cancelled while awaiting effect: %v", ctx.Err()))
		}
	}
}

func (h *Host) abort(ec *ExecutionContext, herr *HostError) *HostError {
	ec.Abort(herr)
	h.emit(ec.Key(), TraceEvent{
		Kind:     TraceFatal,
		IntentID: herr.IntentID,
		Details:  map[string]string{"code": string(herr.Code)},
	})
	h.logger.Warn("dispatch aborted", "intent_id", herr.IntentID, "code", herr.Code, "error", herr.Message)
	return ec.Fatal()
}

func (h *Host) assemble(key string, final *snapshot.Snapshot, herr *HostError) *HostResult {
	res := &HostResult{
		Snapshot: final.Clone(),
		Traces:   h.tracesOf(key),
	}
	switch {
	case herr != nil:
		res.Status = ResultError
		res.Error = herr
	case final.System.Status == snapshot.StatusError:
		res.Status = ResultError
		res.Error = newHostError(ErrCodeEvaluatorError, key, "evaluator ended in error state")
		if le := final.System.LastError; le != nil {
			res.Error.Code = ErrorCode(le.Code)
			res.Error.Message = le.Message
		}
	case final.System.Status == snapshot.StatusPending:
		res.Status = ResultPending
	default:
		res.Status = ResultComplete
	}
	return res
}

// rejected builds the result for a dispatch that never got a context.
func (h *Host) rejected(herr *HostError) *HostResult {
	h.logger.Warn("dispatch rejected", "code", herr.Code, "error", herr.Message)
	return &HostResult{
		Status:   ResultError,
		Snapshot: h.GetSnapshot(),
		Traces:   []TraceEvent{},
		Error:    herr,
	}
}

// open creates the mailbox and execution context for key.
func (h *Host) open(ctx context.Context, key string, base *snapshot.Snapshot) (*execution, *HostError) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, live := h.executions[key]; live {
		return nil, newHostError(ErrCodeInvalidState, key, "execution key %q is already active", key)
	}
	mb := h.mailboxes.GetOrCreate(key)
	ec := NewExecutionContext(ContextConfig{
		Key:       key,
		Mailbox:   mb,
		Evaluator: h.evaluator,
		Schema:    h.schema,
		Provider:  h.provider,
		Snapshot:  base,
		Logger:    h.logger,
		Callbacks: ContextCallbacks{
			OnEffectRequest: h.requestEffect,
			OnFatalError:    h.fatalError,
			OnTrace:         func(ev TraceEvent) { h.emit(key, ev) },
		},
	})
	exe := &execution{ctx: ctx, ec: ec, traces: []TraceEvent{}}
	h.executions[key] = exe
	return exe, nil
}

// dispose forgets key. An orphaned handler that finishes later finds the
// mailbox closed.
func (h *Host) dispose(key string) {
	h.mu.Lock()
	delete(h.executions, key)
	h.mu.Unlock()
	h.mailboxes.Delete(key)
}

func (h *Host) lookup(key string) (*execution, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	exe, ok := h.executions[key]
	return exe, ok
}

func (h *Host) enqueue(ec *ExecutionContext, job Job) bool {
	wasEmpty, err := ec.Mailbox().Enqueue(job)
	if err != nil {
		h.logger.Debug("enqueue after dispose", "key", ec.Key(), "job", job.Kind.String())
		return false
	}
	if wasEmpty {
		h.emit(ec.Key(), TraceEvent{
			Kind:          TraceRunnerKick,
			IntentID:      job.IntentID,
			RequirementID: job.RequirementID,
			Details:       map[string]string{"job": job.Kind.String()},
		})
	}
	return true
}

// requestEffect starts the effect for req unless the key's effect slot is
// taken.
func (h *Host) requestEffect(req EffectRequest) {
	h.emit(req.Key, TraceEvent{
		Kind:          TraceEffectRequest,
		IntentID:      req.IntentID,
		RequirementID: req.Requirement.ID,
		EffectType:    req.Requirement.Type,
	})
	if h.disableAutoEffect {
		return
	}

	h.mu.Lock()
	exe, ok := h.executions[req.Key]
	if !ok {
		h.mu.Unlock()
		return
	}
	if exe.inflight != nil {
		busy := exe.inflight.requirementID
		h.mu.Unlock()
		h.emit(req.Key, TraceEvent{
			Kind:          TraceEffectSkip,
			IntentID:      req.IntentID,
			RequirementID: req.Requirement.ID,
			EffectType:    req.Requirement.Type,
			Details:       map[string]string{"inflight": busy},
		})
		h.logger.Debug("effect already in flight",
			"key", req.Key,
			"requirement_id", req.Requirement.ID,
			"inflight", busy,
		)
		return
	}
	fl := &inflightEffect{requirementID: req.Requirement.ID, done: make(chan struct{})}
	exe.inflight = fl
	h.mu.Unlock()

	go h.runEffect(exe, fl, req, exe.ec.Snapshot())
}

// runEffect executes one handler, then enqueues its FulfillEffect Job and
// releases the effect slot in one step under h.mu. The dispatch loop reads
// both under the same lock, so it never sees an empty slot with the Job
// still missing, and a re-request made while draining that Job always finds
// the slot free.
func (h *Host) runEffect(exe *execution, fl *inflightEffect, req EffectRequest, snap *snapshot.Snapshot) {
	defer close(fl.done)

	res := h.executor.Execute(exe.ctx, req.Requirement, snap)

	details := map[string]string{"success": fmt.Sprintf("%t", res.Success)}
	if !res.Success {
		details["code"] = string(res.ErrorCode)
	}
	h.emit(req.Key, TraceEvent{
		Kind:          TraceEffectResult,
		IntentID:      req.IntentID,
		RequirementID: req.Requirement.ID,
		EffectType:    req.Requirement.Type,
		Details:       details,
	})

	intent := req.Intent
	// Timestamp zero lets the evaluator stamp the error with the Job's clock.
	job := FulfillEffect(req.IntentID, req.Requirement.ID, res.Patches, &intent, res.ErrorValue(req.Requirement, 0))

	// Holding traceMu keeps the kick ahead of the Job's own trace events.
	h.traceMu.Lock()
	defer h.traceMu.Unlock()

	h.mu.Lock()
	wasEmpty, err := exe.ec.Mailbox().Enqueue(job)
	if exe.inflight == fl {
		exe.inflight = nil
	}
	h.mu.Unlock()

	if err != nil {
		h.logger.Debug("effect finished after dispose",
			"key", req.Key,
			"requirement_id", req.Requirement.ID,
		)
		return
	}
	if wasEmpty {
		h.emitLocked(req.Key, TraceEvent{
			Kind:          TraceRunnerKick,
			IntentID:      req.IntentID,
			RequirementID: req.Requirement.ID,
			Details:       map[string]string{"job": JobFulfillEffect.String()},
		})
	}
}

func (h *Host) inflightDone(key string) <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	exe, ok := h.executions[key]
	if !ok || exe.inflight == nil {
		return nil
	}
	return exe.inflight.done
}

func (h *Host) fatalError(key, intentID string, herr *HostError) {
	h.emit(key, TraceEvent{
		Kind:     TraceFatal,
		IntentID: intentID,
		Details:  map[string]string{"code": string(herr.Code), "message": herr.Message},
	})
}

// emit stamps ev, records it for the key's result and forwards it to
// onTrace.
func (h *Host) emit(key string, ev TraceEvent) {
	h.traceMu.Lock()
	defer h.traceMu.Unlock()
	h.emitLocked(key, ev)
}

// emitLocked is emit for callers already holding traceMu.
func (h *Host) emitLocked(key string, ev TraceEvent) {
	ev.Seq = h.clock.Next()
	ev.Key = key

	h.mu.Lock()
	if exe, ok := h.executions[key]; ok {
		exe.traces = append(exe.traces, ev)
	}
	h.mu.Unlock()

	if h.onTrace != nil {
		h.onTrace(ev)
	}
}

func (h *Host) tracesOf(key string) []TraceEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	exe, ok := h.executions[key]
	if !ok {
		return []TraceEvent{}
	}
	out := make([]TraceEvent, len(exe.traces))
	copy(out, exe.traces)
	return out
}
