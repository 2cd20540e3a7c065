package host

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/intenthost/internal/core"
	"github.com/roach88/intenthost/internal/snapshot"
)

// intentSlotsPath is where intent slots live inside data.
const intentSlotsPath = snapshot.HostNamespace + ".intentSlots"

// lastFatalPath is where the best-effort fatal record lives inside data.
const lastFatalPath = snapshot.HostNamespace + ".lastFatal"

// EffectRequest is signalled once per pending requirement after a compute.
type EffectRequest struct {
	Key         string
	IntentID    string
	Requirement snapshot.Requirement
	Intent      snapshot.Intent
}

// ContextCallbacks connect an ExecutionContext to its owner. Any field may
// be nil.
type ContextCallbacks struct {
	OnEffectRequest func(EffectRequest)
	OnFatalError    func(key, intentID string, err *HostError)
	OnTrace         func(TraceEvent)
}

// ContextConfig holds everything an ExecutionContext needs.
type ContextConfig struct {
	Key       string
	Mailbox   *Mailbox
	Evaluator core.Evaluator
	Schema    *core.Schema
	Provider  *ContextProvider
	Snapshot  *snapshot.Snapshot
	Callbacks ContextCallbacks
	Logger    *slog.Logger
}

// ExecutionContext is the single mutable handle to one key's working
// snapshot. Jobs read and replace the snapshot only through it.
//
// Thread-safety: accessors are safe from any goroutine. Execute must only be
// called by the Runner, which guarantees one Job at a time per key.
type ExecutionContext struct {
	key       string
	mailbox   *Mailbox
	evaluator core.Evaluator
	schema    *core.Schema
	provider  *ContextProvider
	callbacks ContextCallbacks
	logger    *slog.Logger

	mu              sync.Mutex
	snap            *snapshot.Snapshot
	currentIntentID string
	fatal           *HostError
}

// NewExecutionContext creates a context. cfg.Snapshot is cloned.
func NewExecutionContext(cfg ContextConfig) *ExecutionContext {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecutionContext{
		key:       cfg.Key,
		mailbox:   cfg.Mailbox,
		evaluator: cfg.Evaluator,
		schema:    cfg.Schema,
		provider:  cfg.Provider,
		callbacks: cfg.Callbacks,
		logger:    logger,
		snap:      cfg.Snapshot.Clone(),
	}
}

// Key returns the execution key.
func (ec *ExecutionContext) Key() string {
	return ec.key
}

// Mailbox returns the context's mailbox.
func (ec *ExecutionContext) Mailbox() *Mailbox {
	return ec.mailbox
}

// Snapshot returns a deep copy of the working snapshot.
func (ec *ExecutionContext) Snapshot() *snapshot.Snapshot {
	return ec.current().Clone()
}

func (ec *ExecutionContext) current() *snapshot.Snapshot {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.snap
}

func (ec *ExecutionContext) setSnapshot(s *snapshot.Snapshot) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.snap = s
}

// SetCurrentIntentID records the intent whose Job is running.
func (ec *ExecutionContext) SetCurrentIntentID(id string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.currentIntentID = id
}

// CurrentIntentID returns the intent of the last Job that ran.
func (ec *ExecutionContext) CurrentIntentID() string {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.currentIntentID
}

// IntentSlot recovers the intent recorded for intentID under
// data.$host.intentSlots.
func (ec *ExecutionContext) IntentSlot(intentID string) (snapshot.Intent, bool) {
	return intentSlot(ec.current(), intentID)
}

func intentSlot(s *snapshot.Snapshot, intentID string) (snapshot.Intent, bool) {
	if s == nil {
		return snapshot.Intent{}, false
	}
	slots, ok := snapshot.GetPath(s.Data, intentSlotsPath)
	if !ok {
		return snapshot.Intent{}, false
	}
	table, ok := slots.(map[string]any)
	if !ok {
		return snapshot.Intent{}, false
	}
	slot, ok := table[intentID].(map[string]any)
	if !ok {
		return snapshot.Intent{}, false
	}
	typ, _ := slot["type"].(string)
	if typ == "" {
		return snapshot.Intent{}, false
	}
	return snapshot.Intent{
		Type:     typ,
		Input:    snapshot.DeepCopy(slot["input"]),
		IntentID: intentID,
	}, true
}

// Fatal returns the error that terminated this context, or nil.
func (ec *ExecutionContext) Fatal() *HostError {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.fatal
}

// Execute runs one Job to completion. A returned error is fatal for the key.
func (ec *ExecutionContext) Execute(job Job) error {
	switch job.Kind {
	case JobStartIntent:
		return ec.startIntent(job)
	case JobFulfillEffect:
		return ec.fulfillEffect(job)
	default:
		return fmt.Errorf("unknown job kind %d", job.Kind)
	}
}

func (ec *ExecutionContext) startIntent(job Job) error {
	if job.Intent == nil {
		return fmt.Errorf("start intent job without intent")
	}
	intent := *job.Intent
	ec.SetCurrentIntentID(intent.IntentID)
	hctx := ec.provider.Create(intent.IntentID)

	slot := map[string]any{
		intent.IntentID: map[string]any{
			"type":  intent.Type,
			"input": intent.Input,
		},
	}
	next, err := ec.evaluator.Apply(ec.schema, ec.current(), []snapshot.Patch{snapshot.Merge(intentSlotsPath, slot)}, hctx)
	if err != nil {
		return fmt.Errorf("record intent slot: %w", err)
	}
	return ec.compute(next, intent, hctx)
}

func (ec *ExecutionContext) fulfillEffect(job Job) error {
	cur := ec.current()
	req, ok := cur.FindRequirement(job.RequirementID)
	if !ok {
		ec.emit(TraceEvent{
			Kind:          TraceEffectStale,
			IntentID:      job.IntentID,
			RequirementID: job.RequirementID,
		})
		ec.logger.Debug("dropping stale effect result",
			"key", ec.key,
			"intent_id", job.IntentID,
			"requirement_id", job.RequirementID,
		)
		return nil
	}

	ec.SetCurrentIntentID(job.IntentID)
	hctx := ec.provider.Create(job.IntentID)

	next := cur
	errValue := job.Err
	if len(job.Patches) > 0 {
		applied, err := ec.evaluator.Apply(ec.schema, cur, job.Patches, hctx)
		if err != nil {
			// Bad handler output is an effect error, not an engine failure.
			errValue = &snapshot.ErrorValue{
				Code:          string(ErrCodeInvalidEffectPatch),
				Message:       err.Error(),
				Source:        req.Type,
				RequirementID: req.ID,
			}
		} else {
			next = applied
		}
	}

	delta := core.SystemDelta{RemoveRequirementIDs: []string{req.ID}}
	if errValue != nil {
		delta.AddErrors = []snapshot.ErrorValue{errValue.Clone()}
	}
	next, err := ec.evaluator.ApplySystemDelta(ec.schema, next, delta, hctx)
	if err != nil {
		return fmt.Errorf("clear requirement %s: %w", req.ID, err)
	}

	var intent snapshot.Intent
	if job.Intent != nil {
		intent = *job.Intent
	} else if intent, ok = intentSlot(next, job.IntentID); !ok {
		return fmt.Errorf("no intent slot for intent %s", job.IntentID)
	}
	return ec.compute(next, intent, hctx)
}

// compute runs one evaluation step, publishes the result to the context and
// signals every pending requirement.
func (ec *ExecutionContext) compute(base *snapshot.Snapshot, intent snapshot.Intent, hctx core.HostContext) error {
	res, err := ec.evaluator.Compute(ec.schema, base, intent, hctx)
	if err != nil {
		return fmt.Errorf("compute %s: %w", intent.Type, err)
	}
	if res == nil || res.Snapshot == nil {
		return fmt.Errorf("compute %s: evaluator returned no snapshot", intent.Type)
	}
	next := res.Snapshot
	ec.setSnapshot(next)

	ec.emit(TraceEvent{
		Kind:     TraceCompute,
		IntentID: intent.IntentID,
		Details: map[string]string{
			"action":  intent.Type,
			"status":  string(res.Status),
			"pending": fmt.Sprintf("%d", len(next.System.PendingRequirements)),
		},
	})

	if ec.callbacks.OnEffectRequest == nil {
		return nil
	}
	for _, req := range next.System.PendingRequirements {
		ec.callbacks.OnEffectRequest(EffectRequest{
			Key:         ec.key,
			IntentID:    intent.IntentID,
			Requirement: req.Clone(),
			Intent:      intent,
		})
	}
	return nil
}

// HandleFatal is the fatal-error path for a failed Job. It records the
// error, writes data.$host.lastFatal, and notifies the owner. The caller
// clears the mailbox.
func (ec *ExecutionContext) HandleFatal(intentID string, err error) *HostError {
	herr := NewFatalError(intentID, err)
	if !ec.Abort(herr) {
		return ec.Fatal()
	}
	ec.logger.Error("fatal job error",
		"key", ec.key,
		"intent_id", intentID,
		"error", err,
	)
	if ec.callbacks.OnFatalError != nil {
		ec.callbacks.OnFatalError(ec.key, intentID, herr)
	}
	return herr
}

// Abort terminates the context with herr. It reports false if the context
// was already terminated. Pending requirements are cleared and a fatal
// record is written, both best-effort.
func (ec *ExecutionContext) Abort(herr *HostError) bool {
	ec.mu.Lock()
	if ec.fatal != nil {
		ec.mu.Unlock()
		return false
	}
	ec.fatal = herr
	ec.mu.Unlock()

	ec.mailbox.Clear()
	ec.recordFatal(herr)
	return true
}

func (ec *ExecutionContext) recordFatal(herr *HostError) {
	defer func() {
		if p := recover(); p != nil {
			ec.logger.Warn("could not record fatal error", "key", ec.key, "panic", p)
		}
	}()

	hctx := ec.provider.Create(herr.IntentID)
	record := map[string]any{
		"code":     string(herr.Code),
		"message":  herr.Message,
		"intentId": herr.IntentID,
	}
	next, err := ec.evaluator.Apply(ec.schema, ec.current(), []snapshot.Patch{snapshot.Set(lastFatalPath, record)}, hctx)
	if err != nil {
		ec.logger.Warn("could not record fatal error", "key", ec.key, "error", err)
		return
	}

	if n := len(next.System.PendingRequirements); n > 0 {
		ids := make([]string, 0, n)
		for _, r := range next.System.PendingRequirements {
			ids = append(ids, r.ID)
		}
		cleared, err := ec.evaluator.ApplySystemDelta(ec.schema, next, core.SystemDelta{RemoveRequirementIDs: ids}, hctx)
		if err != nil {
			ec.logger.Warn("could not clear pending requirements", "key", ec.key, "error", err)
		} else {
			next = cleared
		}
	}
	ec.setSnapshot(next)
}

func (ec *ExecutionContext) emit(ev TraceEvent) {
	if ec.callbacks.OnTrace == nil {
		return
	}
	ev.Key = ec.key
	ec.callbacks.OnTrace(ev)
}
