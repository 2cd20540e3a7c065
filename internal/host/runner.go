package host

import (
	"fmt"
	"sync"
)

// RunnerState tracks which keys are being drained.
//
// ProcessMailbox is single-flight per key: a call that finds a drain already
// active only marks the key for a rerun and returns. The active drain checks
// that mark, and the mailbox, before it releases the key, so a Job enqueued
// mid-drain is never stranded.
type RunnerState struct {
	mu     sync.Mutex
	active map[string]bool
	rerun  map[string]bool
}

// NewRunnerState creates an idle runner.
func NewRunnerState() *RunnerState {
	return &RunnerState{
		active: make(map[string]bool),
		rerun:  make(map[string]bool),
	}
}

// IsActive reports whether a drain is running for key.
func (r *RunnerState) IsActive(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[key]
}

// ProcessMailbox drains ec's mailbox to completion and returns the number of
// Jobs it executed. It returns 0 immediately if another drain owns the key.
// Job failures, including panics, go to ec.HandleFatal; ProcessMailbox itself
// never panics.
func (r *RunnerState) ProcessMailbox(ec *ExecutionContext) int {
	key := ec.Key()
	if !r.acquire(key) {
		return 0
	}

	processed := 0
	for {
		processed += r.drain(ec)
		if !r.releaseOrContinue(ec) {
			return processed
		}
	}
}

func (r *RunnerState) acquire(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active[key] {
		r.rerun[key] = true
		return false
	}
	r.active[key] = true
	return true
}

// releaseOrContinue releases the key unless more work arrived.
func (r *RunnerState) releaseOrContinue(ec *ExecutionContext) bool {
	key := ec.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	rerun := r.rerun[key]
	delete(r.rerun, key)
	if ec.Fatal() == nil && (rerun || !ec.Mailbox().IsEmpty()) {
		return true
	}
	delete(r.active, key)
	return false
}

func (r *RunnerState) drain(ec *ExecutionContext) int {
	n := 0
	for {
		if ec.Fatal() != nil {
			ec.Mailbox().Clear()
			return n
		}
		job, ok := ec.Mailbox().Dequeue()
		if !ok {
			return n
		}
		r.runJob(ec, job)
		n++
	}
}

func (r *RunnerState) runJob(ec *ExecutionContext, job Job) {
	ec.emit(TraceEvent{
		Kind:          TraceJobStart,
		IntentID:      job.IntentID,
		RequirementID: job.RequirementID,
		Details:       map[string]string{"job": job.Kind.String()},
	})

	if err := executeJob(ec, job); err != nil {
		ec.HandleFatal(job.IntentID, err)
		ec.Mailbox().Clear()
	}

	ec.emit(TraceEvent{
		Kind:          TraceJobEnd,
		IntentID:      job.IntentID,
		RequirementID: job.RequirementID,
		Details:       map[string]string{"job": job.Kind.String()},
	})
}

func executeJob(ec *ExecutionContext, job Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s job panicked: %v", job.Kind, p)
		}
	}()
	return ec.Execute(job)
}
