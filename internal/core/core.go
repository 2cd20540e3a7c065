package core

import (
	"github.com/roach88/intenthost/internal/snapshot"
)

// HostContext carries the deterministic inputs for one evaluation step.
// It is built once per Job so a whole Job observes one frozen timestamp.
type HostContext struct {
	Now        int64
	RandomSeed string
	Env        map[string]string
}

// ComputeStatus is the outcome of one Compute step.
type ComputeStatus string

const (
	// ComputeComplete means the flow ran to its end (or halted) with no
	// outstanding requirements.
	ComputeComplete ComputeStatus = "complete"
	// ComputePending means the flow stopped at an effect requirement.
	ComputePending ComputeStatus = "pending"
	// ComputeHalted means the flow stopped at an explicit halt step.
	ComputeHalted ComputeStatus = "halted"
	// ComputeError means the flow failed; system.lastError holds the reason.
	ComputeError ComputeStatus = "error"
)

// ComputeResult is returned by Evaluator.Compute.
type ComputeResult struct {
	Snapshot *snapshot.Snapshot
	Status   ComputeStatus
}

// SystemDelta describes a change to the system partition that the host
// needs but is not allowed to write itself.
type SystemDelta struct {
	RemoveRequirementIDs []string
	AddErrors            []snapshot.ErrorValue
}

// Evaluator is the pure evaluation component consumed by the host.
//
// Implementations must not mutate the snapshot they are given. Every method
// returns a new snapshot.
type Evaluator interface {
	// CreateSnapshot builds a version-0 snapshot with computed values
	// evaluated eagerly.
	CreateSnapshot(schema *Schema, data map[string]any, hctx HostContext) (*snapshot.Snapshot, error)

	// Apply applies data patches and re-evaluates computed values.
	Apply(schema *Schema, snap *snapshot.Snapshot, patches []snapshot.Patch, hctx HostContext) (*snapshot.Snapshot, error)

	// ApplySystemDelta is the only way the host can change system.*.
	ApplySystemDelta(schema *Schema, snap *snapshot.Snapshot, delta SystemDelta, hctx HostContext) (*snapshot.Snapshot, error)

	// Compute runs one evaluation step for intent against snap.
	Compute(schema *Schema, snap *snapshot.Snapshot, intent snapshot.Intent, hctx HostContext) (*ComputeResult, error)

	// EvaluateComputed evaluates computed fields against snap.
	EvaluateComputed(schema *Schema, snap *snapshot.Snapshot) (map[string]any, error)

	// Validate checks a schema without evaluating anything.
	Validate(schema *Schema) error
}
