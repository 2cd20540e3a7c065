package host

import (
	"maps"
	"time"

	"github.com/roach88/intenthost/internal/core"
)

// Runtime supplies time and randomness. Swapping it for a deterministic
// implementation makes dispatches replayable.
type Runtime interface {
	// Now returns the current time in milliseconds.
	Now() int64
	// RandomSeed returns the seed for evaluation steps of intentID.
	RandomSeed(intentID string) string
}

// SystemRuntime uses the wall clock and seeds with the intent id.
type SystemRuntime struct{}

// Now returns wall-clock milliseconds.
func (SystemRuntime) Now() int64 {
	return time.Now().UnixMilli()
}

// RandomSeed returns intentID.
func (SystemRuntime) RandomSeed(intentID string) string {
	return intentID
}

// ContextProvider builds the HostContext handed to the evaluator.
// It is read-only after construction and shared by all keys.
type ContextProvider struct {
	runtime Runtime
	env     map[string]string
}

// NewContextProvider creates a provider. A nil runtime means SystemRuntime.
func NewContextProvider(rt Runtime, env map[string]string) *ContextProvider {
	if rt == nil {
		rt = SystemRuntime{}
	}
	return &ContextProvider{runtime: rt, env: maps.Clone(env)}
}

// Create builds the frozen context for one Job of intentID.
func (p *ContextProvider) Create(intentID string) core.HostContext {
	return core.HostContext{
		Now:        p.runtime.Now(),
		RandomSeed: p.runtime.RandomSeed(intentID),
		Env:        maps.Clone(p.env),
	}
}

// Runtime returns the underlying runtime.
func (p *ContextProvider) Runtime() Runtime {
	return p.runtime
}
