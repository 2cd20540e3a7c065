package testutil

import (
	"fmt"
	"sync"
)

// DefaultSeedPrefix is used when NewDeterministicRuntime gets an empty prefix.
const DefaultSeedPrefix = "seed"

// DeterministicRuntime is a replayable host runtime: time comes from a
// DeterministicClock and seeds are derived from the intent id.
//
// Two runtimes with the same start, step and prefix produce identical
// readings for the same call sequence.
type DeterministicRuntime struct {
	clock  *DeterministicClock
	prefix string
}

// NewDeterministicRuntime creates a runtime with a clock starting at 0 and
// advancing by 1 per reading.
func NewDeterministicRuntime(seedPrefix string) *DeterministicRuntime {
	return NewDeterministicRuntimeWithClock(seedPrefix, NewDeterministicClock())
}

// NewDeterministicRuntimeWithClock creates a runtime over clock.
func NewDeterministicRuntimeWithClock(seedPrefix string, clock *DeterministicClock) *DeterministicRuntime {
	if seedPrefix == "" {
		seedPrefix = DefaultSeedPrefix
	}
	return &DeterministicRuntime{clock: clock, prefix: seedPrefix}
}

// Now advances the logical clock.
func (r *DeterministicRuntime) Now() int64 {
	return r.clock.Next()
}

// RandomSeed returns "<prefix>:<intentID>".
func (r *DeterministicRuntime) RandomSeed(intentID string) string {
	return fmt.Sprintf("%s:%s", r.prefix, intentID)
}

// Clock returns the underlying clock.
func (r *DeterministicRuntime) Clock() *DeterministicClock {
	return r.clock
}

// Reset rewinds the clock.
func (r *DeterministicRuntime) Reset() {
	r.clock.Reset()
}

// SequentialIDs hands out "<prefix>-1", "<prefix>-2", ... for intents that
// arrive without an id.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator. An empty prefix means "intent".
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "intent"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next id.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}
