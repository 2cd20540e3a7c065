package host

import "sync/atomic"

// TraceKind names a trace event.
type TraceKind string

const (
	TraceRunnerKick    TraceKind = "runner:kick"
	TraceLoopIteration TraceKind = "loop:iteration"
	TraceJobStart      TraceKind = "job:start"
	TraceJobEnd        TraceKind = "job:end"
	TraceCompute       TraceKind = "compute"
	TraceEffectRequest TraceKind = "effect:request"
	TraceEffectSkip    TraceKind = "effect:skip"
	TraceEffectResult  TraceKind = "effect:result"
	TraceEffectStale   TraceKind = "effect:stale"
	TraceFatal         TraceKind = "fatal"
)

// TraceEvent is one observation emitted during a dispatch.
//
// Seq comes from the Host's logical clock, so events of one Host are totally
// ordered even when they originate from effect goroutines.
type TraceEvent struct {
	Seq           int64             `json:"seq"`
	Kind          TraceKind         `json:"kind"`
	Key           string            `json:"key"`
	IntentID      string            `json:"intentId,omitempty"`
	RequirementID string            `json:"requirementId,omitempty"`
	EffectType    string            `json:"effectType,omitempty"`
	Iteration     int               `json:"iteration,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// Clock is a monotonic logical clock for trace ordering.
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
