package scenario

import (
	"fmt"
	"sort"

	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/snapshot"
)

// countedKinds are the trace kinds whose counts are stable across runs.
// Kicks, loop iterations and job ends depend on when effect goroutines
// finish relative to the drain.
var countedKinds = []host.TraceKind{
	host.TraceJobStart,
	host.TraceCompute,
	host.TraceEffectRequest,
	host.TraceEffectResult,
	host.TraceEffectStale,
	host.TraceFatal,
}

// Outcome is the observable result of one dispatch.
type Outcome struct {
	IntentID     string         `json:"intentId"`
	Type         string         `json:"type"`
	Status       string         `json:"status"`
	ErrorCode    string         `json:"errorCode,omitempty"`
	Data         map[string]any `json:"data"`
	Errors       []string       `json:"errors,omitempty"`
	SnapshotHash string         `json:"snapshotHash,omitempty"`
	TraceCounts  map[string]int `json:"traceCounts"`
}

// Result is the outcome of a whole scenario run.
type Result struct {
	Name string `json:"name"`

	// Pass is true when every expectation and assertion held.
	Pass     bool      `json:"pass"`
	Outcomes []Outcome `json:"outcomes"`

	// Trace is every dispatch's trace, concatenated in dispatch order.
	Trace     []host.TraceEvent `json:"-"`
	FinalData map[string]any    `json:"finalData"`
	Errors    []string          `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult(name string) *Result {
	return &Result{
		Name:     name,
		Pass:     true,
		Outcomes: []Outcome{},
		Trace:    []host.TraceEvent{},
		Errors:   []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Pass = false
}

func newOutcome(intent snapshot.Intent, res *host.HostResult) (Outcome, error) {
	out := Outcome{
		IntentID:    intent.IntentID,
		Type:        intent.Type,
		Status:      string(res.Status),
		Data:        userData(res.Snapshot),
		TraceCounts: countTraces(res.Traces),
	}
	if res.Error != nil {
		out.ErrorCode = string(res.Error.Code)
	}
	if res.Snapshot == nil {
		return out, nil
	}

	hash, err := snapshot.Hash(res.Snapshot)
	if err != nil {
		return out, err
	}
	out.SnapshotHash = hash
	for _, e := range res.Snapshot.System.Errors {
		out.Errors = append(out.Errors, e.Code)
	}
	return out, nil
}

func countTraces(events []host.TraceEvent) map[string]int {
	counts := make(map[string]int, len(countedKinds))
	for _, k := range countedKinds {
		counts[string(k)] = 0
	}
	for _, ev := range events {
		if _, ok := counts[string(ev.Kind)]; ok {
			counts[string(ev.Kind)]++
		}
	}
	return counts
}

// checkExpect returns one message per mismatch.
func checkExpect(o Outcome, exp *Expect) []string {
	var msgs []string
	if exp.Status != "" && exp.Status != o.Status {
		msgs = append(msgs, fmt.Sprintf("status: expected %s, got %s", exp.Status, o.Status))
	}
	if exp.ErrorCode != "" && exp.ErrorCode != o.ErrorCode {
		msgs = append(msgs, fmt.Sprintf("error code: expected %s, got %q", exp.ErrorCode, o.ErrorCode))
	}

	keys := make([]string, 0, len(exp.Data))
	for k := range exp.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		actual, ok := o.Data[k]
		if !ok {
			msgs = append(msgs, fmt.Sprintf("data.%s: missing", k))
			continue
		}
		if !valuesEqual(actual, exp.Data[k]) {
			msgs = append(msgs, fmt.Sprintf("data.%s: expected %v, got %v", k, exp.Data[k], actual))
		}
	}
	return msgs
}
