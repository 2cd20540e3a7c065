package scenario

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/intenthost/internal/host"
	"github.com/roach88/intenthost/internal/snapshot"
)

// AssertionError is a failed assertion with the trace for context.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []host.TraceEvent
}

func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nEffect trace:\n")
	for _, ev := range e.Trace {
		if ev.EffectType != "" {
			fmt.Fprintf(&buf, "  [%d] %s %s %s\n", ev.Seq, ev.Kind, ev.IntentID, ev.EffectType)
		}
	}
	return buf.String()
}

func matches(ev host.TraceEvent, a Assertion) bool {
	if a.Kind != "" && string(ev.Kind) != a.Kind {
		return false
	}
	if a.EffectType != "" && ev.EffectType != a.EffectType {
		return false
	}
	if a.Intent != "" && ev.IntentID != a.Intent {
		return false
	}
	return true
}

func describe(a Assertion) string {
	parts := []string{a.Kind}
	if a.EffectType != "" {
		parts = append(parts, "effect="+a.EffectType)
	}
	if a.Intent != "" {
		parts = append(parts, "intent="+a.Intent)
	}
	return strings.Join(parts, " ")
}

func assertTraceContains(trace []host.TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: describe(a),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that effect requests of the listed types occur in
// order. Other events may come between them.
func assertTraceOrder(trace []host.TraceEvent, a Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.Kind != host.TraceEffectRequest || (a.Intent != "" && ev.IntentID != a.Intent) {
			continue
		}
		if _, seen := positions[ev.EffectType]; !seen {
			positions[ev.EffectType] = i + 1
		}
	}

	for _, effectType := range a.Effects {
		if positions[effectType] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all effects requested: %v", a.Effects),
				Actual:   fmt.Sprintf("missing effect: %s", effectType),
				Trace:    trace,
			}
		}
	}
	for i := 1; i < len(a.Effects); i++ {
		prev, curr := a.Effects[i-1], a.Effects[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("effects in order: %v", a.Effects),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []host.TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a) {
			count++
		}
	}
	if count != a.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", a.Count, describe(a)),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertFinalState(data map[string]any, a Assertion) error {
	actual, ok := snapshot.GetPath(data, a.Path)
	if !ok {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %v", a.Path, a.Value),
			Actual:   "path not set",
		}
	}
	if !valuesEqual(actual, a.Value) {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("%s = %v", a.Path, a.Value),
			Actual:   fmt.Sprintf("%v", actual),
		}
	}
	return nil
}

// valuesEqual compares after normalization so YAML integers match float64
// snapshot numbers. Expected maps match as subsets.
func valuesEqual(actual, expected any) bool {
	exp, err := snapshot.Normalize(expected)
	if err != nil {
		return false
	}
	act, err := snapshot.Normalize(actual)
	if err != nil {
		return false
	}
	return subsetEqual(act, exp)
}

func subsetEqual(actual, expected any) bool {
	expMap, ok := expected.(map[string]any)
	if !ok {
		return reflect.DeepEqual(actual, expected)
	}
	actMap, ok := actual.(map[string]any)
	if !ok {
		return false
	}
	for k, ev := range expMap {
		av, exists := actMap[k]
		if !exists || !subsetEqual(av, ev) {
			return false
		}
	}
	return true
}

// EvaluateAssertions returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertFinalState:
			err = assertFinalState(result.FinalData, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}
		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}
