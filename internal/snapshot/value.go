package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Normalize converts a Go value into the JSON value model used by snapshots:
// nil, bool, float64, string, []any and map[string]any.
//
// Integers become float64 so that data coming from YAML, handlers and the
// evaluator compare equal. Unknown types go through a JSON round-trip.
func Normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64:
		return t, nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case float32:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[k] = n
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", v, err)
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, fmt.Errorf("unsupported value %T: %w", v, err)
		}
		return out, nil
	}
}

// DeepCopy returns a structural copy of a JSON value. Maps and slices are
// copied recursively; scalars are returned as-is.
func DeepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			out[i] = DeepCopy(elem)
		}
		return out
	default:
		return t
	}
}

// CopyMap deep-copies an object. A nil map yields an empty map.
func CopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = DeepCopy(v)
	}
	return out
}

// Clone returns a deep copy of the snapshot. Callers may mutate the result
// freely without affecting the original.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{
		Data:     CopyMap(s.Data),
		Computed: CopyMap(s.Computed),
		Meta:     s.Meta,
		System: SystemState{
			Status:        s.System.Status,
			CurrentAction: s.System.CurrentAction,
		},
	}
	out.System.PendingRequirements = make([]Requirement, len(s.System.PendingRequirements))
	for i, r := range s.System.PendingRequirements {
		out.System.PendingRequirements[i] = r.Clone()
	}
	out.System.Errors = make([]ErrorValue, len(s.System.Errors))
	for i, e := range s.System.Errors {
		out.System.Errors[i] = e.Clone()
	}
	if s.System.LastError != nil {
		le := s.System.LastError.Clone()
		out.System.LastError = &le
	}
	return out
}

// Clone deep-copies a requirement.
func (r Requirement) Clone() Requirement {
	r.Params = CopyMap(r.Params)
	return r
}

// Clone deep-copies an error value.
func (e ErrorValue) Clone() ErrorValue {
	if e.Details != nil {
		e.Details = CopyMap(e.Details)
	}
	return e
}

// FindRequirement returns the pending requirement with the given id.
func (s *Snapshot) FindRequirement(id string) (Requirement, bool) {
	for _, r := range s.System.PendingRequirements {
		if r.ID == id {
			return r, true
		}
	}
	return Requirement{}, false
}

// SplitPath splits a dot path into segments. Empty segments are rejected.
func SplitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("empty path")
	}
	segs := strings.Split(path, ".")
	for i, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("path %q: empty segment at %d", path, i)
		}
	}
	return segs, nil
}

// IsSystemPath reports whether a path is rooted in the evaluator-owned
// system namespace.
func IsSystemPath(path string) bool {
	return path == SystemNamespace || strings.HasPrefix(path, SystemNamespace+".")
}

// GetPath reads the value at path within data.
func GetPath(data map[string]any, path string) (any, bool) {
	segs, err := SplitPath(path)
	if err != nil {
		return nil, false
	}
	var cur any = data
	for _, s := range segs {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[s]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ApplyPatch mutates data in place. Callers must own data (clone first).
func ApplyPatch(data map[string]any, p Patch) error {
	segs, err := SplitPath(p.Path)
	if err != nil {
		return err
	}
	switch p.Op {
	case OpSet:
		v, err := Normalize(p.Value)
		if err != nil {
			return fmt.Errorf("set %s: %w", p.Path, err)
		}
		parent, err := walkCreate(data, segs[:len(segs)-1], p.Path)
		if err != nil {
			return err
		}
		parent[segs[len(segs)-1]] = v
		return nil

	case OpMerge:
		v, err := Normalize(p.Value)
		if err != nil {
			return fmt.Errorf("merge %s: %w", p.Path, err)
		}
		obj, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("merge %s: value must be an object, got %T", p.Path, p.Value)
		}
		parent, err := walkCreate(data, segs[:len(segs)-1], p.Path)
		if err != nil {
			return err
		}
		last := segs[len(segs)-1]
		target, ok := parent[last].(map[string]any)
		if !ok {
			target = make(map[string]any, len(obj))
		}
		for k, elem := range obj {
			target[k] = elem
		}
		parent[last] = target
		return nil

	case OpUnset:
		var cur any = data
		for _, s := range segs[:len(segs)-1] {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = m[s]
		}
		if m, ok := cur.(map[string]any); ok {
			delete(m, segs[len(segs)-1])
		}
		return nil

	default:
		return fmt.Errorf("unknown patch op %q", p.Op)
	}
}

// walkCreate descends through segs, creating objects where missing.
func walkCreate(data map[string]any, segs []string, path string) (map[string]any, error) {
	cur := data
	for _, s := range segs {
		next, exists := cur[s]
		if !exists || next == nil {
			m := make(map[string]any)
			cur[s] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path %q: segment %q is %T, not an object", path, s, next)
		}
		cur = m
	}
	return cur, nil
}
