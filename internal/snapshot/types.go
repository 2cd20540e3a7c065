package snapshot

// Status values written by the evaluator into system.status.
const (
	StatusIdle      = "idle"
	StatusComputing = "computing"
	StatusPending   = "pending"
	StatusError     = "error"
)

// HostNamespace is the reserved data key for host bookkeeping.
// The evaluator treats everything below it as opaque domain data.
const HostNamespace = "$host"

// SystemNamespace is the evaluator-owned partition. Patches rooted here are
// rejected before they reach the evaluator.
const SystemNamespace = "system"

// Snapshot is a versioned state container produced by the evaluator.
type Snapshot struct {
	Data     map[string]any `json:"data"`
	Computed map[string]any `json:"computed"`
	System   SystemState    `json:"system"`
	Meta     Meta           `json:"meta"`
}

// SystemState is the evaluator-owned partition of a snapshot.
type SystemState struct {
	Status              string        `json:"status"`
	PendingRequirements []Requirement `json:"pendingRequirements"`
	Errors              []ErrorValue  `json:"errors"`
	LastError           *ErrorValue   `json:"lastError,omitempty"`
	CurrentAction       string        `json:"currentAction,omitempty"`
}

// Meta carries version and determinism inputs.
type Meta struct {
	Version    int64  `json:"version"`
	Timestamp  int64  `json:"timestamp"`
	RandomSeed string `json:"randomSeed"`
	SchemaHash string `json:"schemaHash"`
}

// PatchOp is the kind of mutation a Patch performs.
type PatchOp string

const (
	// OpSet replaces the value at path, creating intermediate objects.
	OpSet PatchOp = "set"
	// OpMerge shallow-merges an object value into the object at path.
	OpMerge PatchOp = "merge"
	// OpUnset removes the value at path.
	OpUnset PatchOp = "unset"
)

// Patch is one state mutation over the data partition.
type Patch struct {
	Op    PatchOp `json:"op" yaml:"op"`
	Path  string  `json:"path" yaml:"path"`
	Value any     `json:"value,omitempty" yaml:"value,omitempty"`
}

// Set builds a set patch.
func Set(path string, value any) Patch {
	return Patch{Op: OpSet, Path: path, Value: value}
}

// Merge builds a merge patch.
func Merge(path string, value map[string]any) Patch {
	return Patch{Op: OpMerge, Path: path, Value: value}
}

// Unset builds an unset patch.
func Unset(path string) Patch {
	return Patch{Op: OpUnset, Path: path}
}

// Requirement is one pending effect obligation emitted by the evaluator.
type Requirement struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Params       map[string]any `json:"params"`
	ActionID     string         `json:"actionId"`
	FlowPosition int            `json:"flowPosition"`
	CreatedAt    int64          `json:"createdAt"`
}

// Intent is a requested domain action.
type Intent struct {
	Type     string `json:"type" yaml:"type"`
	Input    any    `json:"input,omitempty" yaml:"input,omitempty"`
	IntentID string `json:"intentId" yaml:"id,omitempty"`
}

// ErrorValue is a structured error recorded in system.errors.
type ErrorValue struct {
	Code          string         `json:"code"`
	Message       string         `json:"message"`
	Source        string         `json:"source,omitempty"`
	RequirementID string         `json:"requirementId,omitempty"`
	Timestamp     int64          `json:"timestamp"`
	Details       map[string]any `json:"details,omitempty"`
}
