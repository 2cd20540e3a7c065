package snapshot

// Version constants for the snapshot schema and host engine.
const (
	// SchemaVersion is the snapshot wire-format version.
	SchemaVersion = "2"

	// HostVersion is the host engine version.
	HostVersion = "0.3.0"
)
