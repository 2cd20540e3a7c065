// Package snapshot provides the state model shared by the host engine and
// its evaluator.
//
// This package contains type definitions and pure helpers only. The host and
// core packages import snapshot; snapshot imports nothing internal.
//
// Key design constraints:
//   - A Snapshot is never mutated in place once published. Every change goes
//     through Clone() first.
//   - The system partition belongs to the evaluator. The host keeps its own
//     bookkeeping under data.$host (see HostNamespace).
//   - Patch paths are data-relative and dot separated ("user.name").
//   - All JSON tags use camelCase to match the wire format of intents and
//     snapshots exchanged with callers.
package snapshot
