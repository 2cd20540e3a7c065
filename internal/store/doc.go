// Package store is a SQLite journal of settled dispatches.
//
// Each row records the intent, the final status and error code, the final
// snapshot as canonical JSON, its content hash and the dispatch trace. The
// journal is append-only: a second write for the same intent id is ignored.
//
// Ordering uses the seq column (insertion order), never timestamps, so
// ListDispatches returns the same sequence on every read.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
package store
