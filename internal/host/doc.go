// Package host implements the execution engine that turns one Intent into
// zero or more effect round-trips and a final Snapshot.
//
// The moving parts, leaves first:
//
//   - Mailbox / MailboxManager: FIFO Job queues, one per execution key.
//   - RunnerState: single-flight drain of a Mailbox. A drain requested while
//     another is active for the same key is recorded and picked up by the
//     active drain before it releases.
//   - ExecutionContext: the only mutable handle to a key's working snapshot.
//     It runs Jobs against the evaluator and signals effect requests and
//     fatal errors through callbacks.
//   - EffectRegistry / EffectExecutor: handler lookup and panic-free
//     invocation.
//   - ContextProvider: deterministic time and seed inputs per Job.
//   - Host: the dispatch loop (enqueue, drain, await effect, repeat) bounded
//     by maxIterations.
//
// The Host never writes system.*. Its own bookkeeping (intent slots, fatal
// records) lives under data.$host, and system changes it needs (removing a
// fulfilled requirement, recording an effect error) are described as a
// core.SystemDelta and applied by the evaluator.
package host
