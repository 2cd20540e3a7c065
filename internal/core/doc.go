// Package core defines the evaluator contract consumed by the host engine and
// ships FlowCore, a small reference evaluator.
//
// The host never interprets domain semantics. It calls the Evaluator methods
// and inspects snapshot.System.Status and PendingRequirements. Everything in
// the system partition is written here, never by the host.
//
// FlowCore evaluates re-entrant flows: every Compute call walks the action's
// flow from the top, so a flow that requested an effect is simply computed
// again once the effect's patches have been applied. Guards (CEL expressions)
// decide which steps still apply.
//
// CEL variables available to expressions:
//   - data: the data partition (map)
//   - computed: computed values evaluated so far (map)
//   - input: the intent input (dyn)
//   - meta: {version, timestamp, randomSeed}
//
// Numbers are float64 in data, so arithmetic needs double literals
// (data.count + 1.0).
package core
