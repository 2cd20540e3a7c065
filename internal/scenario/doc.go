// Package scenario runs YAML-described dispatch sequences against a Host.
//
// A scenario names a CUE schema, seeds initial data, scripts effect handlers
// and lists intents with expectations:
//
//	name: fetch-once
//	description: fetchData requests http once and settles
//	schema: ../compiler/testdata/fetcher.cue
//	effects:
//	  http:
//	    patches:
//	      - {op: set, path: response, value: {ok: true}}
//	intents:
//	  - type: fetchData
//	    expect: {status: complete, data: {loading: false}}
//	assertions:
//	  - {type: trace_count, kind: "effect:request", count: 1}
//
// Runs use a deterministic runtime and sequential intent ids, so two runs of
// the same scenario produce the same snapshot hashes. Golden comparison
// covers outcomes and per-kind trace counts, not the raw event order, since
// effect completions interleave with job boundaries.
package scenario
