// Package compiler turns CUE domain definitions into core.Schema values.
//
// A domain is declared under the top-level "domain" struct:
//
//	domain: counter: {
//		version: "1"
//		computed: doubled: "data.count * 2.0"
//		action: increment: {
//			available: "!has(data.locked)"
//			flow: [
//				{patch: {op: "set", path: "count", expr: "data.count + 1.0"}},
//			]
//		}
//	}
//
// CompileDomain handles one domain struct. Lint reports flows that can
// never settle on their own.
package compiler
