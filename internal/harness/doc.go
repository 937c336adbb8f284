// Package harness runs execution scenarios against the real executor.
//
// A scenario names one recommended action, the pending-operation snapshots
// the live client will report, and the outcome the execution must reach.
// The harness drives executor.Engine through a scripted bridge with no-op
// sleeps and sequential token ids, so the same scenario always produces the
// same trace of bridge calls and state transitions.
//
// # Scenario Format
//
//	name: pon_after_waiting
//	description: "Pon is offered on the third check"
//	action: {type: pon, pai: 3p, consumed: [3p, 3p]}
//	executor:
//	  max_wait_attempts: 5
//	snapshots:
//	  - {hasOp: false}
//	  - {hasOp: true, ops: [{type: 3, combination: ["3p|3p"]}]}
//	after_perform:
//	  - {hasOp: false}
//	expect:
//	  state: completed
//	  wait_attempts: 1
//	assertions:
//	  - type: performed
//	    contains: inputChiPengGang
//
// The action is given in the oracle's wire form. Snapshots are served in
// order and the last one repeats; after the first perform command the
// after_perform list replaces whatever is left.
//
// # Assertion Types
//
//   - performed: some perform script contains the given text
//   - perform_count: exactly count perform scripts were sent
//   - query_count: exactly count snapshot queries were sent
//   - state_order: the listed states are entered in this order
//
// # Golden Traces
//
// RunWithGolden renders the trace as text and compares it with
// testdata/golden/<name>.golden. Regenerate with:
//
//	go test ./internal/harness -update
package harness
