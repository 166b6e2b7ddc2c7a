// Package toolexecutor registers and executes the structured tools a
// planning agent may call.
//
// Invariants:
// - Tool names are unique.
// - Parameters are schema-validated before execution and before a call is
//   parked for human review.
// - Every execution is bounded by a timeout.
package toolexecutor
