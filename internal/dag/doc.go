// Package dag compiles a query tree into a task graph and runs it.
//
// It is split into:
//   - Compilation (Compile): one Task per enabled node, container -> children
//     edges, the root designated
//   - Execution (Runner): bounded-concurrency scheduling of ready tasks against
//     a result cache and an execution collaborator, with per-task timeouts,
//     cooperative cancellation and phase tracking
//
// A Graph is built for exactly one run and discarded afterwards.
package dag
