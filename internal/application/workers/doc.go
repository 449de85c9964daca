// Package workers executes graph nodes under a bounded number of slots.
//
// The package provides:
//   - Controller, the slot pool with a priority-ordered waiting queue
//   - Executor, which runs one node: task invocation with timeout and panic
//     recovery, privacy gating, one audit record per invocation
//   - built-in handlers for condition and transform nodes and the fan-out
//     of parallel groups
//
// The health monitor logs slot usage and records it as metrics.
package workers
