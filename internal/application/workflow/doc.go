// Package workflow implements the immutable workflow graph.
//
// A graph is built once per phase definition and reused across jobs:
//   - Build validates node configuration, dependencies and acyclicity
//   - TopologicalLayers groups nodes into deterministic execution layers
//   - Descendants supports skipping the subtree of a failed condition
//
// Phase definitions arrive as GraphSpec values (JSON over HTTP, YAML on the
// command line) and are resolved against a task registry before Build.
package workflow
