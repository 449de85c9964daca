// Package orchestrator is the entry point of the engine.
//
// The Manager owns the shared engine state (slot controller, provenance
// ledger, privacy gate, review queue, task registry) and exposes the job
// lifecycle:
//   - Submit validates every phase and starts the job in the background
//   - Status, Wait and AuditTrail observe it
//   - Cancel stops it; running nodes finish, queued nodes are skipped
//   - CompleteReview, Replay and Transparency serve human oversight
//
// Phase definitions name their tasks; a TaskRegistry resolves the names.
package orchestrator
