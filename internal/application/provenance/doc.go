// Package provenance implements the append-only audit ledger.
//
// Every node execution produces exactly one AuditRecord. Input and output
// are hashed with sha256 over their canonical JSON encoding; the canonical
// input is kept with the record so a node can be replayed and its input
// hash verified.
package provenance
