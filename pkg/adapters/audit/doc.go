// Package audit provides durable sinks for the provenance ledger. Each job
// has one append-only record stream.
//
// Implementations:
//   - redis: one Redis Stream per job (synthflow:audit:<job>)
//   - postgres: the audit_records table, via pgx
//   - memory: In-memory for testing
package audit
