// Package storage provides job status storage implementations.
//
// Implementations:
//   - redis: Redis with JSON serialization and TTL
//   - memory: In-memory for testing and single-instance use
package storage
