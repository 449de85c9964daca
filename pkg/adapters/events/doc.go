// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, every subscriber reads from where it joined
//   - memory: In-process fan-out for tests and single-instance use
package events
