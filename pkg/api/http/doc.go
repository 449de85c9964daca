// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Job submission, status, results and cancellation
//   - Audit trails, node replay and transparency reports
//   - The human review queue
//   - Health checks and Prometheus metrics
package http
