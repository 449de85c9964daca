// Package websocket provides real-time event streaming via WebSocket.
//
// Clients connect to /api/v1/jobs/:id/ws and receive a status snapshot
// followed by the job and node events of that job until it finishes.
package websocket
