package domain

import "time"

// EventType names a job or node lifecycle event.
type EventType string

const (
	EventTypeJobSubmitted  EventType = "job.submitted"
	EventTypeJobStarted    EventType = "job.started"
	EventTypeJobCompleted  EventType = "job.completed"
	EventTypeJobFailed     EventType = "job.failed"
	EventTypeJobCancelled  EventType = "job.cancelled"
	EventTypePhaseStarted  EventType = "phase.started"
	EventTypePhaseFinished EventType = "phase.finished"
	EventTypeNodeStarted   EventType = "node.started"
	EventTypeNodeFinished  EventType = "node.finished"
	EventTypeNodeSkipped   EventType = "node.skipped"
	EventTypeReviewFiled   EventType = "review.filed"
)

// Topics used on the event bus.
const (
	TopicJobEvents  = "job.events"
	TopicNodeEvents = "node.events"
)

// Event is published on the event bus.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	JobID     string         `json:"job_id"`
	NodeID    string         `json:"node_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}
