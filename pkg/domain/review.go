package domain

import "time"

// ReviewStatus is the lifecycle state of a human review request.
type ReviewStatus string

const (
	ReviewStatusQueued    ReviewStatus = "queued"
	ReviewStatusDeferred  ReviewStatus = "deferred"
	ReviewStatusEscalated ReviewStatus = "escalated"
	ReviewStatusCompleted ReviewStatus = "completed"
)

// ReviewDecision is the queue's answer to a review request.
type ReviewDecision struct {
	RequestID string       `json:"request_id"`
	Status    ReviewStatus `json:"status"`
	Reviewer  string       `json:"reviewer,omitempty"`
}

// ReviewRequest is one entry of the human review queue.
type ReviewRequest struct {
	ID             string       `json:"id"`
	JobID          string       `json:"job_id"`
	Phase          string       `json:"phase"`
	NodeID         string       `json:"node_id"`
	Priority       int          `json:"priority"`
	PayloadSummary string       `json:"payload_summary"`
	Reviewer       string       `json:"reviewer,omitempty"`
	Status         ReviewStatus `json:"status"`
	Approved       *bool        `json:"approved,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
}
