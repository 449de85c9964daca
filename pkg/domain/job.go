package domain

import "time"

// JobStatus is the lifecycle state of a generation job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the job has finished.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}

// PhaseStatus is the outcome of running one workflow graph.
type PhaseStatus string

const (
	PhaseStatusNotStarted     PhaseStatus = "not_started"
	PhaseStatusRunning        PhaseStatus = "running"
	PhaseStatusCompleted      PhaseStatus = "completed"
	PhaseStatusFailedCritical PhaseStatus = "failed_critical"
	PhaseStatusCancelled      PhaseStatus = "cancelled"
)

// Finding is a coordinator or adversarial contribution kept apart from the
// generated dataset.
type Finding struct {
	Phase  string         `json:"phase"`
	NodeID string         `json:"node_id"`
	Status NodeStatus     `json:"status"`
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// PhaseResult summarises one phase run.
type PhaseResult struct {
	Name          string                    `json:"name"`
	Status        PhaseStatus               `json:"status"`
	Nodes         map[string]ExecutionState `json:"nodes"`
	FailedNode    string                    `json:"failed_node,omitempty"`
	FailureReason string                    `json:"failure_reason,omitempty"`
	StartedAt     time.Time                 `json:"started_at"`
	EndedAt       time.Time                 `json:"ended_at"`
}

// JobResult is the terminal summary of a job.
type JobResult struct {
	JobID               string          `json:"job_id"`
	Status              JobStatus       `json:"status"`
	FailedPhase         string          `json:"failed_phase,omitempty"`
	Error               string          `json:"error,omitempty"`
	JobState            map[string]any  `json:"job_state"`
	Phases              []PhaseResult   `json:"phases"`
	CoordinationSummary []Finding       `json:"coordination_summary,omitempty"`
	RobustnessFindings  []Finding       `json:"robustness_findings,omitempty"`
	RobustnessScore     float64         `json:"robustness_score"`
	Reviews             []ReviewRequest `json:"reviews,omitempty"`
	PublicationReady    bool            `json:"publication_ready"`
	StartedAt           time.Time       `json:"started_at"`
	EndedAt             time.Time       `json:"ended_at"`
}

// JobStatusSnapshot is what Status returns while a job runs and after it
// ends.
type JobStatusSnapshot struct {
	JobID            string                    `json:"job_id"`
	Status           JobStatus                 `json:"status"`
	CurrentPhase     string                    `json:"current_phase,omitempty"`
	Nodes            map[string]ExecutionState `json:"nodes,omitempty"`
	Result           *JobResult                `json:"result,omitempty"`
	PublicationReady bool                      `json:"publication_ready"`
	SubmittedAt      time.Time                 `json:"submitted_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}
