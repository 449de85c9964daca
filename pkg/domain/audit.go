package domain

import "time"

// RiskLevel grades re-identification risk.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Rank orders risk levels; unknown levels rank highest.
func (l RiskLevel) Rank() int {
	switch l {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	default:
		return 2
	}
}

// PrivacyAssessment is the verdict of the privacy gate for one output.
type PrivacyAssessment struct {
	RiskLevel RiskLevel `json:"risk_level"`
	Score     float64   `json:"score"`
	Accepted  bool      `json:"accepted"`
	Reasons   []string  `json:"reasons,omitempty"`
}

// PrivacyAssessor scores an output for re-identification risk.
type PrivacyAssessor func(output map[string]any) PrivacyAssessment

// ReplayInfo carries everything needed to re-run a node deterministically.
type ReplayInfo struct {
	Task    string         `json:"task,omitempty"`
	Kind    NodeKind       `json:"kind"`
	Params  map[string]any `json:"params,omitempty"`
	Seed    int64          `json:"seed"`
	Timeout time.Duration  `json:"timeout,omitempty"`
	Input   []byte         `json:"input"`
}

// AuditRecord is the immutable provenance entry for one node execution.
type AuditRecord struct {
	Sequence          uint64            `json:"sequence"`
	JobID             string            `json:"job_id"`
	Phase             string            `json:"phase"`
	NodeID            string            `json:"node_id"`
	Role              Role              `json:"role"`
	Status            NodeStatus        `json:"status"`
	InputHash         string            `json:"input_hash"`
	OutputHash        string            `json:"output_hash"`
	ExecutionTimeMs   int64             `json:"execution_time_ms"`
	PrivacyAssessment PrivacyAssessment `json:"privacy_assessment"`
	ReasoningSteps    []string          `json:"reasoning_steps,omitempty"`
	Accepted          bool              `json:"accepted"`
	RejectionReasons  []string          `json:"rejection_reasons,omitempty"`
	Confidence        float64           `json:"confidence"`
	Error             string            `json:"error,omitempty"`
	Replay            ReplayInfo        `json:"replay"`
	Timestamp         time.Time         `json:"timestamp"`
}
