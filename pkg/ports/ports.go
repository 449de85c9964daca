// Package ports declares the interfaces the orchestration core depends on.
// Adapters under pkg/adapters implement them.
package ports

import (
	"context"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
)

// EventHandler consumes one event.
type EventHandler func(ctx context.Context, event domain.Event) error

// EventBus publishes job and node lifecycle events.
type EventBus interface {
	Publish(ctx context.Context, topic string, event domain.Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Close() error
}

// JobStore persists job status snapshots.
type JobStore interface {
	SaveJob(ctx context.Context, snapshot *domain.JobStatusSnapshot) error
	GetJob(ctx context.Context, jobID string) (*domain.JobStatusSnapshot, error)
	ListJobs(ctx context.Context) ([]string, error)
	DeleteJob(ctx context.Context, jobID string) error
}

// AuditStore is the durable sink of the provenance ledger: one append-only
// record stream per job id.
type AuditStore interface {
	AppendRecord(ctx context.Context, record domain.AuditRecord) error
	ListRecords(ctx context.Context, jobID string) ([]domain.AuditRecord, error)
}

// MetricsCollector records engine metrics.
type MetricsCollector interface {
	RecordJobSubmitted(status string)
	RecordJobCompleted(status string, duration time.Duration)
	RecordPhaseCompleted(status string, duration time.Duration)
	RecordNodeExecuted(kind, status string, duration time.Duration)
	RecordPrivacyDecision(risk string, accepted bool)
	RecordReviewDecision(status string)
	RecordSlotStatus(capacity, active, waiting int)
	ObserveQueueWaitTime(duration time.Duration)
	SetActiveJobs(count int)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) RecordJobSubmitted(string) {}
func (NopMetrics) RecordJobCompleted(string, time.Duration) {}
func (NopMetrics) RecordPhaseCompleted(string, time.Duration) {}
func (NopMetrics) RecordNodeExecuted(string, string, time.Duration) {}
func (NopMetrics) RecordPrivacyDecision(string, bool) {}
func (NopMetrics) RecordReviewDecision(string) {}
func (NopMetrics) RecordSlotStatus(int, int, int) {}
func (NopMetrics) ObserveQueueWaitTime(time.Duration) {}
func (NopMetrics) SetActiveJobs(int) {}
