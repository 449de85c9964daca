package memory

import (
	"context"
	"sync"

	"github.com/aescanero/synthflow/pkg/domain"
)

// AuditStore implements ports.AuditStore in memory.
type AuditStore struct {
	mu      sync.RWMutex
	records map[string][]domain.AuditRecord
}

// NewAuditStore creates an empty store.
func NewAuditStore() *AuditStore {
	return &AuditStore{records: make(map[string][]domain.AuditRecord)}
}

// AppendRecord appends record to the stream of its job.
func (s *AuditStore) AppendRecord(ctx context.Context, record domain.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.JobID] = append(s.records[record.JobID], record)
	return nil
}

// ListRecords returns the records of a job in append order.
func (s *AuditStore) ListRecords(ctx context.Context, jobID string) ([]domain.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditRecord(nil), s.records[jobID]...), nil
}
