package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/synthflow/pkg/domain"
)

// JobStore implements ports.JobStore with an in-memory map.
// This is for testing and single-instance deployments.
type JobStore struct {
	jobs map[string]domain.JobStatusSnapshot
	mu   sync.RWMutex
}

// NewJobStore creates a new in-memory job store
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]domain.JobStatusSnapshot),
	}
}

// SaveJob stores a copy of the snapshot, replacing any previous one.
func (s *JobStore) SaveJob(ctx context.Context, snapshot *domain.JobStatusSnapshot) error {
	if snapshot == nil || snapshot.JobID == "" {
		return fmt.Errorf("snapshot without job id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[snapshot.JobID] = *snapshot
	return nil
}

// GetJob returns the stored snapshot of a job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*domain.JobStatusSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
	}
	return &snap, nil
}

// ListJobs returns all stored job ids in lexical order.
func (s *JobStore) ListJobs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// DeleteJob removes a job. Deleting an unknown job is not an error.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.jobs, jobID)
	return nil
}
