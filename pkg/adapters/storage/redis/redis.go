package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const jobKeyPrefix = "synthflow:job:"

// JobStore implements ports.JobStore using Redis. Snapshots are stored as
// JSON under synthflow:job:<id> and expire after the configured TTL.
type JobStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewJobStore creates a new Redis job store. A zero ttl keeps snapshots
// forever.
func NewJobStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *JobStore {
	return &JobStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// SaveJob stores the snapshot, replacing any previous one.
func (s *JobStore) SaveJob(ctx context.Context, snapshot *domain.JobStatusSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	if err := s.client.Set(ctx, jobKey(snapshot.JobID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}

	s.logger.Debug("job saved",
		zap.String("job_id", snapshot.JobID),
		zap.String("status", string(snapshot.Status)))

	return nil
}

// GetJob returns the stored snapshot of a job.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*domain.JobStatusSnapshot, error) {
	data, err := s.client.Get(ctx, jobKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	var snap domain.JobStatusSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}

	return &snap, nil
}

// ListJobs scans for stored job ids.
func (s *JobStore) ListJobs(ctx context.Context) ([]string, error) {
	var cursor uint64
	var ids []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, jobKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range batch {
			if id := strings.TrimPrefix(key, jobKeyPrefix); id != "" && id != key {
				ids = append(ids, id)
			}
		}

		if cursor == 0 {
			break
		}
	}

	sort.Strings(ids)
	return ids, nil
}

// DeleteJob removes a stored job.
func (s *JobStore) DeleteJob(ctx context.Context, jobID string) error {
	if err := s.client.Del(ctx, jobKey(jobID)).Err(); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}

	s.logger.Debug("job deleted", zap.String("job_id", jobID))
	return nil
}

func jobKey(jobID string) string {
	return jobKeyPrefix + jobID
}
