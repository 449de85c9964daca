package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AuditStore implements ports.AuditStore with one Redis Stream per job.
// Stream entries are never trimmed.
type AuditStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewAuditStore creates a new Redis audit store.
func NewAuditStore(client *redis.Client, logger *zap.Logger) *AuditStore {
	return &AuditStore{client: client, logger: logger}
}

// AppendRecord adds record to the stream of its job.
func (s *AuditStore) AppendRecord(ctx context.Context, record domain.AuditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamKey(record.JobID),
		Values: map[string]any{
			"node_id":  record.NodeID,
			"sequence": record.Sequence,
			"record":   string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append audit record: %w", err)
	}

	s.logger.Debug("audit record appended",
		zap.String("job_id", record.JobID),
		zap.String("node_id", record.NodeID),
		zap.Uint64("sequence", record.Sequence))
	return nil
}

// ListRecords reads the whole stream of a job.
func (s *AuditStore) ListRecords(ctx context.Context, jobID string) ([]domain.AuditRecord, error) {
	messages, err := s.client.XRange(ctx, streamKey(jobID), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read audit stream: %w", err)
	}

	records := make([]domain.AuditRecord, 0, len(messages))
	for _, msg := range messages {
		record, err := decodeRecord(msg)
		if err != nil {
			return nil, fmt.Errorf("audit stream %s entry %s: %w", streamKey(jobID), msg.ID, err)
		}
		records = append(records, record)
	}
	return records, nil
}

func decodeRecord(msg redis.XMessage) (domain.AuditRecord, error) {
	var record domain.AuditRecord
	data, ok := msg.Values["record"].(string)
	if !ok {
		return record, fmt.Errorf("entry has no record field")
	}
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		return record, fmt.Errorf("failed to unmarshal audit record: %w", err)
	}
	return record, nil
}

func streamKey(jobID string) string {
	return "synthflow:audit:" + jobID
}
