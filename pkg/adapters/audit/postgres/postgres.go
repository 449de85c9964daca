package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS audit_records (
    job_id     TEXT NOT NULL,
    sequence   BIGINT NOT NULL,
    phase      TEXT NOT NULL,
    node_id    TEXT NOT NULL,
    accepted   BOOLEAN NOT NULL,
    record     JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (job_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_audit_records_node ON audit_records(node_id);
`

// AuditStore implements ports.AuditStore on PostgreSQL via pgx.
type AuditStore struct {
	db *pgxpool.Pool
}

// New creates an AuditStore backed by the given pgx connection pool.
func New(db *pgxpool.Pool) *AuditStore {
	return &AuditStore{db: db}
}

// CreateSchema creates the audit_records table if it doesn't exist.
func (s *AuditStore) CreateSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("audit: create schema: %w", err)
	}
	return nil
}

// AppendRecord inserts one record. Records are never updated.
func (s *AuditStore) AppendRecord(ctx context.Context, record domain.AuditRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("audit: marshal record: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_records (job_id, sequence, phase, node_id, accepted, record) VALUES ($1, $2, $3, $4, $5, $6)`,
		record.JobID, int64(record.Sequence), record.Phase, record.NodeID, record.Accepted, data,
	)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

// ListRecords returns the records of a job ordered by sequence.
// Returns an empty slice (not nil) if none found.
func (s *AuditStore) ListRecords(ctx context.Context, jobID string) ([]domain.AuditRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT record FROM audit_records WHERE job_id = $1 ORDER BY sequence`, jobID)
	if err != nil {
		return nil, fmt.Errorf("audit: list records: %w", err)
	}
	defer rows.Close()

	records := []domain.AuditRecord{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("audit: scan record: %w", err)
		}
		var record domain.AuditRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("audit: unmarshal record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list records: %w", err)
	}
	return records, nil
}
