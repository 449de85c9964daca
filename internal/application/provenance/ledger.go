package provenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"go.uber.org/zap"
)

// Ledger is the append-only provenance log. Records are kept in memory,
// indexed by job and node, and written through to an optional AuditStore.
type Ledger struct {
	store  ports.AuditStore
	logger *zap.Logger

	mu      sync.RWMutex
	seq     uint64
	records []domain.AuditRecord
	byJob   map[string][]int
	byNode  map[string][]int
}

// ReplayPlan holds everything needed to re-run one node deterministically.
type ReplayPlan struct {
	JobID              string          `json:"job_id"`
	Phase              string          `json:"phase"`
	NodeID             string          `json:"node_id"`
	Kind               domain.NodeKind `json:"kind"`
	Task               string          `json:"task,omitempty"`
	Params             map[string]any  `json:"params,omitempty"`
	Seed               int64           `json:"seed"`
	Timeout            time.Duration   `json:"timeout,omitempty"`
	Input              map[string]any  `json:"input"`
	InputHash          string          `json:"input_hash"`
	ExpectedOutputHash string          `json:"expected_output_hash"`
	Steps              []string        `json:"steps"`
}

// NewLedger creates a ledger. store may be nil for an in-memory ledger.
func NewLedger(store ports.AuditStore, logger *zap.Logger) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		store:  store,
		logger: logger,
		byJob:  make(map[string][]int),
		byNode: make(map[string][]int),
	}
}

// Append assigns the next sequence number and stores record. The record is
// kept in memory even when the write-through fails; the store error is
// returned so the caller can report it. The store is written outside the
// ledger lock, so a slow store never stalls other appends or readers.
func (l *Ledger) Append(ctx context.Context, record domain.AuditRecord) (domain.AuditRecord, error) {
	l.mu.Lock()
	l.seq++
	record.Sequence = l.seq
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}
	l.index(record)
	l.mu.Unlock()

	if l.store != nil {
		if err := l.store.AppendRecord(ctx, record); err != nil {
			l.logger.Error("failed to persist audit record",
				zap.String("job_id", record.JobID),
				zap.String("node_id", record.NodeID),
				zap.Uint64("sequence", record.Sequence),
				zap.Error(err))
			return record, fmt.Errorf("failed to persist audit record: %w", err)
		}
	}

	return record, nil
}

func (l *Ledger) index(record domain.AuditRecord) {
	i := len(l.records)
	l.records = append(l.records, record)
	l.byJob[record.JobID] = append(l.byJob[record.JobID], i)
	l.byNode[record.NodeID] = append(l.byNode[record.NodeID], i)
}

// Records returns the records of a job in append order.
func (l *Ledger) Records(jobID string) []domain.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byJob[jobID])
}

// ByNode returns every record written for nodeID across all jobs.
func (l *Ledger) ByNode(nodeID string) []domain.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.collect(l.byNode[nodeID])
}

// Between returns the records whose timestamp lies in [from, to).
func (l *Ledger) Between(from, to time.Time) []domain.AuditRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.AuditRecord, 0)
	for _, r := range l.records {
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the total number of records.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records)
}

func (l *Ledger) collect(idx []int) []domain.AuditRecord {
	out := make([]domain.AuditRecord, 0, len(idx))
	for _, i := range idx {
		out = append(out, l.records[i])
	}
	return out
}

// Load rehydrates the records of a job from the store. It is a no-op when
// the job is already known or there is no store.
func (l *Ledger) Load(ctx context.Context, jobID string) error {
	if l.store == nil {
		return nil
	}

	l.mu.RLock()
	_, known := l.byJob[jobID]
	l.mu.RUnlock()
	if known {
		return nil
	}

	records, err := l.store.ListRecords(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load audit records for job %s: %w", jobID, err)
	}

	// Concurrent appends may reach the store out of sequence order.
	sort.SliceStable(records, func(i, j int) bool { return records[i].Sequence < records[j].Sequence })

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, known := l.byJob[jobID]; known {
		return nil
	}
	for _, r := range records {
		l.index(r)
		if r.Sequence > l.seq {
			l.seq = r.Sequence
		}
	}

	l.logger.Debug("loaded audit records",
		zap.String("job_id", jobID),
		zap.Int("records", len(records)))
	return nil
}

// Replay reconstructs the inputs of the last execution of nodeID in jobID
// and verifies them against the recorded input hash.
func (l *Ledger) Replay(jobID, nodeID string) (*ReplayPlan, error) {
	l.mu.RLock()
	var (
		record domain.AuditRecord
		found  bool
	)
	for _, i := range l.byJob[jobID] {
		if l.records[i].NodeID == nodeID {
			record = l.records[i]
			found = true
		}
	}
	l.mu.RUnlock()

	if !found {
		return nil, fmt.Errorf("node %s in job %s: %w", nodeID, jobID, domain.ErrRecordNotFound)
	}

	if got := HashBytes(record.Replay.Input); got != record.InputHash {
		return nil, fmt.Errorf("recorded input of node %s does not match input hash %s", nodeID, record.InputHash)
	}

	input := make(map[string]any)
	dec := json.NewDecoder(bytes.NewReader(record.Replay.Input))
	dec.UseNumber()
	if err := dec.Decode(&input); err != nil {
		return nil, fmt.Errorf("failed to decode recorded input of node %s: %w", nodeID, err)
	}

	plan := &ReplayPlan{
		JobID:              record.JobID,
		Phase:              record.Phase,
		NodeID:             record.NodeID,
		Kind:               record.Replay.Kind,
		Task:               record.Replay.Task,
		Params:             record.Replay.Params,
		Seed:               record.Replay.Seed,
		Timeout:            record.Replay.Timeout,
		Input:              input,
		InputHash:          record.InputHash,
		ExpectedOutputHash: record.OutputHash,
	}
	plan.Steps = replaySteps(plan)
	return plan, nil
}

func replaySteps(p *ReplayPlan) []string {
	steps := []string{
		fmt.Sprintf("load phase %q of job %s", p.Phase, p.JobID),
	}
	if p.Task != "" {
		steps = append(steps, fmt.Sprintf("resolve task %q for %s node %s", p.Task, p.Kind, p.NodeID))
	} else {
		steps = append(steps, fmt.Sprintf("use built-in %s handler for node %s", p.Kind, p.NodeID))
	}
	steps = append(steps, fmt.Sprintf("pin seed %d", p.Seed))
	if p.Timeout > 0 {
		steps = append(steps, fmt.Sprintf("apply timeout %s", p.Timeout))
	}
	steps = append(steps,
		fmt.Sprintf("invoke with recorded input (sha256 %s)", p.InputHash),
		fmt.Sprintf("compare output against sha256 %s", p.ExpectedOutputHash),
	)
	return steps
}
