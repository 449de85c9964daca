package redis

import (
	"encoding/json"
	"testing"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecord(t *testing.T) {
	in := domain.AuditRecord{JobID: "job", NodeID: "cohort", Sequence: 7, InputHash: "abc", Accepted: true}
	data, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := decodeRecord(redis.XMessage{ID: "1-0", Values: map[string]any{"record": string(data)}})
	require.NoError(t, err)
	assert.Equal(t, in.NodeID, out.NodeID)
	assert.Equal(t, in.Sequence, out.Sequence)
	assert.True(t, out.Accepted)

	_, err = decodeRecord(redis.XMessage{ID: "2-0", Values: map[string]any{"node_id": "x"}})
	assert.Error(t, err)
}

func TestStreamKey(t *testing.T) {
	assert.Equal(t, "synthflow:audit:job-1", streamKey("job-1"))
}
