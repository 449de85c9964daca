package memory

import (
	"context"
	"testing"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStore(t *testing.T) {
	ctx := context.Background()
	s := NewJobStore()

	require.NoError(t, s.SaveJob(ctx, &domain.JobStatusSnapshot{JobID: "b", Status: domain.JobStatusRunning}))
	require.NoError(t, s.SaveJob(ctx, &domain.JobStatusSnapshot{JobID: "a", Status: domain.JobStatusPending}))
	require.NoError(t, s.SaveJob(ctx, &domain.JobStatusSnapshot{JobID: "b", Status: domain.JobStatusCompleted}))

	got, err := s.GetJob(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	ids, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.DeleteJob(ctx, "a"))
	_, err = s.GetJob(ctx, "a")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	assert.Error(t, s.SaveJob(ctx, &domain.JobStatusSnapshot{}))
}
