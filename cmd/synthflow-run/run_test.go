package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const pipelineYAML = `
phases:
  - name: generation
    nodes:
      - id: demographics
        kind: agent
        task: set
        params:
          rows: 100
      - id: copy
        kind: agent
        task: echo
        depends_on: [demographics]
        params:
          keys: [cohort]
  - name: validation
    nodes:
      - id: red_team
        kind: agent
        role: adversarial
        task: set
        params:
          score: 90
`

func writePipeline(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRunPipeline(t *testing.T) {
	var out bytes.Buffer
	result, err := runPipeline(context.Background(), runOptions{
		File:       writePipeline(t, pipelineYAML),
		Input:      `{"cohort": "adults"}`,
		Capacity:   2,
		MaxRisk:    "MEDIUM",
		WithAudit:  true,
		Reviewers:  []string{"local"},
		MaxPending: 5,
	}, zaptest.NewLogger(t), &out)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.EqualValues(t, 100, result.JobState["rows"])
	assert.NotContains(t, result.JobState, "score", "adversarial output stays out of the job state")

	var printed runOutput
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	require.NotNil(t, printed.Result)
	assert.Equal(t, result.JobID, printed.Result.JobID)
	assert.Len(t, printed.Audit, 3)
}

func TestRunPipeline_Errors(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	_, err := runPipeline(ctx, runOptions{File: filepath.Join(t.TempDir(), "missing.yaml"), MaxRisk: "LOW"}, logger, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = runPipeline(ctx, runOptions{File: writePipeline(t, pipelineYAML), Input: "[1,2]", MaxRisk: "LOW"}, logger, &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid input JSON")

	_, err = runPipeline(ctx, runOptions{File: writePipeline(t, pipelineYAML), MaxRisk: "SEVERE"}, logger, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown risk level")

	unknown := `
phases:
  - name: generation
    nodes:
      - id: a
        kind: agent
        task: does_not_exist
`
	_, err = runPipeline(ctx, runOptions{File: writePipeline(t, unknown), MaxRisk: "LOW", Capacity: 1}, logger, &bytes.Buffer{})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestValidatePipeline(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, validatePipeline(writePipeline(t, pipelineYAML), &out))
	assert.Contains(t, out.String(), "phase generation: 2 nodes")
	assert.Contains(t, out.String(), "2 phases valid")

	cyclic := `
phases:
  - name: loop
    nodes:
      - id: a
        kind: agent
        task: set
        depends_on: [b]
      - id: b
        kind: agent
        task: set
        depends_on: [a]
`
	err := validatePipeline(writePipeline(t, cyclic), &bytes.Buffer{})
	var cycle *domain.CyclicGraphError
	assert.ErrorAs(t, err, &cycle)
}
