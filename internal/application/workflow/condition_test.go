package workflow

import (
	"encoding/json"
	"testing"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOperator(t *testing.T) {
	op, err := ResolveOperator(domain.ConditionConfig{Type: "quality_threshold", Key: "q"})
	require.NoError(t, err)
	assert.Equal(t, OpGTE, op)

	op, err = ResolveOperator(domain.ConditionConfig{Type: "bias_check", Key: "b"})
	require.NoError(t, err)
	assert.Equal(t, OpLTE, op)

	op, err = ResolveOperator(domain.ConditionConfig{Type: "bias_check", Key: "b", Operator: OpLT})
	require.NoError(t, err)
	assert.Equal(t, OpLT, op, "explicit operator overrides the type default")

	_, err = ResolveOperator(domain.ConditionConfig{Key: "q"})
	assert.Error(t, err)
}

func TestEvaluateCondition(t *testing.T) {
	state := map[string]any{
		"quality_score": 0.92,
		"bias":          json.Number("0.3"),
		"count":         12,
		"label":         "ok",
		"empty":         "",
		"metrics":       map[string]any{"fidelity": 0.4},
	}

	tests := []struct {
		name string
		cond domain.ConditionConfig
		want bool
	}{
		{"quality passes", domain.ConditionConfig{Type: "quality_threshold", Key: "quality_score", Threshold: 0.9}, true},
		{"quality fails", domain.ConditionConfig{Type: "quality_threshold", Key: "quality_score", Threshold: 0.95}, false},
		{"bias within bound", domain.ConditionConfig{Type: "bias_check", Key: "bias", Threshold: 0.3}, true},
		{"bias over bound", domain.ConditionConfig{Type: "bias_check", Key: "bias", Threshold: 0.1}, false},
		{"int gt", domain.ConditionConfig{Key: "count", Operator: OpGT, Threshold: 10}, true},
		{"eq", domain.ConditionConfig{Key: "count", Operator: OpEQ, Threshold: 12}, true},
		{"ne", domain.ConditionConfig{Key: "count", Operator: OpNE, Threshold: 12}, false},
		{"nested key", domain.ConditionConfig{Key: "metrics.fidelity", Operator: OpLT, Threshold: 0.5}, true},
		{"missing key", domain.ConditionConfig{Type: "quality_threshold", Key: "absent", Threshold: 0}, false},
		{"exists", domain.ConditionConfig{Key: "label", Operator: OpExists}, true},
		{"not exists", domain.ConditionConfig{Key: "absent", Operator: OpExists}, false},
		{"truthy string", domain.ConditionConfig{Key: "label", Operator: OpTruthy}, true},
		{"falsy string", domain.ConditionConfig{Key: "empty", Operator: OpTruthy}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, explanation, err := EvaluateCondition(tt.cond, state)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.NotEmpty(t, explanation)
		})
	}
}

func TestEvaluateCondition_NonNumeric(t *testing.T) {
	_, _, err := EvaluateCondition(
		domain.ConditionConfig{Type: "quality_threshold", Key: "label", Threshold: 1},
		map[string]any{"label": "high"},
	)
	assert.Error(t, err)
}
