package privacy

import (
	"testing"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDefaultAssessor(t *testing.T) {
	tests := []struct {
		name     string
		output   map[string]any
		level    domain.RiskLevel
		accepted bool
	}{
		{
			name:     "aggregate statistics",
			output:   map[string]any{"mean_heart_rate": 72.5, "rows": 100},
			level:    domain.RiskLow,
			accepted: true,
		},
		{
			name:     "single quasi identifier",
			output:   map[string]any{"age": 42},
			level:    domain.RiskLow,
			accepted: true,
		},
		{
			name:     "age beyond safe harbor",
			output:   map[string]any{"age": 999},
			level:    domain.RiskMedium,
			accepted: true,
		},
		{
			name:     "quasi identifier combination",
			output:   map[string]any{"age": 34, "zip": "02139", "gender": "F", "ethnicity": "x"},
			level:    domain.RiskHigh,
			accepted: false,
		},
		{
			name:     "ssn in free text",
			output:   map[string]any{"note": "patient 123-45-6789 admitted"},
			level:    domain.RiskHigh,
			accepted: false,
		},
		{
			name:     "email nested in records",
			output:   map[string]any{"records": []any{map[string]any{"contact": "jane@example.org"}}},
			level:    domain.RiskHigh,
			accepted: false,
		},
		{
			name:     "identifier key",
			output:   map[string]any{"mrn": 12345},
			level:    domain.RiskHigh,
			accepted: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := DefaultAssessor(tt.output)
			assert.Equal(t, tt.level, a.RiskLevel)
			assert.Equal(t, tt.accepted, a.Accepted)
			if tt.level != domain.RiskLow {
				assert.NotEmpty(t, a.Reasons)
			}
		})
	}
}

func TestGate_HighIsNeverAccepted(t *testing.T) {
	lenient := func(map[string]any) domain.PrivacyAssessment {
		return domain.PrivacyAssessment{RiskLevel: domain.RiskHigh, Score: 0.9, Accepted: true}
	}
	gate := NewGate(lenient, domain.RiskHigh, nil, zaptest.NewLogger(t))

	a := gate.Assess(map[string]any{"age": 999})
	assert.False(t, a.Accepted)
	assert.Equal(t, domain.RiskHigh, a.RiskLevel)
	require.NotEmpty(t, a.Reasons)
}

func TestGate_MaxAcceptedLevel(t *testing.T) {
	medium := func(map[string]any) domain.PrivacyAssessment {
		return domain.PrivacyAssessment{RiskLevel: domain.RiskMedium, Score: 0.5, Accepted: true}
	}

	strict := NewGate(medium, domain.RiskLow, nil, nil)
	assert.False(t, strict.Assess(nil).Accepted)

	relaxed := NewGate(medium, "", nil, nil)
	assert.Equal(t, domain.RiskMedium, relaxed.MaxAccepted())
	assert.True(t, relaxed.Assess(nil).Accepted)
}

func TestGate_RejectionAlwaysHasReason(t *testing.T) {
	silent := func(map[string]any) domain.PrivacyAssessment {
		return domain.PrivacyAssessment{RiskLevel: domain.RiskHigh}
	}
	a := NewGate(silent, "", nil, nil).Assess(map[string]any{})
	assert.False(t, a.Accepted)
	assert.Len(t, a.Reasons, 1)
}

func TestParseRiskLevel(t *testing.T) {
	l, err := ParseRiskLevel("MEDIUM")
	require.NoError(t, err)
	assert.Equal(t, domain.RiskMedium, l)

	_, err = ParseRiskLevel("severe")
	assert.Error(t, err)
}
