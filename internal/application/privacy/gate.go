package privacy

import (
	"fmt"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"go.uber.org/zap"
)

// Gate applies a PrivacyAssessor to node outputs and enforces the
// acceptance policy on top of whatever the assessor returns.
type Gate struct {
	assessor    domain.PrivacyAssessor
	maxAccepted domain.RiskLevel
	metrics     ports.MetricsCollector
	logger      *zap.Logger
}

// NewGate creates a gate. A nil assessor falls back to DefaultAssessor and
// an empty maxAccepted to MEDIUM. HIGH is never accepted, whatever
// maxAccepted says.
func NewGate(assessor domain.PrivacyAssessor, maxAccepted domain.RiskLevel, metrics ports.MetricsCollector, logger *zap.Logger) *Gate {
	if assessor == nil {
		assessor = DefaultAssessor
	}
	if maxAccepted == "" {
		maxAccepted = domain.RiskMedium
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{
		assessor:    assessor,
		maxAccepted: maxAccepted,
		metrics:     metrics,
		logger:      logger,
	}
}

// Assess scores output and returns the enforced verdict.
func (g *Gate) Assess(output map[string]any) domain.PrivacyAssessment {
	a := g.assessor(output)
	if a.RiskLevel == "" {
		a.RiskLevel = domain.RiskLow
	}
	a.Reasons = append([]string(nil), a.Reasons...)

	if a.RiskLevel == domain.RiskHigh {
		if a.Accepted {
			a.Reasons = append(a.Reasons, "high re-identification risk is never accepted")
		}
		a.Accepted = false
	} else if a.RiskLevel.Rank() > g.maxAccepted.Rank() {
		if a.Accepted {
			a.Reasons = append(a.Reasons, fmt.Sprintf("risk %s exceeds maximum accepted %s", a.RiskLevel, g.maxAccepted))
		}
		a.Accepted = false
	}

	if !a.Accepted && len(a.Reasons) == 0 {
		a.Reasons = []string{fmt.Sprintf("rejected at risk %s", a.RiskLevel)}
	}

	g.metrics.RecordPrivacyDecision(string(a.RiskLevel), a.Accepted)
	if !a.Accepted {
		g.logger.Debug("output rejected by privacy gate",
			zap.String("risk", string(a.RiskLevel)),
			zap.Float64("score", a.Score),
			zap.Strings("reasons", a.Reasons))
	}

	return a
}

// MaxAccepted returns the highest risk level the gate accepts.
func (g *Gate) MaxAccepted() domain.RiskLevel {
	return g.maxAccepted
}

// ParseRiskLevel converts a configuration string into a RiskLevel.
func ParseRiskLevel(s string) (domain.RiskLevel, error) {
	switch domain.RiskLevel(s) {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
		return domain.RiskLevel(s), nil
	}
	return "", fmt.Errorf("unknown risk level %q", s)
}
