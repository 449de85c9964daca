package provenance

import "sort"

// maxRejectionReasons bounds CommonRejectionReasons.
const maxRejectionReasons = 5

// ReasonCount is one entry of CommonRejectionReasons.
type ReasonCount struct {
	Reason string `json:"reason"`
	Count  int    `json:"count"`
}

// TransparencyReport aggregates the records of one component (node id)
// across all jobs.
type TransparencyReport struct {
	Component              string        `json:"component"`
	Records                int           `json:"records"`
	AcceptanceRate         float64       `json:"acceptance_rate"`
	AvgConfidence          float64       `json:"avg_confidence"`
	CommonRejectionReasons []ReasonCount `json:"common_rejection_reasons"`
}

// TransparencyReport builds the report for component.
func (l *Ledger) TransparencyReport(component string) TransparencyReport {
	records := l.ByNode(component)
	report := TransparencyReport{
		Component:              component,
		Records:                len(records),
		CommonRejectionReasons: []ReasonCount{},
	}
	if len(records) == 0 {
		return report
	}

	var (
		accepted   int
		confidence float64
		reasons    = make(map[string]int)
	)
	for _, r := range records {
		if r.Accepted {
			accepted++
		}
		confidence += r.Confidence
		for _, reason := range r.RejectionReasons {
			reasons[reason]++
		}
	}

	report.AcceptanceRate = float64(accepted) / float64(len(records))
	report.AvgConfidence = confidence / float64(len(records))

	for reason, count := range reasons {
		report.CommonRejectionReasons = append(report.CommonRejectionReasons, ReasonCount{Reason: reason, Count: count})
	}
	sort.Slice(report.CommonRejectionReasons, func(i, j int) bool {
		a, b := report.CommonRejectionReasons[i], report.CommonRejectionReasons[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Reason < b.Reason
	})
	if len(report.CommonRejectionReasons) > maxRejectionReasons {
		report.CommonRejectionReasons = report.CommonRejectionReasons[:maxRejectionReasons]
	}

	return report
}
