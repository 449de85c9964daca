package privacy

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
)

// Identifier pattern names.
const (
	PatternSSN   = "ssn"
	PatternEmail = "email"
	PatternPhone = "phone"
	PatternMRN   = "mrn"
	PatternIP    = "ip_address"
)

var identifierPatterns = map[string]*regexp.Regexp{
	PatternSSN:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	PatternEmail: regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	PatternPhone: regexp.MustCompile(`(?:\+?1[-.\s]?)?\(?\b[0-9]{3}\)?[-.\s][0-9]{3}[-.\s][0-9]{4}\b`),
	PatternMRN:   regexp.MustCompile(`(?i)\bMRN[-:\s]?\d{6,10}\b`),
	PatternIP:    regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
}

// Keys that are direct identifiers whatever their value looks like.
var identifierKeys = map[string]string{
	"ssn":                    PatternSSN,
	"social_security_number": PatternSSN,
	"email":                  PatternEmail,
	"phone":                  PatternPhone,
	"phone_number":           PatternPhone,
	"mrn":                    PatternMRN,
	"medical_record_number":  PatternMRN,
	"ip":                     PatternIP,
	"ip_address":             PatternIP,
}

// Quasi-identifier categories keyed by field name.
var quasiIdentifierKeys = map[string]string{
	"age":           "age",
	"zip":           "zip",
	"zip_code":      "zip",
	"zipcode":       "zip",
	"postal_code":   "zip",
	"birth_date":    "birth_date",
	"date_of_birth": "birth_date",
	"dob":           "birth_date",
	"gender":        "gender",
	"sex":           "gender",
	"ethnicity":     "ethnicity",
	"race":          "ethnicity",
}

// safeHarborMaxAge is the oldest age that may be disclosed as-is.
const safeHarborMaxAge = 89

const (
	quasiIdentifierWeight = 0.2
	elderlyAgeWeight      = 0.3
	mediumRiskScore       = 0.4
	highRiskScore         = 0.7
)

// DefaultAssessor flags direct identifiers as HIGH risk and scores the
// combination of quasi-identifiers present in the output.
func DefaultAssessor(output map[string]any) domain.PrivacyAssessment {
	var (
		direct  = make(map[string]bool)
		quasi   = make(map[string]bool)
		reasons []string
		elderly bool
	)

	walk(output, "", func(path, key string, value any) {
		lk := strings.ToLower(key)
		if pattern, ok := identifierKeys[lk]; ok && value != nil {
			if !direct[pattern] {
				reasons = append(reasons, fmt.Sprintf("direct identifier %s in %s", pattern, path))
			}
			direct[pattern] = true
		}
		if category, ok := quasiIdentifierKeys[lk]; ok && value != nil {
			quasi[category] = true
			if category == "age" {
				if age, ok := workflow.ToFloat(value); ok && age > safeHarborMaxAge {
					if !elderly {
						reasons = append(reasons, fmt.Sprintf("age above %d in %s", safeHarborMaxAge, path))
					}
					elderly = true
				}
			}
		}
		if s, ok := value.(string); ok {
			for _, name := range sortedPatternNames() {
				if identifierPatterns[name].MatchString(s) && !direct[name] {
					direct[name] = true
					reasons = append(reasons, fmt.Sprintf("%s pattern in %s", name, path))
				}
			}
		}
	})

	if len(direct) > 0 {
		return domain.PrivacyAssessment{
			RiskLevel: domain.RiskHigh,
			Score:     1,
			Accepted:  false,
			Reasons:   reasons,
		}
	}

	score := float64(len(quasi)) * quasiIdentifierWeight
	if elderly {
		score += elderlyAgeWeight
	}
	if score > 1 {
		score = 1
	}
	if len(quasi) > 1 {
		categories := make([]string, 0, len(quasi))
		for c := range quasi {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		reasons = append(reasons, "quasi-identifier combination: "+strings.Join(categories, ", "))
	}

	level := domain.RiskLow
	switch {
	case score >= highRiskScore:
		level = domain.RiskHigh
	case score >= mediumRiskScore:
		level = domain.RiskMedium
	}

	return domain.PrivacyAssessment{
		RiskLevel: level,
		Score:     score,
		Accepted:  level != domain.RiskHigh,
		Reasons:   reasons,
	}
}

// walk visits every key/value pair of nested maps and slices.
func walk(v any, path string, visit func(path, key string, value any)) {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			p := k
			if path != "" {
				p = path + "." + k
			}
			visit(p, k, t[k])
			walk(t[k], p, visit)
		}
	case []any:
		for i, item := range t {
			p := fmt.Sprintf("%s[%d]", path, i)
			if s, ok := item.(string); ok {
				visit(p, "", s)
				continue
			}
			walk(item, p, visit)
		}
	case []map[string]any:
		for i, item := range t {
			walk(item, fmt.Sprintf("%s[%d]", path, i), visit)
		}
	}
}

func sortedPatternNames() []string {
	names := make([]string, 0, len(identifierPatterns))
	for name := range identifierPatterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
