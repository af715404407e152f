package modules

import (
	"github.com/inclusa/wcag-audit/internal/audit"
)

// ParseResult turns raw model output into a validated canonical result.
// It tries a strict parse first, then the repair ladder, then decodes in
// either the canonical or the legacy schema.
func ParseResult(raw string) (*audit.AnalysisResult, error) {
	text, ok := Repair(raw)
	if !ok {
		return nil, audit.Errorf(audit.CodeParseFailed, "output is not JSON after repair")
	}
	result, err := audit.DecodeAnalysisResult([]byte(text))
	if err != nil {
		return nil, audit.Wrap(audit.CodeParseFailed, "decode repaired output", err)
	}
	if err := Validate(result); err != nil {
		return nil, err
	}
	return result, nil
}

// Validate enforces the required result fields and coerces out-of-range
// scores into 0..100.
func Validate(r *audit.AnalysisResult) error {
	if r == nil {
		return audit.Errorf(audit.CodeParseFailed, "result is empty")
	}
	if r.Summary.ComplianceLevel == "" {
		return audit.Errorf(audit.CodeParseFailed, "summary.compliance_level is missing")
	}
	if r.Summary.OverallAssessment == "" {
		return audit.Errorf(audit.CodeParseFailed, "summary.overall_assessment is missing")
	}
	if r.CriteriaEvaluation == nil {
		return audit.Errorf(audit.CodeParseFailed, "criteria_evaluation is missing")
	}
	if r.Summary.Score < 0 {
		r.Summary.Score = 0
	}
	if r.Summary.Score > 100 {
		r.Summary.Score = 100
	}
	return nil
}
