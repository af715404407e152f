package audit

import (
	"encoding/json"
	"fmt"
)

// Older model outputs and historical rows use a German key set
// (gesamtbewertung, detailbewertung, priorisierte_massnahmen,
// zusammenfassung). The two schemas are equivalent; readers canonicalize,
// writers always emit the canonical English schema.

type legacyEnvelope struct {
	AnalysisResult json.RawMessage `json:"analysis_result"`
}

type legacyResult struct {
	Summary            *Summary              `json:"summary"`
	CriteriaEvaluation []CriterionEvaluation `json:"criteria_evaluation"`
	PriorityActions    *PriorityActions      `json:"priority_actions"`

	Gesamtbewertung        *legacySummary        `json:"gesamtbewertung"`
	Detailbewertung        []CriterionEvaluation `json:"detailbewertung"`
	PriorisierteMassnahmen *legacyActions        `json:"priorisierte_massnahmen"`
}

type legacySummary struct {
	Score           int    `json:"score"`
	ComplianceLevel string `json:"compliance_level"`
	Zusammenfassung string `json:"zusammenfassung"`
	Assessment      string `json:"overall_assessment"`
}

type legacyActions struct {
	Immediate   []Action `json:"immediate"`
	ShortTerm   []Action `json:"short_term"`
	LongTerm    []Action `json:"long_term"`
	Sofort      []Action `json:"sofort"`
	Kurzfristig []Action `json:"kurzfristig"`
	Langfristig []Action `json:"langfristig"`
}

// DecodeAnalysisResult parses a result document in either schema, unwrapping
// an optional top-level analysis_result envelope, and returns the canonical
// form.
func DecodeAnalysisResult(data []byte) (*AnalysisResult, error) {
	var env legacyEnvelope
	if err := json.Unmarshal(data, &env); err == nil && len(env.AnalysisResult) > 0 {
		data = env.AnalysisResult
	}

	var raw legacyResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}

	out := &AnalysisResult{}
	switch {
	case raw.Summary != nil:
		out.Summary = *raw.Summary
		out.CriteriaEvaluation = raw.CriteriaEvaluation
		out.PriorityActions = raw.PriorityActions
	case raw.Gesamtbewertung != nil:
		out.Summary = Summary{
			Score:             raw.Gesamtbewertung.Score,
			ComplianceLevel:   raw.Gesamtbewertung.ComplianceLevel,
			OverallAssessment: firstNonEmpty(raw.Gesamtbewertung.Assessment, raw.Gesamtbewertung.Zusammenfassung),
		}
		out.CriteriaEvaluation = raw.Detailbewertung
		if raw.PriorisierteMassnahmen != nil {
			out.PriorityActions = &PriorityActions{
				Immediate: firstNonNil(raw.PriorisierteMassnahmen.Immediate, raw.PriorisierteMassnahmen.Sofort),
				ShortTerm: firstNonNil(raw.PriorisierteMassnahmen.ShortTerm, raw.PriorisierteMassnahmen.Kurzfristig),
				LongTerm:  firstNonNil(raw.PriorisierteMassnahmen.LongTerm, raw.PriorisierteMassnahmen.Langfristig),
			}
		}
	default:
		return nil, fmt.Errorf("decode analysis result: no summary in either schema")
	}
	return out, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonNil(values ...[]Action) []Action {
	for _, v := range values {
		if len(v) > 0 {
			return v
		}
	}
	return nil
}
