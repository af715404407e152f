package modules

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inclusa/wcag-audit/internal/audit"
)

func TestEveryAxisHasATemplate(t *testing.T) {
	t.Parallel()

	for _, axis := range audit.Axes {
		tpl, err := Template(axis.Key)
		require.NoError(t, err, axis.Key)
		assert.Contains(t, tpl, DataPlaceholder, axis.Key)
	}
}

func TestTemplateUnknownAxis(t *testing.T) {
	t.Parallel()

	_, err := Template("5_0_unknown")
	assert.True(t, audit.IsCode(err, audit.CodeNotFound))
}

func TestRenderPromptSubstitutesPayload(t *testing.T) {
	t.Parallel()

	tpl, err := Template("1_1_text_alternatives")
	require.NoError(t, err)

	rendered := RenderPrompt(tpl, `{"pages": []}`)
	assert.NotContains(t, rendered, DataPlaceholder)
	assert.Contains(t, rendered, `{"pages": []}`)
}

func TestSystemPreambleNamesAxisAndSchema(t *testing.T) {
	t.Parallel()

	axis, ok := audit.AxisByKey("2_4_navigable")
	require.True(t, ok)

	preamble := SystemPreamble(axis)
	assert.Contains(t, preamble, axis.Name)
	assert.Contains(t, preamble, `"analysis_result"`)
	assert.Contains(t, preamble, `"criteria_evaluation"`)
	assert.True(t, strings.Contains(preamble, "PARTIAL: 35-59"))
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := &audit.AnalysisResult{
		Summary: audit.Summary{
			Score:             85,
			ComplianceLevel:   "AA",
			OverallAssessment: "solid",
		},
		CriteriaEvaluation: []audit.CriterionEvaluation{},
	}
	require.NoError(t, Validate(valid))

	clamped := &audit.AnalysisResult{
		Summary: audit.Summary{
			Score:             140,
			ComplianceLevel:   "AAA",
			OverallAssessment: "x",
		},
		CriteriaEvaluation: []audit.CriterionEvaluation{},
	}
	require.NoError(t, Validate(clamped))
	assert.Equal(t, 100, clamped.Summary.Score)

	missing := &audit.AnalysisResult{
		Summary: audit.Summary{Score: 50, ComplianceLevel: "A"},
	}
	err := Validate(missing)
	assert.True(t, audit.IsCode(err, audit.CodeParseFailed))
}

func TestParseResultHandlesLegacySchema(t *testing.T) {
	t.Parallel()

	raw := "```json\n" + `{
		"analysis_result": {
			"gesamtbewertung": {"score": 72, "compliance_level": "A", "zusammenfassung": "brauchbar"},
			"detailbewertung": [],
			"priorisierte_massnahmen": {"sofort": [{"title": "Alt-Texte ergänzen"}], "kurzfristig": [], "langfristig": []}
		}
	}` + "\n```"

	result, err := ParseResult(raw)
	require.NoError(t, err)
	assert.Equal(t, 72, result.Summary.Score)
	assert.Equal(t, "brauchbar", result.Summary.OverallAssessment)
	require.NotNil(t, result.PriorityActions)
	require.Len(t, result.PriorityActions.Immediate, 1)
	assert.Equal(t, "Alt-Texte ergänzen", result.PriorityActions.Immediate[0].Title)
}

func TestParseResultRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := ParseResult("I could not analyze this website.")
	assert.True(t, audit.IsCode(err, audit.CodeParseFailed))
}
