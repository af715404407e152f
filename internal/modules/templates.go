package modules

import (
	"embed"
	"fmt"
	"strings"

	"github.com/inclusa/wcag-audit/internal/audit"
)

//go:embed prompts/*.md
var promptFS embed.FS

// DataPlaceholder is the single substitution point in every prompt template.
const DataPlaceholder = "{WEBSITE_ANALYSIS_DATA}"

// Template returns the immutable prompt text for one axis.
func Template(axisKey string) (string, error) {
	data, err := promptFS.ReadFile(fmt.Sprintf("prompts/%s.md", axisKey))
	if err != nil {
		return "", audit.Errorf(audit.CodeNotFound, "no prompt template for axis %s", axisKey)
	}
	return string(data), nil
}

// RenderPrompt substitutes the analysis payload into the template.
func RenderPrompt(template, payload string) string {
	return strings.ReplaceAll(template, DataPlaceholder, payload)
}

// SystemPreamble is the shared system message. It pins the expert to one
// axis, states the scoring rules, and demands strict JSON in the canonical
// schema.
func SystemPreamble(axis audit.Axis) string {
	return fmt.Sprintf(`You are a specialized WCAG 2.1 accessibility expert for %s (%s).

IMPORTANT FOCUS:
You evaluate ONLY the area "%s". Ignore every other WCAG area completely,
even if you notice problems there.

SCORING RULES:
AAA: 98-100, AA+: 95-97, AA: 85-94, A+: 75-84, A: 60-74,
PARTIAL: 35-59, POOR: 15-34, CRITICAL: 0-14.
Judge strictly but fairly; reward genuinely good implementations and name
concrete failures with concrete evidence from the supplied data.

OUTPUT FORMAT:
Respond with a single JSON object in exactly this structure and nothing else:
{
  "analysis_result": {
    "summary": {
      "overall_assessment": "balanced assessment naming strengths and weaknesses",
      "compliance_level": "AAA/AA+/AA/A+/A/PARTIAL/POOR/CRITICAL",
      "score": <number 0-100>
    },
    "criteria_evaluation": [
      {
        "criterion_id": "X.X.X",
        "name": "criterion name",
        "status": "PASSED/FAILED/PARTIAL/WARNING",
        "finding": "what was found",
        "impact": "impact on users",
        "examples": ["example 1", "example 2"],
        "recommendation": "specific recommendation",
        "severity": "CRITICAL/MAJOR/MODERATE/MINOR"
      }
    ],
    "priority_actions": {
      "immediate": [
        {
          "title": "action title",
          "description": "detailed description",
          "effort": "HIGH/MEDIUM/LOW",
          "affected_criteria": ["X.X.X"]
        }
      ],
      "short_term": [],
      "long_term": []
    }
  }
}`, axis.Name, axis.Key, axis.Name)
}
