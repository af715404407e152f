// Package reducer folds the per-axis module results into one final report.
package reducer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// MinCompletedModules is the coverage floor below which no trustworthy
// aggregate can be produced.
const MinCompletedModules = 6

// DefaultTopActions bounds the immediate actions quoted in the executive
// summary.
const DefaultTopActions = 5

// Reducer aggregates module results into a FinalReport.
type Reducer struct {
	logger     *zap.Logger
	topActions int
}

// New builds a reducer with the default summary layout.
func New(logger *zap.Logger) *Reducer {
	return &Reducer{logger: logger, topActions: DefaultTopActions}
}

// Input carries everything the reducer needs beside the module results.
type Input struct {
	JobID        string
	URL          string
	PagesCrawled int
	Checks       audit.CheckResult
	Results      []audit.ModuleResult
}

// Reduce computes the aggregate verdict. Failed modules are skipped, not
// counted as zero. Fewer than MinCompletedModules completed modules is an
// InsufficientCoverage error and the caller must fail the job.
func (r *Reducer) Reduce(in Input) (*audit.FinalReport, error) {
	completed := make([]audit.ModuleResult, 0, len(in.Results))
	for _, res := range in.Results {
		if res.Status == audit.ModuleStatusCompleted && res.Result != nil {
			completed = append(completed, res)
		}
	}
	if len(completed) < MinCompletedModules {
		return nil, audit.Errorf(audit.CodeInsufficientCoverage,
			"only %d of %d modules completed", len(completed), len(in.Results))
	}

	var sum float64
	passed, warnings, failed := 0, 0, 0
	capToPartial := false
	analyses := make(map[string]*audit.AnalysisResult, len(completed))

	for _, res := range completed {
		sum += float64(res.Result.Summary.Score)
		analyses[res.Axis] = res.Result

		for _, c := range res.Result.CriteriaEvaluation {
			switch strings.ToUpper(c.Status) {
			case audit.CriterionPassed:
				passed++
			case audit.CriterionWarning, audit.CriterionPartial:
				warnings++
			case audit.CriterionFailed:
				failed++
			}
		}

		if axis, ok := audit.AxisByKey(res.Axis); ok && axis.HasLevelA {
			switch strings.ToUpper(res.Result.Summary.ComplianceLevel) {
			case "NONE", "CRITICAL":
				capToPartial = true
			}
		}
	}

	score := sum / float64(len(completed))
	level := LevelFor(score)
	if capToPartial && levelRank(level) > levelRank("PARTIAL") {
		level = "PARTIAL"
	}

	recommendations := mergeActions(completed)

	report := &audit.FinalReport{
		JobID: in.JobID,
		TechnicalAnalysis: audit.TechnicalAnalysis{
			URL:              in.URL,
			Score:            math.Round(score*10) / 10,
			ModulesTotal:     len(in.Results),
			ModulesCompleted: len(completed),
			PagesCrawled:     in.PagesCrawled,
			CriteriaPassed:   passed,
			CriteriaWarnings: warnings,
			CriteriaFailed:   failed,
			CheckViolations:  len(in.Checks.Violations),
		},
		ExpertAnalyses:   analyses,
		Recommendations:  recommendations,
		ConformanceLevel: level,
		CreatedAt:        time.Now().UTC(),
	}
	report.ExecutiveSummary = r.executiveSummary(report)

	r.logger.Info("report reduced",
		zap.String("job_id", in.JobID),
		zap.Float64("score", report.TechnicalAnalysis.Score),
		zap.String("level", level),
		zap.Int("modules_completed", len(completed)),
	)
	return report, nil
}

// LevelFor maps the aggregate score to the conformance label.
func LevelFor(score float64) string {
	switch {
	case score >= 98:
		return "AAA"
	case score >= 80:
		return "AA"
	case score >= 65:
		return "A"
	case score >= 40:
		return "PARTIAL"
	case score >= 20:
		return "POOR"
	default:
		return "CRITICAL"
	}
}

func levelRank(level string) int {
	switch level {
	case "AAA":
		return 5
	case "AA":
		return 4
	case "A":
		return 3
	case "PARTIAL":
		return 2
	case "POOR":
		return 1
	default:
		return 0
	}
}

// mergeActions combines the per-module priority buckets. Actions are
// deduplicated by title (case-insensitive); when the same title appears in
// several buckets the most urgent one wins.
func mergeActions(completed []audit.ModuleResult) audit.PriorityActions {
	type slot struct {
		bucket int
		action audit.Action
	}
	seen := make(map[string]*slot)
	var order []string

	add := func(bucket int, actions []audit.Action) {
		for _, a := range actions {
			key := strings.ToLower(strings.TrimSpace(a.Title))
			if key == "" {
				continue
			}
			if existing, ok := seen[key]; ok {
				if bucket < existing.bucket {
					existing.bucket = bucket
					existing.action = a
				}
				continue
			}
			seen[key] = &slot{bucket: bucket, action: a}
			order = append(order, key)
		}
	}

	for _, res := range completed {
		pa := res.Result.PriorityActions
		if pa == nil {
			continue
		}
		add(0, pa.Immediate)
		add(1, pa.ShortTerm)
		add(2, pa.LongTerm)
	}

	var merged audit.PriorityActions
	for _, key := range order {
		s := seen[key]
		switch s.bucket {
		case 0:
			merged.Immediate = append(merged.Immediate, s.action)
		case 1:
			merged.ShortTerm = append(merged.ShortTerm, s.action)
		default:
			merged.LongTerm = append(merged.LongTerm, s.action)
		}
	}
	return merged
}

func (r *Reducer) executiveSummary(report *audit.FinalReport) string {
	ta := report.TechnicalAnalysis
	var b strings.Builder
	fmt.Fprintf(&b, "WCAG 2.1 audit of %s (%s): overall score %.1f/100, conformance level %s. ",
		ta.URL, report.CreatedAt.Format("2006-01-02"), ta.Score, report.ConformanceLevel)
	fmt.Fprintf(&b, "%d of %d analysis modules completed over %d crawled pages. ",
		ta.ModulesCompleted, ta.ModulesTotal, ta.PagesCrawled)
	fmt.Fprintf(&b, "Criteria: %d passed, %d with warnings, %d failed; %d automated check violations.",
		ta.CriteriaPassed, ta.CriteriaWarnings, ta.CriteriaFailed, ta.CheckViolations)

	top := report.Recommendations.Immediate
	if len(top) > r.topActions {
		top = top[:r.topActions]
	}
	if len(top) > 0 {
		b.WriteString(" Most urgent actions: ")
		for i, a := range top {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(a.Title)
		}
		b.WriteString(".")
	}
	return b.String()
}
