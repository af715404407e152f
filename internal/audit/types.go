// Package audit defines core types shared across subsystems.
package audit

import (
	"encoding/json"
	"time"
)

// PlanTier selects the crawl and analysis budget for a job.
type PlanTier string

// Plan tiers accepted from the submission façade.
const (
	PlanBasic      PlanTier = "basic"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// Valid reports whether the tier is one of the accepted values.
func (p PlanTier) Valid() bool {
	switch p {
	case PlanBasic, PlanPro, PlanEnterprise:
		return true
	default:
		return false
	}
}

// JobStatus represents the lifecycle state of an audit job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is absorbing.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	default:
		return false
	}
}

// Job is the metadata persisted for each submitted audit request.
type Job struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Plan        PlanTier   `json:"plan"`
	Status      JobStatus  `json:"status"`
	Progress    int        `json:"progress"`
	Phase       string     `json:"phase,omitempty"`
	SubmitterID string     `json:"user_id,omitempty"`
	ErrorText   string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// PageSnapshot is the record kept for each fetched page.
type PageSnapshot struct {
	URL        string        `json:"url"`
	StatusCode int           `json:"status_code"`
	FetchedAt  time.Time     `json:"fetched_at"`
	Duration   time.Duration `json:"duration_ms"`
	Title      string        `json:"title"`
	Lang       string        `json:"lang"`
	HTML       string        `json:"-"`
	ErrorText  string        `json:"error,omitempty"`
}

// CrawlResult is the ordered outcome of a bounded crawl. The first page is
// the root (post-redirect); no URL appears twice.
type CrawlResult struct {
	RootURL     string         `json:"root_url"`
	Pages       []PageSnapshot `json:"pages"`
	PagesFailed int            `json:"pages_failed"`
}

// ModuleStatus tracks one axis analysis within a job.
type ModuleStatus string

// Module status values persisted per (job, axis) row.
const (
	ModuleStatusPending   ModuleStatus = "pending"
	ModuleStatusRunning   ModuleStatus = "running"
	ModuleStatusCompleted ModuleStatus = "completed"
	ModuleStatusFailed    ModuleStatus = "failed"
)

// ModuleResult is the outcome of one axis analysis.
type ModuleResult struct {
	JobID       string          `json:"job_id"`
	Axis        string          `json:"module_name"`
	Status      ModuleStatus    `json:"status"`
	Result      *AnalysisResult `json:"result,omitempty"`
	RawOutput   string          `json:"-"`
	TokenUsage  int             `json:"token_usage"`
	ErrorText   string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// AnalysisResult is the canonical schema every module must produce.
type AnalysisResult struct {
	Summary            Summary               `json:"summary"`
	CriteriaEvaluation []CriterionEvaluation `json:"criteria_evaluation"`
	PriorityActions    *PriorityActions      `json:"priority_actions,omitempty"`
}

// Summary carries the module-level verdict.
type Summary struct {
	Score             int    `json:"score"`
	ComplianceLevel   string `json:"compliance_level"`
	OverallAssessment string `json:"overall_assessment"`
}

// Criterion evaluation statuses emitted by the model.
const (
	CriterionPassed  = "PASSED"
	CriterionPartial = "PARTIAL"
	CriterionWarning = "WARNING"
	CriterionFailed  = "FAILED"
)

// CriterionEvaluation grades a single WCAG success criterion.
type CriterionEvaluation struct {
	CriterionID    string   `json:"criterion_id"`
	Name           string   `json:"name"`
	Status         string   `json:"status"`
	Finding        string   `json:"finding"`
	Impact         string   `json:"impact"`
	Recommendation string   `json:"recommendation"`
	Examples       []string `json:"examples"`
	Severity       string   `json:"severity"`
}

// PriorityActions buckets recommendations by urgency.
type PriorityActions struct {
	Immediate []Action `json:"immediate"`
	ShortTerm []Action `json:"short_term"`
	LongTerm  []Action `json:"long_term"`
}

// Action is a single remediation recommendation.
type Action struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Effort           string   `json:"effort,omitempty"`
	AffectedCriteria []string `json:"affected_criteria,omitempty"`
}

// CheckFinding is one rule-based checker observation.
type CheckFinding struct {
	Rule        string `json:"rule"`
	CriterionID string `json:"criterion_id,omitempty"`
	Message     string `json:"message"`
	Element     string `json:"element,omitempty"`
	PageURL     string `json:"page_url"`
	Severity    string `json:"severity,omitempty"`
}

// CheckResult groups the automated checker output for a job.
type CheckResult struct {
	Violations []CheckFinding `json:"violations"`
	Warnings   []CheckFinding `json:"warnings"`
	Passes     []CheckFinding `json:"passed"`
}

// FinalReport aggregates the twelve module results for a completed job.
type FinalReport struct {
	JobID             string                     `json:"job_id"`
	TechnicalAnalysis TechnicalAnalysis          `json:"technical_analysis"`
	ExpertAnalyses    map[string]*AnalysisResult `json:"expert_analyses"`
	ExecutiveSummary  string                     `json:"executive_summary"`
	Recommendations   PriorityActions            `json:"recommendations"`
	ConformanceLevel  string                     `json:"conformance_level"`
	CreatedAt         time.Time                  `json:"created_at"`
}

// TechnicalAnalysis is the machine-facing half of the final report.
type TechnicalAnalysis struct {
	URL              string  `json:"url"`
	Score            float64 `json:"score"`
	ModulesTotal     int     `json:"modules_total"`
	ModulesCompleted int     `json:"modules_completed"`
	PagesCrawled     int     `json:"pages_crawled"`
	CriteriaPassed   int     `json:"criteria_passed"`
	CriteriaWarnings int     `json:"criteria_warnings"`
	CriteriaFailed   int     `json:"criteria_failed"`
	CheckViolations  int     `json:"check_violations"`
}

// Slice is the per-axis projection handed to a module prompt. Slices must
// stay plain JSON-serializable; no parsed DOM handles may leak into them.
type Slice map[string]any

// MarshalIndented renders a slice the way prompts embed analysis data.
func (s Slice) MarshalIndented() (string, error) {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
