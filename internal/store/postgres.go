package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// PostgresConfig controls the connection pool behind the Postgres store.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// db is the subset of pgxpool.Pool the store uses; pgxmock satisfies it in
// tests.
type db interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Postgres writes audit rows into the external row-oriented schema
// (analysis_jobs, analysis_results, analysis_reports).
type Postgres struct {
	pool db
}

// NewPostgres connects a pool against the configured DSN.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, audit.Errorf(audit.CodeConfigMissing, "db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// NewPostgresWithPool constructs a store from an existing pool (primarily
// for testing).
func NewPostgresWithPool(pool db) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertJob inserts or updates the analysis_jobs row for the job.
func (s *Postgres) UpsertJob(ctx context.Context, job audit.Job) error {
	query := `
INSERT INTO analysis_jobs (id, url, plan, status, progress, created_at, updated_at, completed_at, user_id, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	progress = EXCLUDED.progress,
	updated_at = EXCLUDED.updated_at,
	completed_at = EXCLUDED.completed_at,
	error = EXCLUDED.error`
	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.URL,
		string(job.Plan),
		string(job.Status),
		job.Progress,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
		nullable(job.SubmitterID),
		nullable(job.ErrorText),
	)
	if err != nil {
		return audit.Wrap(audit.CodePersistenceTransient, "upsert job", err)
	}
	return nil
}

// GetJob reads one analysis_jobs row.
func (s *Postgres) GetJob(ctx context.Context, jobID string) (audit.Job, error) {
	query := `
SELECT id, url, plan, status, progress, created_at, updated_at, completed_at, user_id, error
FROM analysis_jobs WHERE id = $1`
	var (
		job       audit.Job
		plan      string
		status    string
		submitter *string
		errText   *string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.URL, &plan, &status, &job.Progress,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt, &submitter, &errText,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Job{}, audit.Errorf(audit.CodeNotFound, "job %s", jobID)
		}
		return audit.Job{}, audit.Wrap(audit.CodePersistenceTransient, "get job", err)
	}
	job.Plan = audit.PlanTier(plan)
	job.Status = audit.JobStatus(status)
	job.SubmitterID = deref(submitter)
	job.ErrorText = deref(errText)
	return job, nil
}

// resultEnvelope is the JSON document stored in analysis_results.result.
// The raw model output is retained alongside the canonical schema for audit.
type resultEnvelope struct {
	AnalysisResult *audit.AnalysisResult `json:"analysis_result,omitempty"`
	RawOutput      string                `json:"raw_output,omitempty"`
}

// UpsertModuleResult writes the analysis_results row keyed by
// (job_id, module_name).
func (s *Postgres) UpsertModuleResult(ctx context.Context, result audit.ModuleResult) error {
	payload, err := json.Marshal(resultEnvelope{
		AnalysisResult: result.Result,
		RawOutput:      result.RawOutput,
	})
	if err != nil {
		return fmt.Errorf("marshal module result: %w", err)
	}
	query := `
INSERT INTO analysis_results (id, job_id, module_name, status, result, token_usage, created_at, completed_at, error)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (job_id, module_name) DO UPDATE SET
	status = EXCLUDED.status,
	result = EXCLUDED.result,
	token_usage = EXCLUDED.token_usage,
	completed_at = EXCLUDED.completed_at,
	error = EXCLUDED.error`
	_, err = s.pool.Exec(ctx, query,
		uuid.NewString(),
		result.JobID,
		result.Axis,
		string(result.Status),
		payload,
		result.TokenUsage,
		result.CreatedAt,
		result.CompletedAt,
		nullable(result.ErrorText),
	)
	if err != nil {
		return audit.Wrap(audit.CodePersistenceTransient, "upsert module result", err)
	}
	return nil
}

// ListModuleResults reads all analysis_results rows for a job. Result
// documents are canonicalized at this boundary, so legacy rows surface in
// the canonical schema.
func (s *Postgres) ListModuleResults(ctx context.Context, jobID string) ([]audit.ModuleResult, error) {
	query := `
SELECT job_id, module_name, status, result, token_usage, created_at, completed_at, error
FROM analysis_results WHERE job_id = $1 ORDER BY module_name`
	rows, err := s.pool.Query(ctx, query, jobID)
	if err != nil {
		return nil, audit.Wrap(audit.CodePersistenceTransient, "list module results", err)
	}
	defer rows.Close()

	var out []audit.ModuleResult
	for rows.Next() {
		var (
			r       audit.ModuleResult
			status  string
			payload []byte
			errText *string
		)
		if err := rows.Scan(&r.JobID, &r.Axis, &status, &payload, &r.TokenUsage, &r.CreatedAt, &r.CompletedAt, &errText); err != nil {
			return nil, audit.Wrap(audit.CodePersistenceTransient, "scan module result", err)
		}
		r.Status = audit.ModuleStatus(status)
		r.ErrorText = deref(errText)
		if len(payload) > 0 {
			var env resultEnvelope
			if err := json.Unmarshal(payload, &env); err == nil && env.AnalysisResult != nil {
				r.Result = env.AnalysisResult
				r.RawOutput = env.RawOutput
			} else if parsed, perr := audit.DecodeAnalysisResult(payload); perr == nil {
				r.Result = parsed
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, audit.Wrap(audit.CodePersistenceTransient, "iterate module results", err)
	}
	return out, nil
}

// UpsertFinalReport writes the analysis_reports row keyed by job_id.
func (s *Postgres) UpsertFinalReport(ctx context.Context, report audit.FinalReport) error {
	technical, err := json.Marshal(report.TechnicalAnalysis)
	if err != nil {
		return fmt.Errorf("marshal technical analysis: %w", err)
	}
	experts, err := json.Marshal(report.ExpertAnalyses)
	if err != nil {
		return fmt.Errorf("marshal expert analyses: %w", err)
	}
	recommendations, err := json.Marshal(report.Recommendations)
	if err != nil {
		return fmt.Errorf("marshal recommendations: %w", err)
	}
	query := `
INSERT INTO analysis_reports (id, job_id, technical_analysis, expert_analyses, executive_summary, recommendations, conformance_level, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (job_id) DO UPDATE SET
	technical_analysis = EXCLUDED.technical_analysis,
	expert_analyses = EXCLUDED.expert_analyses,
	executive_summary = EXCLUDED.executive_summary,
	recommendations = EXCLUDED.recommendations,
	conformance_level = EXCLUDED.conformance_level`
	_, err = s.pool.Exec(ctx, query,
		uuid.NewString(),
		report.JobID,
		technical,
		experts,
		report.ExecutiveSummary,
		recommendations,
		report.ConformanceLevel,
		report.CreatedAt,
	)
	if err != nil {
		return audit.Wrap(audit.CodePersistenceTransient, "upsert final report", err)
	}
	return nil
}

// GetFinalReport reads the analysis_reports row for a job.
func (s *Postgres) GetFinalReport(ctx context.Context, jobID string) (audit.FinalReport, error) {
	query := `
SELECT job_id, technical_analysis, expert_analyses, executive_summary, recommendations, conformance_level, created_at
FROM analysis_reports WHERE job_id = $1`
	var (
		report          audit.FinalReport
		technical       []byte
		experts         []byte
		recommendations []byte
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&report.JobID, &technical, &experts, &report.ExecutiveSummary,
		&recommendations, &report.ConformanceLevel, &report.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.FinalReport{}, audit.Errorf(audit.CodeNotFound, "report for job %s", jobID)
		}
		return audit.FinalReport{}, audit.Wrap(audit.CodePersistenceTransient, "get final report", err)
	}
	if err := json.Unmarshal(technical, &report.TechnicalAnalysis); err != nil {
		return audit.FinalReport{}, fmt.Errorf("unmarshal technical analysis: %w", err)
	}
	if err := json.Unmarshal(experts, &report.ExpertAnalyses); err != nil {
		return audit.FinalReport{}, fmt.Errorf("unmarshal expert analyses: %w", err)
	}
	if err := json.Unmarshal(recommendations, &report.Recommendations); err != nil {
		return audit.FinalReport{}, fmt.Errorf("unmarshal recommendations: %w", err)
	}
	return report, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

var _ Store = (*Postgres)(nil)
