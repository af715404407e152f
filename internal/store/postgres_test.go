package store

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/inclusa/wcag-audit/internal/audit"
)

func TestPostgresUpsertJob(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	job := audit.Job{
		ID:        "job-1",
		URL:       "https://example.com",
		Plan:      audit.PlanPro,
		Status:    audit.JobStatusRunning,
		Progress:  42,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO analysis_jobs").
		WithArgs(
			job.ID,
			job.URL,
			"pro",
			"running",
			42,
			now,
			now,
			job.CompletedAt,
			nil,
			nil,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM analysis_jobs").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "url", "plan", "status", "progress",
			"created_at", "updated_at", "completed_at", "user_id", "error",
		}))

	_, err = s.GetJob(context.Background(), "missing")
	require.True(t, audit.IsCode(err, audit.CodeNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertModuleResult(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	result := audit.ModuleResult{
		JobID:  "job-1",
		Axis:   "1_1_text_alternatives",
		Status: audit.ModuleStatusCompleted,
		Result: &audit.AnalysisResult{
			Summary: audit.Summary{Score: 87, ComplianceLevel: "AA"},
		},
		RawOutput:   `{"summary":{"score":87}}`,
		TokenUsage:  1200,
		CreatedAt:   now,
		CompletedAt: &now,
	}

	mock.ExpectExec("INSERT INTO analysis_results").
		WithArgs(
			pgxmock.AnyArg(),
			result.JobID,
			result.Axis,
			"completed",
			pgxmock.AnyArg(),
			1200,
			now,
			&now,
			nil,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertModuleResult(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresListModuleResultsDecodesLegacyRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	legacy := []byte(`{"analysis_result":{"gesamtbewertung":{"score":71,"compliance_level":"A","zusammenfassung":"solide Basis"},"detailbewertung":[]}}`)

	rows := pgxmock.NewRows([]string{
		"job_id", "module_name", "status", "result", "token_usage",
		"created_at", "completed_at", "error",
	}).AddRow("job-1", "3_1_readable", "completed", legacy, 900, now, &now, nil)

	mock.ExpectQuery("SELECT (.+) FROM analysis_results").
		WithArgs("job-1").
		WillReturnRows(rows)

	out, err := s.ListModuleResults(context.Background(), "job-1")
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.NotNil(t, out[0].Result)
	require.Equal(t, 71, out[0].Result.Summary.Score)
	require.Equal(t, "solide Basis", out[0].Result.Summary.OverallAssessment)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpsertFinalReport(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewPostgresWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	report := audit.FinalReport{
		JobID: "job-1",
		TechnicalAnalysis: audit.TechnicalAnalysis{
			URL:              "https://example.com",
			Score:            84,
			ModulesTotal:     12,
			ModulesCompleted: 12,
		},
		ExecutiveSummary: "Overall conformance is AA.",
		ConformanceLevel: "AA",
		CreatedAt:        now,
	}

	mock.ExpectExec("INSERT INTO analysis_reports").
		WithArgs(
			pgxmock.AnyArg(),
			report.JobID,
			pgxmock.AnyArg(),
			pgxmock.AnyArg(),
			report.ExecutiveSummary,
			pgxmock.AnyArg(),
			report.ConformanceLevel,
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertFinalReport(context.Background(), report))
	require.NoError(t, mock.ExpectationsWereMet())
}
