// Package store provides the persistence adapter for jobs, module results,
// and final reports. It is the only component aware of the external
// row-oriented schema; everything else exchanges domain objects.
package store

import (
	"context"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// Store is the idempotent persistence contract. Upserts must tolerate
// retries without producing duplicate rows: module results are keyed by
// (job_id, module_name), reports by job_id.
type Store interface {
	UpsertJob(ctx context.Context, job audit.Job) error
	GetJob(ctx context.Context, jobID string) (audit.Job, error)

	UpsertModuleResult(ctx context.Context, result audit.ModuleResult) error
	ListModuleResults(ctx context.Context, jobID string) ([]audit.ModuleResult, error)

	UpsertFinalReport(ctx context.Context, report audit.FinalReport) error
	GetFinalReport(ctx context.Context, jobID string) (audit.FinalReport, error)

	Close()
}
