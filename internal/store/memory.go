package store

import (
	"context"
	"sync"

	"github.com/inclusa/wcag-audit/internal/audit"
)

// Memory provides an in-memory Store for development and testing.
type Memory struct {
	mu      sync.RWMutex
	jobs    map[string]audit.Job
	results map[string]map[string]audit.ModuleResult
	reports map[string]audit.FinalReport
}

// NewMemory constructs an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		jobs:    make(map[string]audit.Job),
		results: make(map[string]map[string]audit.ModuleResult),
		reports: make(map[string]audit.FinalReport),
	}
}

// UpsertJob inserts or replaces a job row.
func (m *Memory) UpsertJob(_ context.Context, job audit.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[job.ID] = job
	return nil
}

// GetJob fetches a job by ID.
func (m *Memory) GetJob(_ context.Context, jobID string) (audit.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return audit.Job{}, audit.Errorf(audit.CodeNotFound, "job %s", jobID)
	}
	return job, nil
}

// UpsertModuleResult inserts or replaces the row keyed by (job, axis).
func (m *Memory) UpsertModuleResult(_ context.Context, result audit.ModuleResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.results[result.JobID]
	if !ok {
		rows = make(map[string]audit.ModuleResult)
		m.results[result.JobID] = rows
	}
	rows[result.Axis] = result
	return nil
}

// ListModuleResults returns all module rows for a job in axis-registry order.
func (m *Memory) ListModuleResults(_ context.Context, jobID string) ([]audit.ModuleResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rows := m.results[jobID]
	out := make([]audit.ModuleResult, 0, len(rows))
	for _, key := range audit.AxisKeys() {
		if r, ok := rows[key]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// UpsertFinalReport inserts or replaces the report row keyed by job.
func (m *Memory) UpsertFinalReport(_ context.Context, report audit.FinalReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[report.JobID] = report
	return nil
}

// GetFinalReport fetches the report row for a job.
func (m *Memory) GetFinalReport(_ context.Context, jobID string) (audit.FinalReport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[jobID]
	if !ok {
		return audit.FinalReport{}, audit.Errorf(audit.CodeNotFound, "report for job %s", jobID)
	}
	return report, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() {}

var _ Store = (*Memory)(nil)
