// Package jobs tracks audit job lifecycle. The registry owns the state
// machine (pending, running, completed, failed, cancelled) and mirrors every
// transition to the persistence adapter.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/store"
)

// Registry is the authoritative job table. Transitions are serialized per
// registry; terminal states are absorbing.
type Registry struct {
	store  store.Store
	logger *zap.Logger

	mu   sync.Mutex
	live map[string]*liveJob
}

type liveJob struct {
	job    audit.Job
	cancel context.CancelFunc
}

// NewRegistry builds a registry backed by the given store.
func NewRegistry(st store.Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  st,
		logger: logger,
		live:   make(map[string]*liveJob),
	}
}

// Create registers a new pending job and persists it.
func (r *Registry) Create(ctx context.Context, url string, plan audit.PlanTier, submitterID string) (audit.Job, error) {
	if !plan.Valid() {
		return audit.Job{}, audit.Errorf(audit.CodeIllegalState, "unknown plan tier %q", plan)
	}
	now := time.Now().UTC()
	job := audit.Job{
		ID:          uuid.NewString(),
		URL:         url,
		Plan:        plan,
		Status:      audit.JobStatusPending,
		SubmitterID: submitterID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	r.live[job.ID] = &liveJob{job: job}
	r.mu.Unlock()

	if err := r.store.UpsertJob(ctx, job); err != nil {
		r.mu.Lock()
		delete(r.live, job.ID)
		r.mu.Unlock()
		return audit.Job{}, err
	}
	r.logger.Info("job created",
		zap.String("job_id", job.ID),
		zap.String("url", url),
		zap.String("plan", string(plan)),
	)
	return job, nil
}

// Begin transitions pending to running and binds the cancel function for the
// job's worker context.
func (r *Registry) Begin(ctx context.Context, jobID string, cancel context.CancelFunc) (audit.Job, error) {
	r.mu.Lock()
	lj, ok := r.live[jobID]
	if !ok {
		r.mu.Unlock()
		return audit.Job{}, audit.Errorf(audit.CodeNotFound, "job %s", jobID)
	}
	if lj.job.Status != audit.JobStatusPending {
		status := lj.job.Status
		r.mu.Unlock()
		return audit.Job{}, audit.Errorf(audit.CodeIllegalState, "job %s is %s, expected pending", jobID, status)
	}
	lj.job.Status = audit.JobStatusRunning
	lj.job.UpdatedAt = time.Now().UTC()
	lj.cancel = cancel
	job := lj.job
	r.mu.Unlock()

	if err := r.store.UpsertJob(ctx, job); err != nil {
		return audit.Job{}, err
	}
	return job, nil
}

// MarkProgress records forward progress for a running job. Values are
// clamped to 0..99; 100 is reserved for the completed transition. Regressed
// values are dropped so observed progress never moves backwards.
func (r *Registry) MarkProgress(ctx context.Context, jobID string, progress int, phase string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 99 {
		progress = 99
	}

	r.mu.Lock()
	lj, ok := r.live[jobID]
	if !ok {
		r.mu.Unlock()
		return audit.Errorf(audit.CodeNotFound, "job %s", jobID)
	}
	if lj.job.Status.Terminal() {
		r.mu.Unlock()
		return nil
	}
	if progress < lj.job.Progress {
		r.mu.Unlock()
		return nil
	}
	lj.job.Progress = progress
	lj.job.Phase = phase
	lj.job.UpdatedAt = time.Now().UTC()
	job := lj.job
	r.mu.Unlock()

	return r.store.UpsertJob(ctx, job)
}

// Complete transitions running to completed and pins progress at 100.
func (r *Registry) Complete(ctx context.Context, jobID string) error {
	return r.finish(ctx, jobID, audit.JobStatusCompleted, "")
}

// Fail transitions a non-terminal job to failed with the given reason.
func (r *Registry) Fail(ctx context.Context, jobID, reason string) error {
	return r.finish(ctx, jobID, audit.JobStatusFailed, reason)
}

// Cancel requests cancellation. For a running job it fires the worker's
// cancel function; the terminal cancelled write is recorded immediately so a
// subsequent worker failure cannot overwrite it.
func (r *Registry) Cancel(ctx context.Context, jobID string) error {
	r.mu.Lock()
	lj, ok := r.live[jobID]
	var cancel context.CancelFunc
	if ok {
		cancel = lj.cancel
	}
	r.mu.Unlock()

	if err := r.finish(ctx, jobID, audit.JobStatusCancelled, "cancelled by request"); err != nil {
		return err
	}
	if cancel != nil {
		cancel()
	}
	return nil
}

// finish applies a terminal transition. Repeating the same terminal state is
// a no-op; conflicting terminal states return IllegalState.
func (r *Registry) finish(ctx context.Context, jobID string, terminal audit.JobStatus, reason string) error {
	r.mu.Lock()
	lj, ok := r.live[jobID]
	if !ok {
		r.mu.Unlock()
		return audit.Errorf(audit.CodeNotFound, "job %s", jobID)
	}
	if lj.job.Status.Terminal() {
		same := lj.job.Status == terminal
		status := lj.job.Status
		r.mu.Unlock()
		if same {
			return nil
		}
		return audit.Errorf(audit.CodeIllegalState, "job %s already %s", jobID, status)
	}

	now := time.Now().UTC()
	lj.job.Status = terminal
	lj.job.ErrorText = reason
	lj.job.UpdatedAt = now
	lj.job.CompletedAt = &now
	if terminal == audit.JobStatusCompleted {
		lj.job.Progress = 100
	}
	lj.cancel = nil
	job := lj.job
	r.mu.Unlock()

	if err := r.store.UpsertJob(ctx, job); err != nil {
		return err
	}
	r.logger.Info("job finished",
		zap.String("job_id", jobID),
		zap.String("status", string(terminal)),
		zap.String("reason", reason),
	)
	return nil
}

// Load returns the current job state, consulting the store for jobs no
// longer live in this process.
func (r *Registry) Load(ctx context.Context, jobID string) (audit.Job, error) {
	r.mu.Lock()
	lj, ok := r.live[jobID]
	if ok {
		job := lj.job
		r.mu.Unlock()
		return job, nil
	}
	r.mu.Unlock()
	return r.store.GetJob(ctx, jobID)
}

// Release drops the live entry for a terminal job. Reads fall through to
// the store afterwards.
func (r *Registry) Release(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	lj, ok := r.live[jobID]
	if ok && lj.job.Status.Terminal() {
		delete(r.live, jobID)
	}
}
