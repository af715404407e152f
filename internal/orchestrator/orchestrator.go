// Package orchestrator runs the audit pipeline end to end: crawl, extract,
// automated checks, module fan-out, reduction, final persistence.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/checker"
	"github.com/inclusa/wcag-audit/internal/config"
	"github.com/inclusa/wcag-audit/internal/crawler"
	"github.com/inclusa/wcag-audit/internal/jobs"
	"github.com/inclusa/wcag-audit/internal/metrics"
	"github.com/inclusa/wcag-audit/internal/modules"
	"github.com/inclusa/wcag-audit/internal/progress"
	"github.com/inclusa/wcag-audit/internal/reducer"
	"github.com/inclusa/wcag-audit/internal/snapshot"
	"github.com/inclusa/wcag-audit/internal/store"
)

// Submission is an accepted audit request.
type Submission struct {
	URL         string
	Plan        audit.PlanTier
	MaxPages    int
	SubmitterID string
}

// Orchestrator owns per-job pipeline execution. Each accepted job runs on
// its own goroutine; shutdown waits for in-flight jobs.
type Orchestrator struct {
	cfg        config.Config
	registry   *jobs.Registry
	store      store.Store
	dispatcher *modules.Dispatcher
	reducer    *reducer.Reducer
	renderer   crawler.Renderer
	metrics    *metrics.Metrics
	logger     *zap.Logger

	wg sync.WaitGroup
}

// New wires the pipeline stages together. renderer may be nil when headless
// promotion is disabled.
func New(
	cfg config.Config,
	registry *jobs.Registry,
	st store.Store,
	dispatcher *modules.Dispatcher,
	renderer crawler.Renderer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		registry:   registry,
		store:      st,
		dispatcher: dispatcher,
		reducer:    reducer.New(logger),
		renderer:   renderer,
		metrics:    m,
		logger:     logger,
	}
}

// Submit validates the request, registers the job and launches its pipeline.
func (o *Orchestrator) Submit(ctx context.Context, sub Submission) (audit.Job, error) {
	if _, err := crawler.Canonicalize(sub.URL); err != nil {
		return audit.Job{}, audit.Wrap(audit.CodeCrawlFatal, "invalid url", err)
	}
	if sub.Plan == "" {
		sub.Plan = audit.PlanBasic
	}

	job, err := o.registry.Create(ctx, sub.URL, sub.Plan, sub.SubmitterID)
	if err != nil {
		return audit.Job{}, err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job.ID, sub)
	}()
	return job, nil
}

// Cancel requests cancellation of a job.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	return o.registry.Cancel(ctx, jobID)
}

// Job returns the current job state.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (audit.Job, error) {
	return o.registry.Load(ctx, jobID)
}

// Report returns the final report for a completed job.
func (o *Orchestrator) Report(ctx context.Context, jobID string) (audit.FinalReport, error) {
	return o.store.GetFinalReport(ctx, jobID)
}

// Shutdown waits for in-flight jobs to drain or the context to expire.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes the full pipeline for one job. It always leaves the job in a
// terminal state.
func (o *Orchestrator) run(jobID string, sub Submission) {
	started := time.Now()
	log := o.logger.With(zap.String("job_id", jobID), zap.String("url", sub.URL))

	base := context.Background()
	if wall := o.cfg.Jobs.WallClock(); wall > 0 {
		var cancelWall context.CancelFunc
		base, cancelWall = context.WithTimeout(base, wall)
		defer cancelWall()
	}
	ctx, cancel := context.WithCancel(base)
	defer cancel()

	pub := progress.NewPublisher(jobID, o.registry, o.cfg.Jobs.ProgressFlush(), o.logger)
	defer pub.Close()

	if _, err := o.registry.Begin(ctx, jobID, cancel); err != nil {
		log.Warn("job not started", zap.Error(err))
		return
	}
	pub.Update(progress.PercentAccepted, progress.PhaseAccepted)

	report, err := o.pipeline(ctx, jobID, sub, pub, log)
	o.finish(jobID, report, err, log)

	pub.Close()
	o.registry.Release(jobID)
	if o.metrics != nil {
		job, lerr := o.registry.Load(context.Background(), jobID)
		if lerr == nil {
			o.metrics.ObserveJob(string(job.Status), time.Since(started).Seconds())
		}
	}
}

func (o *Orchestrator) pipeline(
	ctx context.Context,
	jobID string,
	sub Submission,
	pub *progress.Publisher,
	log *zap.Logger,
) (*audit.FinalReport, error) {
	pub.Update(progress.PercentCrawl, progress.PhaseCrawl)
	crawlCfg := crawler.Config{
		UserAgent:      o.cfg.Crawler.UserAgent,
		MaxPages:       o.cfg.Crawler.MaxPagesFor(sub.Plan, sub.MaxPages),
		RequestTimeout: o.cfg.Crawler.RequestTimeout(),
		Budget:         o.cfg.Crawler.Budget(),
		RespectRobots:  o.cfg.Crawler.RespectRobots,
	}
	crawl, err := crawler.New(crawlCfg, o.logger, o.renderer).Crawl(ctx, sub.URL)
	if err != nil {
		return nil, err
	}
	log.Info("crawl finished",
		zap.Int("pages", len(crawl.Pages)),
		zap.Int("pages_failed", crawl.PagesFailed),
	)
	if o.metrics != nil {
		o.metrics.PagesCrawled.Add(float64(len(crawl.Pages)))
	}

	pub.Update(progress.PercentChecks, progress.PhaseChecks)
	snap, err := snapshot.Extract(crawl)
	if err != nil {
		return nil, err
	}
	checks := checker.Run(snap)

	pub.Update(progress.PercentModules, progress.PhaseModules)
	results, err := o.dispatcher.Dispatch(ctx, jobID, snap, checks, func(done, total int) {
		pub.Update(progress.ModulesPercent(done, total), progress.PhaseModules)
	})
	if err != nil {
		return nil, err
	}
	if o.metrics != nil {
		completed, failed, tokens := 0, 0, 0
		for _, r := range results {
			tokens += r.TokenUsage
			switch r.Status {
			case audit.ModuleStatusCompleted:
				completed++
			case audit.ModuleStatusFailed:
				failed++
			}
		}
		o.metrics.ObserveModules(completed, failed, tokens)
	}

	pub.Update(progress.PercentReduce, progress.PhaseReduce)
	report, err := o.reducer.Reduce(reducer.Input{
		JobID:        jobID,
		URL:          crawl.RootURL,
		PagesCrawled: len(crawl.Pages),
		Checks:       checks,
		Results:      results,
	})
	if err != nil {
		return nil, err
	}

	pub.Update(progress.PercentFinal, progress.PhaseFinal)
	if err := o.upsertReport(ctx, *report); err != nil {
		return nil, err
	}
	return report, nil
}

// upsertReport retries on a background context when the job context died so
// a finished report is not lost to a late cancellation.
func (o *Orchestrator) upsertReport(ctx context.Context, report audit.FinalReport) error {
	if err := o.store.UpsertFinalReport(ctx, report); err == nil {
		return nil
	}
	fallback, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return o.store.UpsertFinalReport(fallback, report)
}

// finish maps the pipeline outcome to the job's terminal transition.
// Terminal writes run on a fresh context; the job context is usually dead by
// now on the failure paths.
func (o *Orchestrator) finish(jobID string, report *audit.FinalReport, err error, log *zap.Logger) {
	term, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err == nil {
		if cerr := o.registry.Complete(term, jobID); cerr != nil {
			log.Error("complete job", zap.Error(cerr))
			return
		}
		log.Info("job completed",
			zap.Float64("score", report.TechnicalAnalysis.Score),
			zap.String("level", report.ConformanceLevel),
		)
		return
	}

	code := audit.CodeOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		// Wall-clock expiry also trips the worker context, so it can arrive
		// wrapped as a cancellation; the deadline is the real cause.
		code = audit.CodeDeadline
		err = audit.Wrap(audit.CodeDeadline, "job exceeded wall-clock budget", err)
	}

	if code == audit.CodeCancelled {
		// The cancel request already recorded the terminal state; the late
		// pipeline error must not overwrite it.
		if ferr := o.registry.Fail(term, jobID, err.Error()); ferr != nil && !audit.IsCode(ferr, audit.CodeIllegalState) {
			log.Error("fail job", zap.Error(ferr))
		}
		log.Info("job cancelled")
		return
	}

	if ferr := o.registry.Fail(term, jobID, err.Error()); ferr != nil {
		log.Error("fail job", zap.Error(ferr))
	}
	log.Warn("job failed", zap.String("code", string(code)), zap.Error(err))
}
