// Package modules runs the twelve per-axis analyses: prompt assembly,
// model call, tolerant parse, validation, and persistence.
package modules

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inclusa/wcag-audit/internal/audit"
	"github.com/inclusa/wcag-audit/internal/llm"
	"github.com/inclusa/wcag-audit/internal/snapshot"
)

// ResultStore is the slice of the persistence adapter the dispatcher needs.
type ResultStore interface {
	UpsertModuleResult(ctx context.Context, result audit.ModuleResult) error
}

// ProgressFunc is invoked after each module reaches a terminal state.
type ProgressFunc func(completed, total int)

// Dispatcher fans the axes out against the model endpoint.
type Dispatcher struct {
	client      *llm.Client
	store       ResultStore
	logger      *zap.Logger
	concurrency int
}

// NewDispatcher builds a dispatcher. Concurrency defaults to the axis
// count and never drops below 2, so a rate-limited backend can be throttled
// without serializing the fan-out entirely.
func NewDispatcher(client *llm.Client, store ResultStore, concurrency int, logger *zap.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = len(audit.Axes)
	}
	if concurrency < 2 {
		concurrency = 2
	}
	return &Dispatcher{
		client:      client,
		store:       store,
		logger:      logger,
		concurrency: concurrency,
	}
}

// Dispatch runs every registered axis concurrently. Individual module
// failures are recorded in their result rows and do not abort the others;
// only context cancellation stops the fan-out early.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	jobID string,
	snap *snapshot.Snapshot,
	checks audit.CheckResult,
	onProgress ProgressFunc,
) ([]audit.ModuleResult, error) {
	axes := audit.Axes
	results := make([]audit.ModuleResult, len(axes))
	var completed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)
	for i, axis := range axes {
		i, axis := i, axis
		g.Go(func() error {
			results[i] = d.runModule(gctx, jobID, axis, snap, checks)
			done := int(completed.Add(1))
			if onProgress != nil {
				onProgress(done, len(axes))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return results, audit.Wrap(audit.CodeCancelled, "module dispatch interrupted", err)
	}
	return results, nil
}

// runModule executes the full pipeline for one axis. The returned result is
// always persisted, success or failure.
func (d *Dispatcher) runModule(
	ctx context.Context,
	jobID string,
	axis audit.Axis,
	snap *snapshot.Snapshot,
	checks audit.CheckResult,
) audit.ModuleResult {
	result := audit.ModuleResult{
		JobID:     jobID,
		Axis:      axis.Key,
		Status:    audit.ModuleStatusRunning,
		CreatedAt: time.Now().UTC(),
	}
	if err := d.store.UpsertModuleResult(ctx, result); err != nil {
		d.logger.Warn("persist running module row",
			zap.String("job_id", jobID),
			zap.String("axis", axis.Key),
			zap.Error(err),
		)
	}

	parsed, raw, tokens, err := d.analyze(ctx, axis, snap, checks)
	now := time.Now().UTC()
	result.CompletedAt = &now
	result.RawOutput = raw
	result.TokenUsage = tokens
	if err != nil {
		result.Status = audit.ModuleStatusFailed
		result.ErrorText = err.Error()
		d.logger.Warn("module failed",
			zap.String("job_id", jobID),
			zap.String("axis", axis.Key),
			zap.Error(err),
		)
	} else {
		result.Status = audit.ModuleStatusCompleted
		result.Result = parsed
		d.logger.Info("module completed",
			zap.String("job_id", jobID),
			zap.String("axis", axis.Key),
			zap.Int("score", parsed.Summary.Score),
			zap.Int("tokens", tokens),
		)
	}

	if err := d.store.UpsertModuleResult(ctx, result); err != nil {
		// Terminal rows must land even when the job context died.
		fallback, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err2 := d.store.UpsertModuleResult(fallback, result); err2 != nil {
			d.logger.Error("persist module result",
				zap.String("job_id", jobID),
				zap.String("axis", axis.Key),
				zap.Error(err2),
			)
		}
	}
	return result
}

// analyze performs prompt assembly plus the call/parse/validate loop with
// up to MaxRetries attempts and exponential backoff between them.
func (d *Dispatcher) analyze(
	ctx context.Context,
	axis audit.Axis,
	snap *snapshot.Snapshot,
	checks audit.CheckResult,
) (*audit.AnalysisResult, string, int, error) {
	template, err := Template(axis.Key)
	if err != nil {
		return nil, "", 0, err
	}
	payload, err := buildPayload(axis.Key, snap, checks)
	if err != nil {
		return nil, "", 0, err
	}
	prompt := RenderPrompt(template, payload)
	system := SystemPreamble(axis)

	var (
		lastRaw string
		lastErr error
		tokens  int
	)
	attempts := d.client.MaxRetries()
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, lastRaw, tokens, audit.Wrap(audit.CodeCancelled, "module analysis", err)
		}

		completion, err := d.client.Complete(ctx, system, prompt)
		tokens += completion.TokensUsed
		if err == nil {
			lastRaw = completion.Content
			parsed, perr := ParseResult(completion.Content)
			if perr == nil {
				return parsed, lastRaw, tokens, nil
			}
			err = perr
		}
		lastErr = err

		if !llm.Retryable(err) || attempt == attempts {
			break
		}
		if werr := wait(ctx, llm.Backoff(attempt, err)); werr != nil {
			return nil, lastRaw, tokens, audit.Wrap(audit.CodeCancelled, "module analysis", werr)
		}
	}
	return nil, lastRaw, tokens, lastErr
}

// buildPayload assembles the JSON document substituted into the template:
// the axis slice plus the automated checker findings for extra context.
func buildPayload(axisKey string, snap *snapshot.Snapshot, checks audit.CheckResult) (string, error) {
	slice, err := snapshot.SliceFor(axisKey, snap)
	if err != nil {
		return "", err
	}
	doc := audit.Slice{
		"module":           axisKey,
		"analysis":         slice,
		"automated_checks": checks,
	}
	return doc.MarshalIndented()
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
