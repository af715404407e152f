// Package progress coalesces per-job progress updates into rate-limited
// persistence writes.
package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Phase labels the stage a job is in. Each phase owns a fixed percent band.
type Phase string

// Job phases in execution order.
const (
	PhaseAccepted Phase = "accepted"   // 0-5
	PhaseCrawl    Phase = "crawling"   // 5-10
	PhaseChecks   Phase = "checks"     // 10-20
	PhaseModules  Phase = "modules"    // 20-85
	PhaseReduce   Phase = "reducing"   // 85-95
	PhaseFinal    Phase = "finalizing" // 95-100
)

// Band starting percentages per phase.
const (
	PercentAccepted = 2
	PercentCrawl    = 5
	PercentChecks   = 10
	PercentModules  = 20
	PercentReduce   = 85
	PercentFinal    = 95
)

// ModulesPercent maps module fan-out completion into the 20-85 band.
func ModulesPercent(completed, total int) int {
	if total <= 0 {
		return PercentModules
	}
	if completed > total {
		completed = total
	}
	return PercentModules + (PercentReduce-PercentModules)*completed/total
}

// Sink receives the coalesced writes. The job registry satisfies this.
type Sink interface {
	MarkProgress(ctx context.Context, jobID string, progress int, phase string) error
}

type update struct {
	percent int
	phase   Phase
}

// Publisher is the single writer for one job's progress. Updates may arrive
// from many goroutines; at most one persistence write per interval reaches
// the sink, and the pending update is flushed on Close.
type Publisher struct {
	jobID    string
	sink     Sink
	interval time.Duration
	logger   *zap.Logger

	updates chan update
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewPublisher starts the writer goroutine for one job.
func NewPublisher(jobID string, sink Sink, interval time.Duration, logger *zap.Logger) *Publisher {
	if interval <= 0 {
		interval = time.Second
	}
	p := &Publisher{
		jobID:    jobID,
		sink:     sink,
		interval: interval,
		logger:   logger,
		updates:  make(chan update, 64),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go p.run()
	return p
}

// Update records a progress observation. Never blocks; when the mailbox is
// full the observation is dropped, a later one will supersede it anyway.
func (p *Publisher) Update(percent int, phase Phase) {
	select {
	case <-p.done:
	case p.updates <- update{percent: percent, phase: phase}:
	default:
	}
}

// Close flushes any pending update immediately and stops the writer. Safe to
// call more than once.
func (p *Publisher) Close() {
	p.once.Do(func() { close(p.done) })
	<-p.stopped
}

func (p *Publisher) run() {
	defer close(p.stopped)

	var (
		pending  *update
		best     int
		timer    *time.Timer
		timerC   <-chan time.Time
		lastSent time.Time
	)

	disarm := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
			timerC = nil
		}
	}
	flush := func() {
		if pending == nil {
			return
		}
		u := *pending
		pending = nil
		disarm()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.sink.MarkProgress(ctx, p.jobID, u.percent, string(u.phase)); err != nil {
			p.logger.Warn("progress write",
				zap.String("job_id", p.jobID),
				zap.Int("percent", u.percent),
				zap.Error(err),
			)
		}
		lastSent = time.Now()
	}
	absorb := func(u update) {
		if u.percent < best {
			return
		}
		best = u.percent
		pending = &update{percent: u.percent, phase: u.phase}
		if since := time.Since(lastSent); since >= p.interval {
			flush()
		} else if timer == nil {
			timer = time.NewTimer(p.interval - since)
			timerC = timer.C
		}
	}

	for {
		select {
		case u := <-p.updates:
			absorb(u)
		case <-timerC:
			timer = nil
			timerC = nil
			flush()
		case <-p.done:
			for {
				select {
				case u := <-p.updates:
					if u.percent >= best {
						best = u.percent
						pending = &update{percent: u.percent, phase: u.phase}
					}
				default:
					flush()
					return
				}
			}
		}
	}
}
