package runner

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const defaultInterval = 15 * time.Minute

// Scheduler runs jobs periodically. Each job keeps its own interval;
// exclusivity still comes from the runner's keyed locks, so an overdue
// tick while the previous run is in flight skips rather than piles up.
type Scheduler struct {
	runner *Runner
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler creates a scheduler over the given runner.
func NewScheduler(runner *Runner) *Scheduler {
	return &Scheduler{
		runner: runner,
		cron:   cron.New(),
	}
}

// Add schedules the job to run every interval. A zero or negative
// interval falls back to the default.
func (s *Scheduler) Add(job Job, interval time.Duration) {
	if interval <= 0 {
		interval = defaultInterval
	}
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		ctx := s.ctx
		if ctx == nil {
			ctx = context.Background()
		}
		s.runner.Run(ctx, job)
	}))
}

// Start begins periodic execution. It returns immediately; jobs run on
// the cron's goroutines until Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	slog.Info("Starting job scheduler", "jobs", len(s.cron.Entries()))
	s.cron.Start()

	go func() {
		<-s.ctx.Done()
		s.cron.Stop()
	}()
}

// Stop halts periodic execution and waits for in-flight jobs to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	slog.Info("Job scheduler stopped")
}
