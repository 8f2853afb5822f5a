// Package runner provides the job abstraction under which monitors,
// coverage providers and reapers execute: process-style results, keyed
// single-flight exclusivity, and periodic scheduling.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the outcome class of one job run.
type Status string

const (
	// StatusSuccess means the run completed with no failures.
	StatusSuccess Status = "success"

	// StatusPartial means the run completed but some items failed.
	StatusPartial Status = "partial"

	// StatusFailed means the run hit an unrecovered run-level error.
	StatusFailed Status = "failed"

	// StatusSkipped means another run held the job's key.
	StatusSkipped Status = "skipped"
)

// Result is the process-style outcome of one job run.
type Result struct {
	Status       Status
	ItemsApplied int
	ItemsFailed  int
	Message      string
}

// ExitCode maps the result to a process exit status: zero on full
// success (or a skip), nonzero when an unretried run-level error
// occurred. Partial runs report their item failures but still exit zero;
// they completed and their failures were accounted for.
func (r Result) ExitCode() int {
	if r.Status == StatusFailed {
		return 1
	}
	return 0
}

// Job is a runnable unit of work. Runs sharing a key are serialized; a
// run attempted while the key is held is skipped, not queued.
type Job interface {
	// Key identifies the exclusivity domain, e.g. "sync/<collection>"
	// or "coverage/<type>".
	Key() string

	// Run executes the job.
	Run(ctx context.Context) Result
}

// KeyedLock grants non-blocking exclusive access per key.
type KeyedLock struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewKeyedLock creates an empty keyed lock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{held: make(map[string]bool)}
}

// TryAcquire attempts to take the key. On success it returns a release
// function and true; if the key is already held it returns false.
func (l *KeyedLock) TryAcquire(key string) (func(), bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.held[key] {
		return nil, false
	}
	l.held[key] = true
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.held, key)
	}, true
}

// Runner executes jobs under keyed exclusivity.
type Runner struct {
	locks *KeyedLock
}

// NewRunner creates a runner.
func NewRunner() *Runner {
	return &Runner{locks: NewKeyedLock()}
}

// Run executes the job if its key is free, otherwise returns a skipped
// result immediately without blocking.
func (r *Runner) Run(ctx context.Context, job Job) Result {
	release, ok := r.locks.TryAcquire(job.Key())
	if !ok {
		return Result{
			Status:  StatusSkipped,
			Message: fmt.Sprintf("%s is already running", job.Key()),
		}
	}
	defer release()

	start := time.Now()
	result := job.Run(ctx)
	duration := time.Since(start)

	switch result.Status {
	case StatusFailed:
		slog.Error("Job failed",
			"job", job.Key(),
			"duration", duration,
			"message", result.Message)
	default:
		slog.Info("Job finished",
			"job", job.Key(),
			"status", result.Status,
			"duration", duration,
			"items_applied", result.ItemsApplied,
			"items_failed", result.ItemsFailed)
	}
	return result
}
