package runner

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	key  string
	runs atomic.Int32
}

func (j *countingJob) Key() string { return j.key }

func (j *countingJob) Run(context.Context) Result {
	j.runs.Add(1)
	return Result{Status: StatusSuccess}
}

func TestSchedulerRunsJobsPeriodically(t *testing.T) {
	t.Parallel()

	job := &countingJob{key: "sync/main"}
	s := NewScheduler(NewRunner())
	s.Add(job, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	defer s.Stop()

	require.Eventually(t, func() bool {
		return job.runs.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSchedulerStopHaltsExecution(t *testing.T) {
	t.Parallel()

	job := &countingJob{key: "sync/main"}
	s := NewScheduler(NewRunner())
	s.Add(job, 10*time.Millisecond)

	s.Start(context.Background())
	require.Eventually(t, func() bool {
		return job.runs.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := job.runs.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, job.runs.Load())
}
