package runner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLock(t *testing.T) {
	t.Parallel()

	locks := NewKeyedLock()

	release, ok := locks.TryAcquire("sync/main")
	require.True(t, ok)

	// A held key cannot be taken again; other keys are unaffected.
	_, ok = locks.TryAcquire("sync/main")
	assert.False(t, ok)
	otherRelease, ok := locks.TryAcquire("sync/branch")
	require.True(t, ok)
	otherRelease()

	release()
	release, ok = locks.TryAcquire("sync/main")
	assert.True(t, ok)
	release()
}

// blockingJob holds its key until released.
type blockingJob struct {
	key     string
	started chan struct{}
	release chan struct{}
	result  Result
}

func (j *blockingJob) Key() string { return j.key }

func (j *blockingJob) Run(_ context.Context) Result {
	close(j.started)
	<-j.release
	return j.result
}

func TestRunnerSkipsHeldKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	run := NewRunner()
	job := &blockingJob{
		key:     "sync/main",
		started: make(chan struct{}),
		release: make(chan struct{}),
		result:  Result{Status: StatusSuccess, ItemsApplied: 3},
	}

	var wg sync.WaitGroup
	wg.Add(1)
	var first Result
	go func() {
		defer wg.Done()
		first = run.Run(ctx, job)
	}()

	select {
	case <-job.started:
	case <-time.After(time.Second):
		t.Fatal("job never started")
	}

	second := run.Run(ctx, job)
	assert.Equal(t, StatusSkipped, second.Status)
	assert.Contains(t, second.Message, "sync/main")

	close(job.release)
	wg.Wait()
	assert.Equal(t, StatusSuccess, first.Status)
	assert.Equal(t, 3, first.ItemsApplied)

	// The key is free again after the run.
	third := run.Run(ctx, staticJob{key: "sync/main", result: Result{Status: StatusSuccess}})
	assert.Equal(t, StatusSuccess, third.Status)
}

type staticJob struct {
	key    string
	result Result
}

func (j staticJob) Key() string                { return j.key }
func (j staticJob) Run(context.Context) Result { return j.result }

func TestResultExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		result Result
		want   int
	}{
		{name: "success", result: Result{Status: StatusSuccess}, want: 0},
		{name: "partial completes cleanly", result: Result{Status: StatusPartial, ItemsFailed: 2}, want: 0},
		{name: "skipped", result: Result{Status: StatusSkipped}, want: 0},
		{name: "failed", result: Result{Status: StatusFailed}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.want, tt.result.ExitCode())
		})
	}
}
