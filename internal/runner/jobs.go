package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/circlib/circulation-server/internal/coverage"
	"github.com/circlib/circulation-server/internal/monitor"
	"github.com/circlib/circulation-server/internal/pool"
	"github.com/circlib/circulation-server/internal/telemetry"
)

// monitorJob adapts a Monitor to the Job interface.
type monitorJob struct {
	m       *monitor.Monitor
	metrics *telemetry.SyncMetrics
}

// NewMonitorJob wraps a monitor as a runnable job.
func NewMonitorJob(m *monitor.Monitor, metrics *telemetry.SyncMetrics) Job {
	return &monitorJob{m: m, metrics: metrics}
}

func (j *monitorJob) Key() string {
	return fmt.Sprintf("%s/%s", monitor.Kind, j.m.CollectionID())
}

func (j *monitorJob) Run(ctx context.Context) Result {
	start := time.Now()
	runResult, err := j.m.Run(ctx)
	j.metrics.RecordItems(ctx, j.m.CollectionID(), runResult.ItemsApplied, runResult.ItemsFailed)
	if !runResult.Skipped {
		j.metrics.RecordSyncDuration(ctx, j.m.CollectionID(), time.Since(start), err == nil)
	}

	switch {
	case err != nil:
		return Result{
			Status:       StatusFailed,
			ItemsApplied: runResult.ItemsApplied,
			ItemsFailed:  runResult.ItemsFailed,
			Message:      err.Error(),
		}
	case runResult.Skipped:
		return Result{Status: StatusSkipped, Message: "sync already in progress"}
	case runResult.ItemsFailed > 0:
		return Result{
			Status:       StatusPartial,
			ItemsApplied: runResult.ItemsApplied,
			ItemsFailed:  runResult.ItemsFailed,
		}
	default:
		return Result{
			Status:       StatusSuccess,
			ItemsApplied: runResult.ItemsApplied,
		}
	}
}

// coverageJob adapts a coverage Provider to the Job interface.
type coverageJob struct {
	p       *coverage.Provider
	metrics *telemetry.CoverageMetrics
}

// NewCoverageJob wraps a coverage provider as a runnable job.
func NewCoverageJob(p *coverage.Provider, metrics *telemetry.CoverageMetrics) Job {
	return &coverageJob{p: p, metrics: metrics}
}

func (j *coverageJob) Key() string {
	return "coverage/" + j.p.CoverageType()
}

func (j *coverageJob) Run(ctx context.Context) Result {
	runResult, err := j.p.Run(ctx)
	if !runResult.Skipped {
		j.metrics.RecordRun(ctx, j.p.CoverageType(), runResult.Covered, runResult.Failed)
	}
	switch {
	case err != nil:
		return Result{Status: StatusFailed, Message: err.Error()}
	case runResult.Skipped:
		return Result{Status: StatusSkipped, Message: "coverage run already in progress"}
	case runResult.Failed > 0:
		return Result{
			Status:       StatusPartial,
			ItemsApplied: runResult.Covered,
			ItemsFailed:  runResult.Failed,
		}
	default:
		return Result{Status: StatusSuccess, ItemsApplied: runResult.Covered}
	}
}

// reaperJob adapts a Reaper sweep to the Job interface.
type reaperJob struct {
	r            *pool.Reaper
	collectionID string
	metrics      *telemetry.CirculationMetrics
}

// NewReaperJob wraps a reap sweep as a runnable job. An empty collection
// ID sweeps every pool.
func NewReaperJob(r *pool.Reaper, collectionID string, metrics *telemetry.CirculationMetrics) Job {
	return &reaperJob{r: r, collectionID: collectionID, metrics: metrics}
}

func (j *reaperJob) Key() string {
	return "reap/" + j.collectionID
}

func (j *reaperJob) Run(ctx context.Context) Result {
	reapResult, err := j.r.Reap(ctx, j.collectionID)
	if err != nil {
		return Result{Status: StatusFailed, Message: err.Error()}
	}
	j.metrics.RecordReap(ctx, j.collectionID, reapResult.LoansExpired, reapResult.HoldsCanceled)
	return Result{
		Status:       StatusSuccess,
		ItemsApplied: reapResult.LoansExpired + reapResult.HoldsCanceled,
	}
}
