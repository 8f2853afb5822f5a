// Package monitor implements the checkpointed incremental sync pass that
// keeps a collection's catalog and license pools aligned with its vendor
// change feed.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/circlib/circulation-server/internal/catalog"
	"github.com/circlib/circulation-server/internal/checkpoint"
	"github.com/circlib/circulation-server/internal/clock"
	"github.com/circlib/circulation-server/internal/coverage"
	"github.com/circlib/circulation-server/internal/pool"
	"github.com/circlib/circulation-server/internal/vendor"
)

// Kind is the monitor kind recorded in checkpoints for collection sync.
const Kind = "collection-sync"

const defaultPageLimit = 50

// ErrFailFast is returned when a run stops at the first failing batch
// under the fail-fast policy.
var ErrFailFast = errors.New("run stopped by fail-fast policy")

// RunResult summarizes one monitor run.
type RunResult struct {
	// Skipped is true when another run for the same (kind, collection)
	// was already in flight and this invocation did nothing.
	Skipped bool

	ItemsApplied int
	ItemsFailed  int
	Pages        int

	// NewCursor is the cursor the checkpoint was advanced to, empty if
	// the checkpoint is unchanged.
	NewCursor string
}

// Monitor synchronizes one collection from its vendor feed. A run pulls
// change pages, applies each item idempotently, and advances the
// checkpoint only after a page's mutations are committed — so a crashed
// run re-applies at most the tail of the last page.
type Monitor struct {
	collectionID  string
	feed          vendor.Feed
	checkpoints   checkpoint.Store
	catalog       catalog.Store
	pools         pool.Store
	ledger        coverage.Ledger
	coverageTypes []string
	clk           clock.Clock
	retry         vendor.RetryPolicy
	pageLimit     int
	failFast      bool

	running atomic.Bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithPageLimit caps the number of feed pages consumed per run.
func WithPageLimit(n int) Option {
	return func(m *Monitor) {
		if n > 0 {
			m.pageLimit = n
		}
	}
}

// WithFailFast stops a run at the first failing batch instead of counting
// item failures and continuing.
func WithFailFast(enabled bool) Option {
	return func(m *Monitor) {
		m.failFast = enabled
	}
}

// WithRetryPolicy overrides the default vendor retry policy.
func WithRetryPolicy(policy vendor.RetryPolicy) Option {
	return func(m *Monitor) {
		m.retry = policy
	}
}

// WithCoverageTypes sets the coverage types every synced identifier is
// registered for.
func WithCoverageTypes(types []string) Option {
	return func(m *Monitor) {
		m.coverageTypes = types
	}
}

// New creates a monitor for one collection.
func New(
	collectionID string,
	feed vendor.Feed,
	checkpoints checkpoint.Store,
	catalogStore catalog.Store,
	pools pool.Store,
	ledger coverage.Ledger,
	clk clock.Clock,
	opts ...Option,
) *Monitor {
	m := &Monitor{
		collectionID: collectionID,
		feed:         feed,
		checkpoints:  checkpoints,
		catalog:      catalogStore,
		pools:        pools,
		ledger:       ledger,
		clk:          clk,
		retry:        vendor.DefaultRetryPolicy,
		pageLimit:    defaultPageLimit,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CollectionID returns the collection this monitor serves.
func (m *Monitor) CollectionID() string {
	return m.collectionID
}

// Run performs one incremental sync pass. A second concurrent call for
// the same monitor returns immediately with a skipped result.
func (m *Monitor) Run(ctx context.Context) (RunResult, error) {
	if !m.running.CompareAndSwap(false, true) {
		return RunResult{Skipped: true}, nil
	}
	defer m.running.Store(false)

	cursor := m.loadCursor(ctx)

	var result RunResult
	for page := 0; page < m.pageLimit; page++ {
		feedPage, err := vendor.FetchWithRetry(ctx, m.feed, cursor, m.retry)
		if err != nil {
			// Retry budget exhausted or permanent failure: the run
			// ends without advancing past the last committed batch.
			return result, fmt.Errorf("fetching changes for collection %s: %w", m.collectionID, err)
		}
		if len(feedPage.Items) == 0 && feedPage.NextCursor == "" {
			break
		}
		result.Pages++

		applied, failed := m.applyBatch(ctx, feedPage.Items)
		result.ItemsApplied += applied
		result.ItemsFailed += failed
		if failed > 0 && m.failFast {
			// The checkpoint must not move past the failing batch.
			return result, ErrFailFast
		}

		if feedPage.NextCursor == "" {
			// Feed exhausted. The tail past the last cursor is
			// redelivered next run; idempotent apply absorbs it.
			break
		}

		if err := m.checkpoints.Advance(ctx, Kind, m.collectionID, feedPage.NextCursor, m.clk.Now()); err != nil {
			return result, fmt.Errorf("advancing checkpoint for collection %s: %w", m.collectionID, err)
		}
		cursor = feedPage.NextCursor
		result.NewCursor = feedPage.NextCursor
	}

	// Stamp the success time even when the cursor did not move, so a
	// collection whose feed is quiet still shows when it last synced.
	if err := m.checkpoints.Advance(ctx, Kind, m.collectionID, cursor, m.clk.Now()); err != nil {
		return result, fmt.Errorf("stamping checkpoint for collection %s: %w", m.collectionID, err)
	}

	slog.Info("Sync run finished",
		"collection", m.collectionID,
		"pages", result.Pages,
		"items_applied", result.ItemsApplied,
		"items_failed", result.ItemsFailed)
	return result, nil
}

// SelfTest validates vendor connectivity and credentials with a single
// fetch. Nothing is mutated and no checkpoint is written.
func (m *Monitor) SelfTest(ctx context.Context) error {
	if err := m.feed.SelfTest(ctx); err != nil {
		return fmt.Errorf("self test for collection %s: %w", m.collectionID, err)
	}
	if _, err := m.feed.FetchChanges(ctx, ""); err != nil {
		return fmt.Errorf("self test fetch for collection %s: %w", m.collectionID, err)
	}
	return nil
}

// loadCursor returns the checkpointed cursor, falling back to a full
// resync from the beginning when no checkpoint exists or the stored one
// is unreadable.
func (m *Monitor) loadCursor(ctx context.Context) string {
	cp, err := m.checkpoints.Load(ctx, Kind, m.collectionID)
	switch {
	case err == nil:
		return cp.Cursor
	case errors.Is(err, checkpoint.ErrNotFound):
		slog.Info("No checkpoint found, performing full resync", "collection", m.collectionID)
	default:
		slog.Warn("Checkpoint unreadable, performing full resync",
			"collection", m.collectionID,
			"error", err)
	}
	return ""
}

// applyBatch applies one page of changes. Item failures are counted, not
// fatal; the caller decides whether a failing batch ends the run.
func (m *Monitor) applyBatch(ctx context.Context, items []vendor.ChangeItem) (applied, failed int) {
	for _, item := range items {
		if err := m.applyItem(ctx, item); err != nil {
			failed++
			slog.Error("Failed to apply change item",
				"collection", m.collectionID,
				"identifier", item.Identifier,
				"error", err)
			continue
		}
		applied++
	}
	return applied, failed
}

// applyItem upserts one vendor change. Applying the same item twice
// yields the same state: scalar fields are replaced, and the owned-copy
// count is reconciled against outstanding loans and reservations rather
// than summed.
func (m *Monitor) applyItem(ctx context.Context, item vendor.ChangeItem) error {
	if item.Identifier == "" {
		return vendor.Permanent(errors.New("change item has no identifier"))
	}
	poolID := pool.ID{CollectionID: m.collectionID, TitleID: item.Identifier}

	if item.Removed {
		if err := m.catalog.Remove(ctx, m.collectionID, item.Identifier); err != nil {
			return err
		}
		err := m.pools.Mutate(ctx, poolID, func(p *pool.LicensePool) error {
			p.SetOwned(0)
			return nil
		})
		if errors.Is(err, pool.ErrPoolNotFound) {
			return nil
		}
		return err
	}

	if err := m.catalog.Upsert(ctx, catalog.Entry{
		Identifier:   item.Identifier,
		CollectionID: m.collectionID,
		Title:        item.Title,
		Author:       item.Author,
		Medium:       item.Medium,
		UpdatedAt:    item.UpdatedAt,
	}); err != nil {
		return err
	}

	if err := m.pools.Ensure(ctx, poolID); err != nil {
		return err
	}
	if err := m.pools.Mutate(ctx, poolID, func(p *pool.LicensePool) error {
		p.SetOwned(item.CopiesOwned)
		return nil
	}); err != nil {
		return err
	}

	now := m.clk.Now()
	for _, coverageType := range m.coverageTypes {
		if err := m.ledger.Register(ctx, item.Identifier, coverageType, now); err != nil {
			return err
		}
	}
	return nil
}
