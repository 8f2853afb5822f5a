package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/metric"

	"github.com/circlib/circulation-server/internal/catalog"
	"github.com/circlib/circulation-server/internal/checkpoint"
	"github.com/circlib/circulation-server/internal/clock"
	"github.com/circlib/circulation-server/internal/config"
	"github.com/circlib/circulation-server/internal/coverage"
	"github.com/circlib/circulation-server/internal/db"
	"github.com/circlib/circulation-server/internal/monitor"
	"github.com/circlib/circulation-server/internal/pool"
	"github.com/circlib/circulation-server/internal/runner"
	"github.com/circlib/circulation-server/internal/telemetry"
	"github.com/circlib/circulation-server/internal/vendor"
)

// application bundles the wired components of one circd process.
type application struct {
	cfg  *config.Config
	conn *db.Connection

	checkpoints checkpoint.Store
	catalog     catalog.Store
	pools       pool.Store
	ledger      coverage.Ledger

	circulation *pool.Service
	reaper      *pool.Reaper
	clk         clock.Clock

	monitors     map[string]*monitor.Monitor
	syncJobs     map[string]runner.Job
	coverageJobs []runner.Job
	reapJob      runner.Job

	run      *runner.Runner
	registry *prometheus.Registry
}

// buildApplication wires stores, monitors, providers and jobs from the
// configuration. Postgres-backed stores are used when a database is
// configured, in-memory stores otherwise.
func buildApplication(ctx context.Context, cfg *config.Config, meterProvider metric.MeterProvider) (*application, error) {
	app := &application{
		cfg:      cfg,
		monitors: make(map[string]*monitor.Monitor),
		syncJobs: make(map[string]runner.Job),
		run:      runner.NewRunner(),
	}

	if cfg.Database != nil {
		conn, err := db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		app.conn = conn
		app.checkpoints = checkpoint.NewDBStore(conn.Pool)
		app.catalog = catalog.NewDBStore(conn.Pool)
		app.pools = pool.NewDBStore(conn.Pool)
		app.ledger = coverage.NewDBLedger(conn.Pool)
	} else {
		slog.Info("No database configured, using in-memory stores")
		app.checkpoints = checkpoint.NewMemoryStore()
		app.catalog = catalog.NewMemoryStore()
		app.pools = pool.NewMemoryStore()
		app.ledger = coverage.NewMemoryLedger()
	}

	syncMetrics, err := telemetry.NewSyncMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("creating sync metrics: %w", err)
	}
	coverageMetrics, err := telemetry.NewCoverageMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("creating coverage metrics: %w", err)
	}
	circulationMetrics, err := telemetry.NewCirculationMetrics(meterProvider)
	if err != nil {
		return nil, fmt.Errorf("creating circulation metrics: %w", err)
	}

	clk := clock.NewSystem()
	app.clk = clk
	app.circulation = pool.NewService(app.pools, clk, policyResolver(cfg), logNotifier{})
	app.reaper = pool.NewReaper(app.circulation, cfg.Reaper.Parallelism)
	app.reapJob = runner.NewReaperJob(app.reaper, "", circulationMetrics)

	retryPolicy := vendor.RetryPolicyFromConfig(cfg.Retry)
	feeds := vendor.NewFeedFactory()
	for i := range cfg.Collections {
		coll := &cfg.Collections[i]
		feed, err := feeds.CreateFeed(coll)
		if err != nil {
			return nil, fmt.Errorf("creating feed for collection %s: %w", coll.Name, err)
		}

		opts := []monitor.Option{
			monitor.WithRetryPolicy(retryPolicy),
			monitor.WithCoverageTypes(cfg.Coverage.Types),
		}
		if coll.Sync != nil {
			opts = append(opts,
				monitor.WithPageLimit(coll.Sync.PageLimit),
				monitor.WithFailFast(coll.Sync.FailFast))
		}

		m := monitor.New(coll.Name, feed, app.checkpoints, app.catalog, app.pools, app.ledger, clk, opts...)
		app.monitors[coll.Name] = m
		app.syncJobs[coll.Name] = runner.NewMonitorJob(m, syncMetrics)
	}

	if len(cfg.Coverage.Types) > 0 {
		lookup, err := vendor.NewLookupClient(cfg.Coverage.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("creating metadata lookup client: %w", err)
		}
		for _, coverageType := range cfg.Coverage.Types {
			producer := coverage.ProducerFunc(func(ctx context.Context, identifier string) error {
				return lookup.Lookup(ctx, coverageType, identifier)
			})
			provider := coverage.NewProvider(coverageType, app.ledger, producer, clk,
				coverage.WithMaxAttempts(cfg.Coverage.MaxAttempts),
				coverage.WithBatchSize(cfg.Coverage.BatchSize))
			app.coverageJobs = append(app.coverageJobs, runner.NewCoverageJob(provider, coverageMetrics))
		}
	}

	return app, nil
}

// Close releases held resources.
func (a *application) Close() {
	if a.conn != nil {
		a.conn.Close()
	}
}

// schedule registers every periodic job on the scheduler.
func (a *application) schedule(s *runner.Scheduler) {
	for i := range a.cfg.Collections {
		coll := &a.cfg.Collections[i]
		var schedule string
		if coll.Sync != nil {
			schedule = coll.Sync.Schedule
		}
		s.Add(a.syncJobs[coll.Name], interval(schedule))
	}
	for _, job := range a.coverageJobs {
		s.Add(job, interval(a.cfg.Coverage.Schedule))
	}
	s.Add(a.reapJob, interval(a.cfg.Reaper.Schedule))
}

// interval parses a schedule duration; zero means the scheduler default.
func interval(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// policyResolver maps collection IDs onto their effective circulation
// policy, falling back to the global policy for unknown collections.
func policyResolver(cfg *config.Config) pool.PolicyResolver {
	byName := make(map[string]*config.CollectionConfig, len(cfg.Collections))
	for i := range cfg.Collections {
		byName[cfg.Collections[i].Name] = &cfg.Collections[i]
	}
	return pool.PolicyResolverFunc(func(collectionID string) pool.Policy {
		coll := byName[collectionID]
		if coll == nil {
			coll = &config.CollectionConfig{}
		}
		return pool.Policy{
			LoanPeriod:        coll.LoanPeriod(cfg.Circulation),
			ReservationWindow: coll.ReservationWindow(cfg.Circulation),
		}
	})
}

// logNotifier records hold promotions in the log. Delivery channels
// (email, push) hang off this hook.
type logNotifier struct{}

func (logNotifier) HoldReady(_ context.Context, patronID string, id pool.ID) {
	slog.Info("Hold ready for pickup",
		"patron", patronID,
		"collection", id.CollectionID,
		"title", id.TitleID)
}
