package coverage

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/circlib/circulation-server/internal/clock"
	"github.com/circlib/circulation-server/internal/vendor"
)

// Producer is the pluggable capability that produces coverage for one
// identifier. A nil return means coverage was produced. Failures must be
// classified with vendor.Transient or vendor.Permanent; an unclassified
// error is treated as transient.
type Producer interface {
	Produce(ctx context.Context, identifier string) error
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, identifier string) error

// Produce implements Producer.
func (f ProducerFunc) Produce(ctx context.Context, identifier string) error {
	return f(ctx, identifier)
}

// RunResult summarizes one provider run.
type RunResult struct {
	// Skipped is true when another run for the same coverage type was
	// already in flight and this invocation did nothing.
	Skipped bool

	Covered int
	Failed  int
}

// Provider drives identifiers of one coverage type to a terminal state.
// Distinct coverage types are independent; within one type, runs are
// single-flight to avoid duplicate-registration races against the ledger.
type Provider struct {
	coverageType string
	ledger       Ledger
	producer     Producer
	clk          clock.Clock
	maxAttempts  int
	batchSize    int

	running atomic.Bool
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithBatchSize bounds the selection size per run.
func WithBatchSize(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithMaxAttempts bounds transient-failure retries per record.
func WithMaxAttempts(n int) ProviderOption {
	return func(p *Provider) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

const (
	defaultMaxAttempts = 3
	defaultBatchSize   = 100
)

// NewProvider creates a coverage provider for one coverage type.
func NewProvider(coverageType string, ledger Ledger, producer Producer, clk clock.Clock, opts ...ProviderOption) *Provider {
	p := &Provider{
		coverageType: coverageType,
		ledger:       ledger,
		producer:     producer,
		clk:          clk,
		maxAttempts:  defaultMaxAttempts,
		batchSize:    defaultBatchSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CoverageType returns the coverage type this provider serves.
func (p *Provider) CoverageType() string {
	return p.coverageType
}

// Run selects one batch of identifiers needing coverage and attempts each.
// A second concurrent call for the same provider returns immediately with
// a skipped result.
func (p *Provider) Run(ctx context.Context) (RunResult, error) {
	if !p.running.CompareAndSwap(false, true) {
		return RunResult{Skipped: true}, nil
	}
	defer p.running.Store(false)

	batch, err := p.ledger.NeedingCoverage(ctx, p.coverageType, p.maxAttempts, p.batchSize)
	if err != nil {
		return RunResult{}, fmt.Errorf("selecting identifiers needing coverage: %w", err)
	}

	var result RunResult
	for _, record := range batch {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if p.attempt(ctx, record) {
			result.Covered++
		} else {
			result.Failed++
		}
	}

	slog.Info("Coverage batch processed",
		"coverage_type", p.coverageType,
		"covered", result.Covered,
		"failed", result.Failed)
	return result, nil
}

// attempt produces coverage for one record and persists the transition.
// Returns true on success.
func (p *Provider) attempt(ctx context.Context, record Record) bool {
	err := p.producer.Produce(ctx, record.Identifier)
	now := p.clk.Now()
	record.UpdatedAt = now

	switch {
	case err == nil:
		record.Status = StatusSuccess
		record.ExceptionDetail = ""
	case vendor.IsPermanent(err):
		record.Status = StatusPermanentFailure
		record.AttemptCount++
		record.ExceptionDetail = err.Error()
	default:
		record.AttemptCount++
		record.ExceptionDetail = err.Error()
		if record.AttemptCount < p.maxAttempts {
			record.Status = StatusTransientFailure
		} else {
			record.Status = StatusPermanentFailure
		}
	}

	if updateErr := p.ledger.Update(ctx, record); updateErr != nil {
		slog.Error("Failed to update coverage record",
			"identifier", record.Identifier,
			"coverage_type", p.coverageType,
			"error", updateErr)
		return false
	}
	return record.Status == StatusSuccess
}
