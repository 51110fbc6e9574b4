package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/postpulse/postpulse/internal/config"
	"github.com/postpulse/postpulse/internal/histogram"
	"github.com/postpulse/postpulse/internal/metrics"
	"github.com/postpulse/postpulse/internal/summary"
	"github.com/postpulse/postpulse/internal/timeline"
	"github.com/postpulse/postpulse/internal/timestamp"
	"github.com/postpulse/postpulse/pkg/types"
)

// ErrAccountNotFound is returned when the first page reports an unknown account.
var ErrAccountNotFound = timeline.ErrAccountNotFound

// PageFetcher returns one page of an account's posts with id <= maxID,
// newest first. A nil maxID starts from the most recent post; an empty
// slice means the end of history. *timeline.Client implements it.
type PageFetcher interface {
	FetchPage(ctx context.Context, account string, maxID *int64, count int) ([]timeline.Post, error)
}

// Engine computes distribution profiles. Each call owns its fetch state and
// histograms, so one Engine may serve concurrent callers.
type Engine struct {
	pages   PageFetcher
	cfg     config.EngineConfig
	norm    *timestamp.Normalizer
	metrics *metrics.Collectors

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records fetch and computation metrics on m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine reading pages from pages. cfg must have a positive
// page count and page size; the timezone must load.
func New(pages PageFetcher, cfg config.EngineConfig, opts ...Option) (*Engine, error) {
	if pages == nil {
		return nil, errors.New("engine: page fetcher is required")
	}
	if cfg.PageCount <= 0 {
		return nil, fmt.Errorf("engine: page count %d must be positive", cfg.PageCount)
	}
	if cfg.PageSize <= 0 {
		return nil, fmt.Errorf("engine: page size %d must be positive", cfg.PageSize)
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 1
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("engine: load timezone %q: %w", cfg.Timezone, err)
	}

	e := &Engine{
		pages: pages,
		cfg:   cfg,
		norm:  timestamp.NewNormalizer(loc),
		now:   time.Now,
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine's effective configuration.
func (e *Engine) Config() config.EngineConfig {
	return e.cfg
}

// ComputeDistribution fetches account's recent history and returns its
// weekday and two-hour window profile. Buckets with no observations have
// Sum 0 and Empty Mean and Std.
//
// The error is non-nil only when the account is unknown (ErrAccountNotFound)
// or ctx ends; partial fetches are described by the result's Report.
func (e *Engine) ComputeDistribution(ctx context.Context, account string) (*types.DistributionResult, error) {
	start := e.now()

	hist, err := e.Fetch(ctx, account)
	if err != nil {
		result := metrics.ResultError
		if errors.Is(err, ErrAccountNotFound) {
			result = metrics.ResultNotFound
		}
		e.metrics.ComputeFinished(result, e.now().Sub(start))
		return nil, err
	}

	set := histogram.Aggregate(hist.Timestamps)
	hist.Report.Posts = set.Total()
	res := &types.DistributionResult{
		Account: account,
		Day:     summary.Days(set),
		Hour:    summary.Windows(set),
		Report:  hist.Report,
	}

	elapsed := e.now().Sub(start)
	e.metrics.ComputeFinished(metrics.ResultOK, elapsed)
	slog.Info("engine: distribution computed",
		"account", account,
		"run_id", res.Report.RunID,
		"posts", res.Report.Posts,
		"pages", len(res.Report.Pages),
		"complete", res.Report.Complete,
		"truncated", res.Report.Truncated,
		"failed", res.Report.Failed,
		"elapsed", elapsed,
	)
	return res, nil
}
