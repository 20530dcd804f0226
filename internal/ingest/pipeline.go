// Package ingest runs store invocations: feed pulls, pushed posting batches,
// rebuilds and month clears. Each invocation holds the store lease, loads
// its state from the object store, and writes everything back before it
// returns.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/dedup"
	"github.com/JakeFAU/realtime-job-postings/internal/feed"
	"github.com/JakeFAU/realtime-job-postings/internal/lease"
	"github.com/JakeFAU/realtime-job-postings/internal/metrics"
	"github.com/JakeFAU/realtime-job-postings/internal/notify"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	"github.com/JakeFAU/realtime-job-postings/internal/posting"
	"github.com/JakeFAU/realtime-job-postings/internal/rebuild"
	"github.com/JakeFAU/realtime-job-postings/internal/statscache"
)

// Invocation kinds.
const (
	KindIngest  = "ingest"
	KindRebuild = "rebuild"
	KindClear   = "clear_month"
)

// Run statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// DefaultLeaseTTL bounds how long a crashed invocation can block others.
const DefaultLeaseTTL = 5 * time.Minute

// Result counts the outcome of one ingest invocation.
type Result struct {
	Processed  int `json:"processed"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Malformed  int `json:"malformed"`
	CacheHits  int `json:"cacheHits"`
	Evicted    int `json:"evicted"`
}

// Run is one row of the invocation ledger.
type Run struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Result     Result    `json:"result"`
	Error      string    `json:"error,omitempty"`
}

// RunRecorder persists invocation outcomes.
type RunRecorder interface {
	RecordRun(ctx context.Context, run Run) error
}

// IDGenerator issues run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Config tunes the pipeline.
type Config struct {
	LeaseTTL     time.Duration
	CacheHorizon time.Duration
	CacheControl string
}

// Deps are the collaborators of a Pipeline. Locker, Notifier and Runs may be
// nil.
type Deps struct {
	Store      *objectstore.Adapter
	Sources    []feed.Source
	Classifier posting.Classifier
	Locker     lease.Locker
	Notifier   notify.Notifier
	Runs       RunRecorder
	IDs        IDGenerator
	Clock      posting.Clock
}

// Pipeline executes invocations against the posting store.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = lease.NewLocal()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger.Named("ingest")}
}

// Run pulls every configured feed and ingests the result.
func (p *Pipeline) Run(ctx context.Context) (Result, error) {
	if !p.deps.Store.IsAvailable() {
		return Result{}, fmt.Errorf("ingest: %w", objectstore.ErrStorageUnavailable)
	}
	raws, err := feed.PullAll(ctx, p.deps.Sources, p.logger)
	if err != nil {
		return Result{}, fmt.Errorf("pull feeds: %w", err)
	}
	return p.Ingest(ctx, raws)
}

// Ingest deduplicates, classifies and stores raws. A malformed posting is
// counted and skipped; any store failure aborts the invocation.
func (p *Pipeline) Ingest(ctx context.Context, raws []posting.RawPosting) (Result, error) {
	var result Result
	err := p.invoke(ctx, KindIngest, &result, func(ctx context.Context, logger *zap.Logger) error {
		return p.ingest(ctx, logger, raws, &result)
	})
	return result, err
}

func (p *Pipeline) ingest(ctx context.Context, logger *zap.Logger, raws []posting.RawPosting, result *Result) error {
	store := p.deps.Store
	cache := dedup.NewExpiringIndex(store, dedup.ScrapeCacheKey, p.cfg.CacheHorizon, p.deps.Clock, logger)
	if err := cache.Load(ctx); err != nil {
		return err
	}
	result.Evicted = cache.Evicted()

	var opts []statscache.Option
	if p.cfg.CacheControl != "" {
		opts = append(opts, statscache.WithCacheControl(p.cfg.CacheControl))
	}
	sc := statscache.New(store, p.deps.Clock, logger, opts...)
	if err := sc.Load(ctx); err != nil {
		return err
	}

	for _, raw := range raws {
		if err := ctx.Err(); err != nil {
			return err
		}
		result.Processed++
		key := posting.NormalizeURL(raw.Link)
		if key == "" {
			result.Malformed++
			metrics.ObservePosting("malformed")
			logger.Warn("posting without link skipped", zap.String("title", raw.Title))
			continue
		}
		if cache.Has(key) {
			result.CacheHits++
			metrics.ObservePosting("cached")
			continue
		}

		now := p.deps.Clock.Now()
		rec, err := posting.Build(raw, p.deps.Classifier.Classify(posting.InputOf(raw)), now)
		if err != nil {
			result.Malformed++
			metrics.ObservePosting("malformed")
			logger.Warn("posting skipped", zap.String("link", raw.Link), zap.Error(err))
			continue
		}
		added, err := sc.AddJob(ctx, rec)
		if errors.Is(err, posting.ErrMalformedRecord) {
			result.Malformed++
			metrics.ObservePosting("malformed")
			logger.Warn("posting skipped", zap.String("link", raw.Link), zap.Error(err))
			continue
		}
		if err != nil {
			return err
		}
		if added.Inserted {
			result.Inserted++
			metrics.ObservePosting("inserted")
		} else {
			result.Duplicates++
			metrics.ObservePosting("duplicate")
		}
		cache.Add(key, rec.PostedDate)
	}

	if _, err := sc.Save(ctx); err != nil {
		return err
	}
	return cache.Save(ctx)
}

// Rebuild re-derives fields and statistics for months (all when empty).
func (p *Pipeline) Rebuild(ctx context.Context, months []string) (rebuild.Report, error) {
	var report rebuild.Report
	counts := func() map[string]int {
		n := 0
		for _, m := range report.Months {
			n += m.Records
		}
		return map[string]int{"months": len(report.Months), "records": n, "skipped": len(report.Skipped)}
	}
	err := p.invokeWith(ctx, KindRebuild, counts, nil, func(ctx context.Context, logger *zap.Logger) error {
		r := rebuild.New(p.deps.Store, p.deps.Classifier, p.deps.Clock, logger, p.cfg.CacheControl)
		var err error
		report, err = r.Run(ctx, months)
		return err
	})
	return report, err
}

// ClearMonth removes a month of postings and its statistics.
func (p *Pipeline) ClearMonth(ctx context.Context, month string) (statscache.ClearMonthResult, error) {
	var res statscache.ClearMonthResult
	counts := func() map[string]int {
		return map[string]int{"days": res.DeletedDays, "records": res.DeletedRecords}
	}
	err := p.invokeWith(ctx, KindClear, counts, nil, func(ctx context.Context, logger *zap.Logger) error {
		sc := statscache.New(p.deps.Store, p.deps.Clock, logger)
		var err error
		res, err = sc.ClearMonth(ctx, month)
		return err
	})
	return res, err
}

func (p *Pipeline) invoke(ctx context.Context, kind string, result *Result, fn func(context.Context, *zap.Logger) error) error {
	counts := func() map[string]int {
		return map[string]int{
			"processed":  result.Processed,
			"inserted":   result.Inserted,
			"duplicates": result.Duplicates,
			"malformed":  result.Malformed,
			"cacheHits":  result.CacheHits,
			"evicted":    result.Evicted,
		}
	}
	return p.invokeWith(ctx, kind, counts, result, fn)
}

// invokeWith runs fn under the store lease and records the outcome in the
// ledger, the metrics and the notifier.
func (p *Pipeline) invokeWith(
	ctx context.Context,
	kind string,
	counts func() map[string]int,
	result *Result,
	fn func(context.Context, *zap.Logger) error,
) error {
	if !p.deps.Store.IsAvailable() {
		metrics.ObserveInvocation(kind, StatusFailed)
		return fmt.Errorf("%s: %w", kind, objectstore.ErrStorageUnavailable)
	}
	run := Run{Kind: kind, StartedAt: p.deps.Clock.Now().UTC()}
	if p.deps.IDs != nil {
		id, err := p.deps.IDs.NewID()
		if err != nil {
			return err
		}
		run.ID = id
	}
	logger := p.logger.With(zap.String("run_id", run.ID), zap.String("kind", kind))

	held, err := p.deps.Locker.Acquire(ctx, lease.StoreLease, p.cfg.LeaseTTL)
	if err != nil {
		metrics.ObserveInvocation(kind, "lease_held")
		return err
	}
	err = fn(ctx, logger)
	if releaseErr := held.Release(context.WithoutCancel(ctx)); releaseErr != nil {
		logger.Warn("lease release failed", zap.Error(releaseErr))
	}

	run.FinishedAt = p.deps.Clock.Now().UTC()
	run.Status = StatusSucceeded
	ev := notify.Event{Kind: kind + ".completed", RunID: run.ID, OccurredAt: run.FinishedAt, Counts: counts()}
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
		ev.Kind = kind + ".failed"
		ev.Error = run.Error
		logger.Error("invocation failed", zap.Error(err))
	} else {
		logger.Info("invocation complete", zap.Any("counts", ev.Counts))
	}
	if result != nil {
		run.Result = *result
	}
	metrics.ObserveInvocation(kind, run.Status)

	bg := context.WithoutCancel(ctx)
	if p.deps.Runs != nil {
		if recErr := p.deps.Runs.RecordRun(bg, run); recErr != nil {
			logger.Warn("run ledger write failed", zap.Error(recErr))
		}
	}
	notify.Send(bg, p.deps.Notifier, logger, ev)
	return err
}
