// Package scheduler triggers feed ingestion on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/ingest"
	"github.com/JakeFAU/realtime-job-postings/internal/lease"
	"github.com/JakeFAU/realtime-job-postings/internal/logging"
)

// DefaultSpec is used when no schedule is configured.
const DefaultSpec = "@every 1h"

// Runner pulls and ingests every feed. *ingest.Pipeline satisfies it.
type Runner interface {
	Run(ctx context.Context) (ingest.Result, error)
}

// Options tune a Scheduler.
type Options struct {
	Spec string
	// RunTimeout bounds a single tick. Zero means no bound.
	RunTimeout time.Duration
	// RunOnStart fires one ingest as soon as Start is called.
	RunOnStart bool
}

// Scheduler wraps robfig/cron and owns the ingest loop.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	opts   Options
	logger *zap.Logger
	cancel context.CancelFunc
	// running covers the start-up run, which fires outside the cron chain.
	running atomic.Bool
}

// New creates a Scheduler. Overlapping ticks are skipped rather than queued.
func New(runner Runner, opts Options, logger *zap.Logger) *Scheduler {
	logger = logging.OrNop(logger).Named("scheduler")
	if opts.Spec == "" {
		opts.Spec = DefaultSpec
	}
	cl := cronLogger{logger: logger.Sugar()}
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		runner: runner,
		opts:   opts,
		logger: logger,
	}
}

// Start registers the ingest job and starts the cron loop. Ticks run under a
// context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if _, err := s.cron.AddFunc(s.opts.Spec, func() { s.Tick(ctx) }); err != nil {
		cancel()
		return fmt.Errorf("schedule %q: %w", s.opts.Spec, err)
	}
	s.cancel = cancel
	s.cron.Start()
	s.logger.Info("cron started", zap.String("spec", s.opts.Spec))
	if s.opts.RunOnStart {
		go s.Tick(ctx)
	}
	return nil
}

// Stop cancels in-flight ticks and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

// Tick runs one ingest. A held lease means another invocation is writing
// and is not an error. A tick that finds the previous one still running
// returns at once.
func (s *Scheduler) Tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("ingest skipped, previous tick still running")
		return
	}
	defer s.running.Store(false)
	if s.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RunTimeout)
		defer cancel()
	}
	res, err := s.runner.Run(ctx)
	switch {
	case errors.Is(err, lease.ErrHeld):
		s.logger.Info("ingest skipped, store lease held elsewhere")
	case err != nil:
		s.logger.Error("scheduled ingest failed", zap.Error(err))
	default:
		s.logger.Info("scheduled ingest complete",
			zap.Int("processed", res.Processed),
			zap.Int("inserted", res.Inserted),
			zap.Int("duplicates", res.Duplicates))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
