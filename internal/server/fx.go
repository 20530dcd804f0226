// Package server builds the application's dependency graph and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-job-postings/internal/api"
	"github.com/JakeFAU/realtime-job-postings/internal/applied"
	"github.com/JakeFAU/realtime-job-postings/internal/classify/rules"
	"github.com/JakeFAU/realtime-job-postings/internal/clock/system"
	"github.com/JakeFAU/realtime-job-postings/internal/config"
	"github.com/JakeFAU/realtime-job-postings/internal/feed"
	collyfeed "github.com/JakeFAU/realtime-job-postings/internal/feed/colly"
	"github.com/JakeFAU/realtime-job-postings/internal/id/uuid"
	"github.com/JakeFAU/realtime-job-postings/internal/ingest"
	"github.com/JakeFAU/realtime-job-postings/internal/lease"
	redislease "github.com/JakeFAU/realtime-job-postings/internal/lease/redis"
	"github.com/JakeFAU/realtime-job-postings/internal/logging"
	"github.com/JakeFAU/realtime-job-postings/internal/metrics"
	"github.com/JakeFAU/realtime-job-postings/internal/notify"
	notifymemory "github.com/JakeFAU/realtime-job-postings/internal/notify/memory"
	natsnotify "github.com/JakeFAU/realtime-job-postings/internal/notify/nats"
	pubsubnotify "github.com/JakeFAU/realtime-job-postings/internal/notify/pubsub"
	"github.com/JakeFAU/realtime-job-postings/internal/objectstore"
	badgerstore "github.com/JakeFAU/realtime-job-postings/internal/objectstore/badger"
	gcsstore "github.com/JakeFAU/realtime-job-postings/internal/objectstore/gcs"
	localstore "github.com/JakeFAU/realtime-job-postings/internal/objectstore/local"
	memorystore "github.com/JakeFAU/realtime-job-postings/internal/objectstore/memory"
	"github.com/JakeFAU/realtime-job-postings/internal/policy/ratelimit"
	"github.com/JakeFAU/realtime-job-postings/internal/scheduler"
	pgstore "github.com/JakeFAU/realtime-job-postings/internal/storage/postgres"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *objectstore.Adapter
	pipeline  *ingest.Pipeline
	applied   *applied.Store
	apiServer *api.Server
	scheduler *scheduler.Scheduler
	runs      *pgstore.RunStore

	// closers run in reverse order on Close.
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

func (a *App) onClose(name string, fn func() error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Pipeline returns the invocation pipeline.
func (a *App) Pipeline() *ingest.Pipeline { return a.pipeline }

// Applied returns the applied-jobs store.
func (a *App) Applied() *applied.Store { return a.applied }

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Run serves HTTP and the ingest schedule until ctx is canceled or the
// process receives SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.scheduler.Stop()
	return a.Close()
}

// Close releases every client the App opened.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(); err != nil {
			a.logger.Warn("close failed", zap.String("component", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
		}
	}
	a.closers = nil
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	return errors.Join(errs...)
}

// Build creates the application's dependencies. On error every client opened
// so far is closed.
func Build(ctx context.Context, cfg *config.Config) (app *App, err error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	app = &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("notify_backend", cfg.Notify.Backend),
		zap.Int("feeds", len(cfg.Ingest.Feeds)),
	)

	backend, err := setupStorage(ctx, app)
	if err != nil {
		return nil, err
	}
	name := cfg.Storage.Backend
	if name == "" {
		name = config.BackendMemory
	}
	app.store = objectstore.NewAdapter(name, backend, logger)

	locker, err := setupLease(ctx, app)
	if err != nil {
		return nil, err
	}
	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}

	clock := system.New()
	deps := ingest.Deps{
		Store:      app.store,
		Sources:    setupFeeds(cfg),
		Classifier: rules.New(),
		Locker:     locker,
		Notifier:   notifier,
		IDs:        uuid.New("run"),
		Clock:      clock,
	}
	if app.runs != nil {
		deps.Runs = app.runs
	}
	app.pipeline = ingest.New(deps, ingest.Config{
		LeaseTTL:     cfg.LeaseTTL(),
		CacheHorizon: cfg.CacheHorizon(),
		CacheControl: cfg.Storage.CacheControl,
	}, logger)
	app.applied = applied.New(app.store, uuid.New(""), clock, logger)

	apiDeps := api.Deps{
		Pipeline: app.pipeline,
		Store:    app.store,
		Applied:  app.applied,
		Clock:    clock,
	}
	if app.runs != nil {
		apiDeps.Runs = app.runs
	}
	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(apiDeps, api.Options{
		APIKey:       apiKey,
		CacheControl: cfg.Storage.CacheControl,
	}, logger)
	app.scheduler = scheduler.New(app.pipeline, scheduler.Options{
		Spec:       cfg.Ingest.Schedule,
		RunTimeout: cfg.LeaseTTL(),
	}, logger)

	return app, nil
}

func setupStorage(ctx context.Context, app *App) (objectstore.Backend, error) {
	cfg := app.cfg.Storage
	switch cfg.Backend {
	case config.BackendGCS:
		app.logger.Info("using GCS storage backend", zap.String("bucket", cfg.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.onClose("gcs", client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Bucket, Prefix: cfg.Prefix})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendLocal:
		app.logger.Info("using local storage backend", zap.String("path", cfg.Local.BaseDir))
		store, err := localstore.New(localstore.Config{BaseDir: cfg.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return store, nil
	case config.BackendBadger:
		app.logger.Info("using badger storage backend",
			zap.String("dir", cfg.Badger.Dir), zap.Bool("in_memory", cfg.Badger.InMemory))
		store, err := badgerstore.Open(badgerstore.Config{Dir: cfg.Badger.Dir, InMemory: cfg.Badger.InMemory})
		if err != nil {
			return nil, fmt.Errorf("badger blob store init failed: %w", err)
		}
		app.onClose("badger", store.Close)
		return store, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystore.NewBlobStore(), nil
	}
}

func setupLease(ctx context.Context, app *App) (lease.Locker, error) {
	if app.cfg.Lease.RedisURL == "" {
		app.logger.Warn("no lease.redis_url configured, writers are serialised in this process only")
		return lease.NewLocal(), nil
	}
	client, err := redislease.Connect(ctx, app.cfg.Lease.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis lease init failed: %w", err)
	}
	app.onClose("redis", client.Close)
	app.logger.Info("redis lease initialized", zap.Duration("ttl", app.cfg.LeaseTTL()))
	return redislease.New(client, uuid.New("lease"), app.logger), nil
}

func setupNotifier(ctx context.Context, app *App) (notify.Notifier, error) {
	cfg := app.cfg.Notify
	switch cfg.Backend {
	case config.NotifyPubSub:
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		app.onClose("pubsub", client.Close)
		topic := client.Topic(cfg.Topic)
		app.onClose("pubsub topic", func() error {
			topic.Stop()
			return nil
		})
		app.logger.Info("Pub/Sub notifier initialized",
			zap.String("project", cfg.ProjectID),
			zap.String("topic", cfg.Topic),
		)
		return pubsubnotify.New(topic), nil
	case config.NotifyNATS:
		conn, err := natsnotify.Connect(cfg.NATSURL)
		if err != nil {
			return nil, err
		}
		app.onClose("nats", func() error { return conn.Drain() })
		app.logger.Info("NATS notifier initialized", zap.String("subject", cfg.Subject))
		return natsnotify.New(conn, cfg.Subject), nil
	case config.NotifyMemory:
		app.logger.Info("using in-memory notifier")
		return notifymemory.New(), nil
	default:
		return notify.Nop{}, nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	cfg := app.cfg.Database
	if cfg.DSN == "" {
		app.logger.Info("no database.dsn configured, run ledger disabled")
		return nil
	}
	if cfg.Migrate {
		if err := pgstore.Migrate(cfg.DSN, app.logger); err != nil {
			return fmt.Errorf("migrate run ledger: %w", err)
		}
	}
	runs, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{DSN: cfg.DSN, MaxConns: cfg.MaxConns})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.onClose("postgres", func() error {
		runs.Close()
		return nil
	})
	app.runs = runs
	app.logger.Info("run ledger initialized")
	return nil
}

func setupFeeds(cfg *config.Config) []feed.Source {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Ingest.PerHostRPS,
		DefaultBurst: cfg.Ingest.PerHostBurst,
	})
	sources := make([]feed.Source, 0, len(cfg.Ingest.Feeds))
	for _, f := range cfg.Ingest.Feeds {
		sources = append(sources, collyfeed.New(collyfeed.Config{
			Name:      f.Name,
			URL:       f.URL,
			UserAgent: cfg.Ingest.UserAgent,
			Timeout:   cfg.IngestTimeout(),
			Limiter:   limiter,
		}))
	}
	return sources
}
