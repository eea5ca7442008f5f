// Package server builds the orchestrator's dependency graph from config and
// runs it until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-orchestrator/internal/analyzer"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/api"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/audit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/clock/system"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/config"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/dispatcher"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/events"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/hash/sha256"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/id/uuid"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/lifecycle"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/metrics"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/orchestrator"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/policy/ratelimit"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/policy/simple"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/progress"
	progresssinks "github.com/JakeFAU/seo-audit-orchestrator/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/seo-audit-orchestrator/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/seo-audit-orchestrator/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/seo-audit-orchestrator/internal/queue/memory"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/reconcile"
	gcsstorage "github.com/JakeFAU/seo-audit-orchestrator/internal/storage/gcs"
	localstorage "github.com/JakeFAU/seo-audit-orchestrator/internal/storage/local"
	memorystorage "github.com/JakeFAU/seo-audit-orchestrator/internal/storage/memory"
	pgstore "github.com/JakeFAU/seo-audit-orchestrator/internal/storage/postgres"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/store"
	"github.com/JakeFAU/seo-audit-orchestrator/internal/worker"
)

// persistence is the full store surface the app needs.
type persistence interface {
	audit.Store
	store.TimelineRepository
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store       persistence
	pgStore     *pgstore.Store
	blobStore   audit.BlobStore
	gcsClient   *storage.Client
	publisher   audit.Publisher
	pubsub      *pubsub.Client
	gcpPub      *gcppublisher.Publisher
	redis       *redis.Client
	broker      events.Broker
	progressHub *progress.Hub
	queue       *queuememory.Queue
	dispatch    *dispatcher.Dispatcher
	finalizer   *lifecycle.Finalizer
	service     *orchestrator.Service
	sweeper     *reconcile.Sweeper
	apiServer   *api.Server
}

// Build creates the application's dependencies. ctx bounds background work
// started on behalf of requests, such as batch dispatch.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.Int("port", cfg.Server.Port),
		zap.String("database", cfg.Database.Driver),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("concurrency", cfg.Dispatch.Concurrency),
	)

	if err := app.setupStore(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupBlobStore(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err := app.setupBroker(ctx); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	app.setupProgress(ctx)

	ids := uuid.New()
	clock := system.New()
	app.finalizer = lifecycle.New(app.store, ids, clock, app.progressHub, app.publisher,
		lifecycle.Config{Topic: cfg.PubSub.TopicName}, logger)

	if err := app.setupDispatcher(clock); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.service = orchestrator.New(app.store, app.store, app.dispatch, app.finalizer, ids, clock, app.progressHub,
		orchestrator.Config{
			DefaultMaxPages: cfg.Dispatch.DefaultMaxPages,
			MaxPagesCap:     cfg.Dispatch.MaxPagesCap,
			EnqueueTimeout:  time.Duration(cfg.Dispatch.EnqueueTimeoutSeconds) * time.Second,
			BaseContext:     ctx,
		}, logger)

	app.sweeper = reconcile.New(app.store, app.finalizer, clock, reconcile.Config{
		Schedule:   cfg.Reconcile.Schedule,
		StaleAfter: cfg.StaleAfter(),
	}, logger)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	app.apiServer = api.NewServer(app.service, app.broker, api.Config{
		APIKey:         apiKey,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second,
		StreamRefresh:  time.Duration(cfg.Server.StreamRefreshSeconds) * time.Second,
		Ready:          app.ready,
	}, logger)

	return app, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Service exposes the orchestrator for in-process callers such as the CLI.
func (a *App) Service() *orchestrator.Service {
	return a.service
}

// Sweeper returns the reconcile sweeper. Serve only schedules it when
// reconcile.enabled is set; one-shot sweeps may call it directly.
func (a *App) Sweeper() *reconcile.Sweeper {
	return a.sweeper
}

// Run listens on the configured port and blocks until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", a.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs workers, the sweep and the HTTP server on ln until ctx is
// canceled, then shuts everything down in dependency order.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if a.cfg.Reconcile.Enabled {
		if err := a.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start reconcile sweep: %w", err)
		}
	}

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", a.dispatch.Size()))
		a.dispatch.Run(ctx)
	}()

	go func() {
		n, err := a.service.Resume(ctx)
		if err != nil {
			a.logger.Error("resume queued audits failed", zap.Error(err))
			return
		}
		if n > 0 {
			a.logger.Info("resumed queued audits", zap.Int("count", n))
		}
	}()

	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	if a.cfg.Reconcile.Enabled {
		a.sweeper.Stop()
	}
	a.service.Wait()
	a.queue.Close()
	<-dispatchDone

	a.Close(shutdownCtx)
	return <-serveErr
}

func (a *App) shutdownTimeout() time.Duration {
	if d := a.cfg.ShutdownTimeout(); d > 0 {
		return d
	}
	return 10 * time.Second
}

// Close releases infrastructure clients and flushes pending progress events.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.progressHub = nil
	}
	if a.gcpPub != nil {
		a.gcpPub.Stop()
		a.gcpPub = nil
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
		a.pubsub = nil
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
		a.gcsClient = nil
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func (a *App) ready(ctx context.Context) error {
	if a.pgStore != nil {
		if err := a.pgStore.Ping(ctx); err != nil {
			return err
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	return nil
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.Database.Driver != config.DriverPostgres {
		a.logger.Warn("using in-memory job store; audits are lost on restart")
		a.store = memorystorage.NewStore()
		return nil
	}
	if a.cfg.Database.Migrate {
		if err := pgstore.Migrate(a.cfg.Database.DSN, a.logger.Named("migrate")); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
	}
	st, err := pgstore.NewStore(ctx, pgstore.Config{
		DSN:             a.cfg.Database.DSN,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: time.Duration(a.cfg.Database.MaxConnLifetimeSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore = st
	a.store = st
	a.logger.Info("postgres job store initialized")
	return nil
}

func (a *App) setupBlobStore(ctx context.Context) error {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		bs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.blobStore = bs
		a.logger.Info("using GCS artifact storage", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BackendLocal:
		bs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = bs
		a.logger.Info("using local artifact storage", zap.String("path", a.cfg.Storage.BaseDir))
	default:
		a.blobStore = memorystorage.NewBlobStore()
		a.logger.Info("using in-memory artifact storage")
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, terminal notifications stay in memory")
		a.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsub = client
	a.gcpPub = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName))
	a.publisher = a.gcpPub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return nil
}

func (a *App) setupBroker(ctx context.Context) error {
	if !a.cfg.Redis.Enabled {
		a.broker = events.NewMemoryBroker()
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	a.redis = client
	broker, err := events.NewRedisBroker(client, a.cfg.Redis.ChannelPrefix, a.logger)
	if err != nil {
		return fmt.Errorf("redis broker init failed: %w", err)
	}
	a.broker = broker
	a.logger.Info("redis event broker initialized", zap.String("addr", a.cfg.Redis.Addr))
	return nil
}

func (a *App) setupProgress(ctx context.Context) {
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(a.store, a.logger.Named("progress_store")),
		progresssinks.NewBrokerSink(a.broker, a.logger.Named("progress_broker")),
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		a.logger.Warn("prometheus progress sink disabled", zap.Error(err))
	} else {
		sinkList = append(sinkList, promSink)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(a.cfg.Progress.MaxBatchWaitMillis) * time.Millisecond,
		SinkTimeout:    time.Duration(a.cfg.Progress.SinkTimeoutSeconds) * time.Second,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
}

func (a *App) setupDispatcher(clock audit.Clock) error {
	az, err := analyzer.NewExec(analyzer.Config{
		Command:        a.cfg.Analyzer.Command,
		WorkDir:        a.cfg.Analyzer.WorkDir,
		Env:            a.cfg.Analyzer.Env,
		Timeout:        a.cfg.AnalyzerTimeout(),
		MaxOutputBytes: a.cfg.Analyzer.MaxOutputBytes,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("analyzer init failed: %w", err)
	}

	var limiter audit.Limiter
	if a.cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.RPS,
			DefaultBurst: a.cfg.RateLimit.Burst,
		})
		a.logger.Info("per-host rate limiter enabled",
			zap.Float64("rps", a.cfg.RateLimit.RPS),
			zap.Int("burst", a.cfg.RateLimit.Burst),
		)
	} else {
		limiter = simple.New()
	}

	a.queue = queuememory.NewQueue(a.cfg.Dispatch.QueueDepth)
	hasher := sha256.New()
	workerCfg := worker.Config{ArtifactPrefix: a.cfg.Dispatch.ArtifactPrefix}
	runners := make([]dispatcher.Runner, 0, a.cfg.Dispatch.Concurrency)
	for i := 0; i < a.cfg.Dispatch.Concurrency; i++ {
		runners = append(runners, worker.New(
			a.queue,
			a.store,
			az,
			limiter,
			a.blobStore,
			hasher,
			clock,
			a.finalizer,
			a.progressHub,
			workerCfg,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, runners, a.logger)
	return nil
}
