// Package app assembles the long-lived services behind both commands:
// stores, queue, publisher, progress hub, and the crawl pipeline. Built
// once at startup, closed once on the way out.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mirrorlab/sitemirror/internal/api"
	"github.com/mirrorlab/sitemirror/internal/assets"
	"github.com/mirrorlab/sitemirror/internal/clock/system"
	"github.com/mirrorlab/sitemirror/internal/config"
	"github.com/mirrorlab/sitemirror/internal/crawler"
	"github.com/mirrorlab/sitemirror/internal/database"
	"github.com/mirrorlab/sitemirror/internal/dispatcher"
	"github.com/mirrorlab/sitemirror/internal/enrich"
	"github.com/mirrorlab/sitemirror/internal/extract"
	headlessfetcher "github.com/mirrorlab/sitemirror/internal/fetcher/headless"
	staticfetcher "github.com/mirrorlab/sitemirror/internal/fetcher/static"
	"github.com/mirrorlab/sitemirror/internal/hash/sha256"
	"github.com/mirrorlab/sitemirror/internal/headless/detector"
	"github.com/mirrorlab/sitemirror/internal/id/uuid"
	"github.com/mirrorlab/sitemirror/internal/logging"
	"github.com/mirrorlab/sitemirror/internal/markdown"
	"github.com/mirrorlab/sitemirror/internal/metrics"
	"github.com/mirrorlab/sitemirror/internal/policy/ratelimit"
	"github.com/mirrorlab/sitemirror/internal/policy/simple"
	"github.com/mirrorlab/sitemirror/internal/progress"
	progresssinks "github.com/mirrorlab/sitemirror/internal/progress/sinks"
	memorypublisher "github.com/mirrorlab/sitemirror/internal/publisher/memory"
	gcppublisher "github.com/mirrorlab/sitemirror/internal/publisher/pubsub"
	"github.com/mirrorlab/sitemirror/internal/queue"
	queueMemory "github.com/mirrorlab/sitemirror/internal/queue/memory"
	"github.com/mirrorlab/sitemirror/internal/snapshot"
	gcsstorage "github.com/mirrorlab/sitemirror/internal/storage/gcs"
	localstorage "github.com/mirrorlab/sitemirror/internal/storage/local"
	memoryStorage "github.com/mirrorlab/sitemirror/internal/storage/memory"
	pgstore "github.com/mirrorlab/sitemirror/internal/storage/postgres"
	"github.com/mirrorlab/sitemirror/internal/store"
	"github.com/mirrorlab/sitemirror/internal/worker"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// pipeline holds the run-independent crawl collaborators. The per-run
// pieces (snapshot writer, asset store, alt text filler, engine) are
// assembled in executeRun because they are bound to one site directory.
type pipeline struct {
	fetcher  crawler.Fetcher
	headless crawler.Fetcher
	detector crawler.HeadlessDetector
	resolver crawler.AssetResolver
	cleaner  crawler.Cleaner
	enricher crawler.Enricher
	altGen   enrich.Generator
	policy   crawler.Policy
	hasher   crawler.Hasher
	clock    crawler.Clock
	ids      crawler.IDGenerator
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	blobStore crawler.BlobStore
	index     database.Provider
	publisher crawler.Publisher

	progressHub  *progress.Hub
	progressRepo store.ProgressRepository

	pipeline pipeline

	pubsubClient    *pubsub.Client
	gcsClient       *gcsclient.Client
	progressStore   *pgstore.ProgressStore
	publishShutdown func()
}

// Build creates the application's dependencies. Serve-mode pieces (queue,
// job store, workers) are assembled in Serve so the one-shot crawl path
// never touches queue backends.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	a.logger.Info("building application dependencies")

	if err := a.setupMirror(ctx); err != nil {
		return nil, err
	}
	if err := a.setupIndex(ctx); err != nil {
		return nil, err
	}
	if err := a.setupPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.setupProgress(ctx); err != nil {
		return nil, err
	}
	if err := a.setupPipeline(); err != nil {
		return nil, err
	}
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the resolved configuration the app was built with.
func (a *App) Config() config.Config {
	return a.cfg
}

func (a *App) setupMirror(ctx context.Context) error {
	switch a.cfg.Mirror.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		a.blobStore, err = gcsstorage.New(client, gcsstorage.Config{
			Bucket: a.cfg.Mirror.Bucket,
			Prefix: a.cfg.Mirror.Prefix,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("mirroring snapshots to GCS", zap.String("bucket", a.cfg.Mirror.Bucket))
	case "local":
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Mirror.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobStore = blobStore
		a.logger.Info("mirroring snapshots to local directory", zap.String("dir", a.cfg.Mirror.LocalDir))
	case "memory":
		a.blobStore = memoryStorage.NewBlobStore()
		a.logger.Info("mirroring snapshots to process memory, development only")
	default:
		a.logger.Info("snapshot mirroring disabled")
	}
	return nil
}

func (a *App) setupIndex(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Info("no database configured, run index disabled")
		a.index = &database.NoOpProvider{}
		return nil
	}
	index, err := database.NewPostgresProvider(ctx, a.cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("run index init failed: %w", err)
	}
	a.index = index

	repo, err := pgstore.NewProgressStore(ctx, pgstore.ProgressStoreConfig{DSN: a.cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("progress store init failed: %w", err)
	}
	a.progressStore = repo
	a.progressRepo = repo
	a.logger.Info("run index and progress store initialized")
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if a.cfg.PubSub.ProjectID == "" {
		// Completion notices still flow in dev setups, they just never
		// leave the process.
		a.publisher = memorypublisher.New()
		a.logger.Info("no message bus configured, using in-process publisher")
		return nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client

	topicID := a.cfg.PubSub.ResultsTopic
	if topicID == "" {
		topicID = a.cfg.PubSub.Topic
	}
	topic := client.Topic(topicID)
	a.publisher = gcppublisher.New(topic)
	a.publishShutdown = topic.Stop
	a.logger.Info("pubsub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", topicID),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	if !a.cfg.Progress.Enabled {
		a.logger.Info("progress tracking disabled")
		return nil
	}
	var sinkList []progress.Sink

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	if a.progressRepo != nil {
		sinkList = append(sinkList, progresssinks.NewStoreSink(a.progressRepo, a.logger.Named("progress_store")))
	}
	if a.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.publisher != nil && a.cfg.Progress.Topic != "" {
		sinkList = append(sinkList, progresssinks.NewPublisherSink(a.publisher, a.cfg.Progress.Topic))
	}

	a.progressHub = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   a.cfg.BatchMaxWait(),
		SinkTimeout:    a.cfg.SinkTimeout(),
		BaseContext:    ctx,
		Logger:         a.logger.Named("progress_hub"),
	}, sinkList...)
	a.logger.Info("progress hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupPipeline() error {
	extractor := extract.New()

	a.pipeline.hasher = sha256.New()
	a.pipeline.clock = system.New()
	a.pipeline.ids = uuid.New()
	a.pipeline.resolver = assets.NewResolver()
	a.pipeline.cleaner = markdown.NewCleaner()
	a.pipeline.detector = detector.NewHeuristic(a.cfg.Headless.PromotionThreshold)

	a.pipeline.fetcher = staticfetcher.New(staticfetcher.Config{
		UserAgent:     a.cfg.Crawler.UserAgent,
		RespectRobots: a.cfg.Crawler.RespectRobots,
		Timeout:       a.cfg.AssetTimeout(),
	}, extractor)

	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Crawler.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
		}, extractor)
		if err != nil {
			a.logger.Warn("headless fetcher init failed, rendering disabled", zap.Error(err))
			a.pipeline.headless = headlessfetcher.NewNoop()
		} else {
			a.pipeline.headless = headless
			a.logger.Info("headless fetcher ready", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	} else {
		a.pipeline.headless = headlessfetcher.NewNoop()
	}

	if a.cfg.RateLimit.Enabled {
		a.pipeline.policy = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.RateLimit.DefaultRPS,
			DefaultBurst: a.cfg.RateLimit.DefaultBurst,
		})
		a.logger.Info("rate limiter enabled", zap.Float64("default_rps", a.cfg.RateLimit.DefaultRPS))
	} else {
		a.pipeline.policy = simple.New()
	}

	a.pipeline.altGen = enrich.NewOpenAIGenerator(enrich.GeneratorConfig{
		APIKey:  a.cfg.Enrich.APIKey,
		BaseURL: a.cfg.Enrich.BaseURL,
		Model:   a.cfg.Enrich.Model,
	})
	enricher, err := enrich.NewEnricher(
		a.pipeline.altGen,
		a.pipeline.hasher,
		a.pipeline.clock,
		a.cfg.Enrich.DefaultLanguage,
		a.logger.Named("enrich"),
	)
	if err != nil {
		return fmt.Errorf("enricher init failed: %w", err)
	}
	a.pipeline.enricher = enricher
	return nil
}

// Runner returns the crawl pipeline as a worker.Runner.
func (a *App) Runner() worker.Runner {
	return worker.RunnerFunc(a.executeRun)
}

// executeRun performs one crawl: it builds the per-site snapshot writer,
// asset store, and engine, runs the crawl, and collects the stored assets
// off the records. The returned output is valid even when err is non-nil.
func (a *App) executeRun(ctx context.Context, params crawler.Params) (worker.RunOutput, error) {
	site := snapshot.SiteLabel(params.RootURL)
	dir := filepath.Join(a.cfg.Output.Dir, site)

	writer, err := snapshot.NewWriter(dir)
	if err != nil {
		return worker.RunOutput{}, fmt.Errorf("snapshot writer: %w", err)
	}
	assetStore, err := assets.NewStore(assets.Config{
		Dir:       dir,
		MaxBytes:  a.cfg.Assets.MaxBytes,
		Timeout:   a.cfg.AssetTimeout(),
		UserAgent: a.cfg.Crawler.UserAgent,
	}, a.pipeline.hasher, a.pipeline.clock)
	if err != nil {
		return worker.RunOutput{}, fmt.Errorf("asset store: %w", err)
	}

	engine, err := crawler.NewEngine(crawler.Config{
		AssetConcurrency: a.cfg.Assets.Concurrency,
		BlockedDomains:   a.cfg.Crawler.BlockedDomains,
	}, crawler.Dependencies{
		Fetcher:   a.pipeline.fetcher,
		Headless:  a.pipeline.headless,
		Detector:  a.pipeline.detector,
		Resolver:  a.pipeline.resolver,
		Store:     assetStore,
		Cleaner:   a.pipeline.cleaner,
		Enricher:  a.pipeline.enricher,
		AltFiller: enrich.NewFiller(assetStore, a.pipeline.altGen, a.logger.Named("alt_text")),
		Snapshots: writer,
		Policy:    a.pipeline.policy,
		Emitter:   a.progressHub,
		Clock:     a.pipeline.clock,
		IDs:       a.pipeline.ids,
		Logger:    a.logger.Named("engine"),
	})
	if err != nil {
		return worker.RunOutput{}, fmt.Errorf("engine: %w", err)
	}

	result, runErr := engine.Run(ctx, params)
	return worker.RunOutput{
		Result: result,
		Dir:    writer.Root(),
		Assets: collectRunAssets(assetStore, result.Records),
	}, runErr
}

// collectRunAssets resolves the distinct assets referenced by the run's
// records, in first-reference order.
func collectRunAssets(assetStore crawler.AssetStore, records []crawler.PageRecord) []crawler.Asset {
	var out []crawler.Asset
	seen := make(map[string]struct{})
	for _, record := range records {
		for _, hash := range append(append([]string(nil), record.ImageHashes...), record.FileHashes...) {
			if _, dup := seen[hash]; dup {
				continue
			}
			seen[hash] = struct{}{}
			if asset, ok := assetStore.Lookup(hash); ok {
				out = append(out, asset)
			}
		}
	}
	return out
}

func (a *App) workerConfig() worker.Config {
	return worker.Config{
		BlobPrefix: a.cfg.Mirror.Prefix,
		Topic:      a.cfg.PubSub.ResultsTopic,
	}
}

// RunOnce executes a single crawl through the same worker path serve mode
// uses, so mirroring, indexing, and completion notices behave identically.
// The returned job carries the terminal status; the result is zero when
// the run failed before producing one.
func (a *App) RunOnce(ctx context.Context, params crawler.Params) (crawler.Job, crawler.Result, error) {
	jobID, err := a.pipeline.ids.NewID()
	if err != nil {
		return crawler.Job{}, crawler.Result{}, fmt.Errorf("allocate job id: %w", err)
	}

	jobStore := memoryStorage.NewJobStore()
	q := queueMemory.NewQueue(1)

	now := a.pipeline.clock.Now()
	job := crawler.Job{ID: jobID, Status: crawler.JobStatusQueued, Submitted: now, Params: params}
	if err := jobStore.CreateJob(ctx, job); err != nil {
		return crawler.Job{}, crawler.Result{}, fmt.Errorf("create job: %w", err)
	}
	item := crawler.QueueItem{JobID: jobID, Params: params, Attempt: 1, Submitted: now.Unix()}
	if err := q.Enqueue(ctx, item); err != nil {
		return crawler.Job{}, crawler.Result{}, fmt.Errorf("enqueue job: %w", err)
	}
	q.Close()

	w := worker.New(
		q,
		jobStore,
		a.blobStore,
		a.publisher,
		a.index,
		a.Runner(),
		nil,
		a.pipeline.clock,
		a.workerConfig(),
		a.logger.Named("worker"),
	)
	w.Run(ctx)

	job, err = jobStore.GetJob(ctx, jobID)
	if err != nil {
		return crawler.Job{}, crawler.Result{}, fmt.Errorf("load job: %w", err)
	}
	result, resultErr := jobStore.GetResult(ctx, jobID)
	if resultErr != nil {
		result = crawler.Result{}
	}
	if job.Status != crawler.JobStatusSucceeded {
		return job, result, fmt.Errorf("crawl %s: %s", job.Status, job.ErrorText)
	}
	return job, result, nil
}

// Serve assembles the queue, workers, dispatcher, and HTTP API, then
// blocks until the context is canceled or a termination signal arrives.
func (a *App) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	q, closeQueue, err := a.buildQueue(ctx)
	if err != nil {
		return err
	}
	defer closeQueue()

	jobStore := memoryStorage.NewJobStore()
	cancels := worker.NewCancels()

	workers := make([]*worker.Worker, 0, a.cfg.Queue.Workers)
	for i := 0; i < a.cfg.Queue.Workers; i++ {
		workers = append(workers, worker.New(
			q,
			jobStore,
			a.blobStore,
			a.publisher,
			a.index,
			a.Runner(),
			cancels,
			a.pipeline.clock,
			a.workerConfig(),
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(q, workers, cancels)

	server := api.NewServer(
		jobStore,
		dispatch,
		a.pipeline.ids,
		a.pipeline.clock,
		a.progressRepo,
		a.cfg,
		a.logger.Named("api"),
	)

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.logger.Info("dispatcher started", zap.Int("workers", len(workers)))
		dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
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
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not drain before the shutdown deadline")
	}
	return nil
}

// buildQueue returns the configured job queue plus its shutdown hook.
func (a *App) buildQueue(ctx context.Context) (crawler.Queue, func(), error) {
	switch a.cfg.Queue.Backend {
	case "pubsub":
		psq, err := queue.NewPubSubQueue(ctx, queue.PubSubConfig{
			ProjectID:      a.cfg.PubSub.ProjectID,
			TopicID:        a.cfg.PubSub.Topic,
			SubscriptionID: a.cfg.PubSub.Subscription,
		}, a.logger.Named("queue"))
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub queue init failed: %w", err)
		}
		a.logger.Info("using pubsub job queue", zap.String("subscription", a.cfg.PubSub.Subscription))
		return psq, func() {
			if err := psq.Close(); err != nil {
				a.logger.Warn("pubsub queue close failed", zap.Error(err))
			}
		}, nil
	default:
		mq := queueMemory.NewQueue(a.cfg.Queue.Depth)
		a.logger.Info("using in-memory job queue", zap.Int("depth", a.cfg.Queue.Depth))
		return mq, mq.Close, nil
	}
}

// Close gracefully shuts down the shared services.
func (a *App) Close(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publishShutdown != nil {
		a.publishShutdown()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("run index close failed", zap.Error(err))
		}
	}
	if a.progressStore != nil {
		a.progressStore.Close()
	}
	a.logger.Info("shutdown complete")
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("logger sync failed", zap.Error(err))
	}
	return nil
}
