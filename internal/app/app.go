package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"

	"github.com/marketbrief/marketbrief/internal/cache"
	"github.com/marketbrief/marketbrief/internal/config"
	"github.com/marketbrief/marketbrief/internal/gcp"
	"github.com/marketbrief/marketbrief/internal/httpapi"
	"github.com/marketbrief/marketbrief/internal/logger"
	"github.com/marketbrief/marketbrief/internal/marketdata"
	"github.com/marketbrief/marketbrief/internal/registry"
	"github.com/marketbrief/marketbrief/internal/render"
	"github.com/marketbrief/marketbrief/internal/services"
	"github.com/marketbrief/marketbrief/internal/store"
)

// App holds the shared dependencies every binary needs. Stage-specific
// clients are built on demand so a binary only connects to what it
// actually uses.
type App struct {
	Config   config.Config
	Log      *logger.Logger
	Store    *store.Store
	Registry *registry.Registry

	storageClient *storage.Client
	pubsubClient  *pubsub.Client
}

// New loads config and connects the store. Every binary starts here.
func New(ctx context.Context) (*App, error) {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	st, err := store.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &App{
		Config:   cfg,
		Log:      log,
		Store:    st,
		Registry: registry.FromConfig(cfg.Tickers),
	}, nil
}

func (a *App) storageOnce(ctx context.Context) (*storage.Client, error) {
	if a.storageClient != nil {
		return a.storageClient, nil
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	a.storageClient = client
	return client, nil
}

func (a *App) pubsubOnce(ctx context.Context) (*pubsub.Client, error) {
	if a.pubsubClient != nil {
		return a.pubsubClient, nil
	}
	client, err := pubsub.NewClient(ctx, a.Config.Project.ID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.pubsubClient = client
	return client, nil
}

func (a *App) bus(ctx context.Context) (*gcp.Bus, error) {
	ps, err := a.pubsubOnce(ctx)
	if err != nil {
		return nil, err
	}
	return gcp.NewBus(ps, a.Config.Topics.IngestCompleted, a.Config.Topics.ReportsReady, a.Log), nil
}

// Ingestor assembles the ingest stage.
func (a *App) Ingestor(ctx context.Context) (*services.Ingestor, error) {
	sc, err := a.storageOnce(ctx)
	if err != nil {
		return nil, err
	}
	bus, err := a.bus(ctx)
	if err != nil {
		return nil, err
	}
	source := marketdata.NewClient(a.Config.Market.BaseURL, a.Config.Market.APIKey, a.Config.Market.FetchTimeout)
	rawBucket := gcp.NewBucket(sc, a.Config.Buckets.RawBars, a.Log)

	return services.NewIngestor(a.Registry, source, a.Store, rawBucket, bus, services.IngestorConfig{
		FetchTimeout: a.Config.Market.FetchTimeout,
		Parallelism:  a.Config.Market.Parallelism,
		Location:     a.Config.Scheduler.Location(),
	}, a.Log), nil
}

// Synthesizer assembles the synthesis stage.
func (a *App) Synthesizer(ctx context.Context) (*services.Synthesizer, error) {
	writer, err := gcp.NewVertexWriter(ctx, a.Config.Project.ID, a.Config.Project.Region, a.Config.Synthesis.Model)
	if err != nil {
		return nil, err
	}
	bus, err := a.bus(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewSynthesizer(a.Registry, a.Store, writer, bus, services.SynthesizerConfig{
		Timeout:  a.Config.Synthesis.Timeout,
		BarDays:  a.Config.Synthesis.BarDays,
		Location: a.Config.Scheduler.Location(),
	}, a.Log), nil
}

// Renderer assembles the rendering stage.
func (a *App) Renderer(ctx context.Context) (*services.Renderer, error) {
	sc, err := a.storageOnce(ctx)
	if err != nil {
		return nil, err
	}
	docBucket := gcp.NewBucket(sc, a.Config.Buckets.ReportDocs, a.Log)
	pdf := render.NewPDFRenderer(a.Config.Render.FontPath)

	return services.NewRenderer(a.Store, pdf, docBucket, services.RendererConfig{
		Timeout:     a.Config.Render.Timeout,
		Parallelism: a.Config.Render.Parallelism,
		Location:    a.Config.Scheduler.Location(),
	}, a.Log), nil
}

// Queue assembles the durable job queue.
func (a *App) Queue(ctx context.Context) (*gcp.JobQueue, error) {
	ps, err := a.pubsubOnce(ctx)
	if err != nil {
		return nil, err
	}
	q := a.Config.Queue
	return gcp.NewJobQueue(ps, q.Topic, q.Subscription, q.DeadLetter, q.MaxAttempts, a.Log), nil
}

// QueryServer assembles the read-only HTTP surface plus the job
// enqueue path it exposes.
func (a *App) QueryServer(ctx context.Context) (*httpapi.Server, error) {
	queue, err := a.Queue(ctx)
	if err != nil {
		return nil, err
	}

	redisCache := cache.New(a.Config.Cache.Addr, a.Config.Cache.Password, a.Config.Cache.DB, a.Log)
	query := services.NewQuery(a.Store, redisCache, a.Config.Cache.TTL, a.Log)
	// Enqueue-only wiring: the query service accepts jobs but never
	// processes them, so no synthesizer is attached here.
	jobs := services.NewJobs(a.Registry, queue, nil, a.Config.Queue.Workers, a.Log)

	return httpapi.New(query, jobs, a.Log), nil
}

// JobWorkers assembles the queue consumer pool.
func (a *App) JobWorkers(ctx context.Context) (*services.Jobs, error) {
	queue, err := a.Queue(ctx)
	if err != nil {
		return nil, err
	}
	synth, err := a.Synthesizer(ctx)
	if err != nil {
		return nil, err
	}
	return services.NewJobs(a.Registry, queue, synth, a.Config.Queue.Workers, a.Log), nil
}
