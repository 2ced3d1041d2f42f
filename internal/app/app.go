// Package app wires the postgate components together and manages the server
// lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/analytics"
	httpapi "github.com/postgate/postgate/internal/api/http"
	"github.com/postgate/postgate/internal/backend"
	"github.com/postgate/postgate/internal/cache"
	"github.com/postgate/postgate/internal/config"
	"github.com/postgate/postgate/internal/export"
	"github.com/postgate/postgate/internal/extract"
	"github.com/postgate/postgate/internal/generator"
	"github.com/postgate/postgate/internal/logging"
	"github.com/postgate/postgate/internal/observability"
	"github.com/postgate/postgate/internal/pii"
	"github.com/postgate/postgate/internal/pipeline"
	"github.com/postgate/postgate/internal/reducer"
	"github.com/postgate/postgate/internal/server"
	"github.com/postgate/postgate/internal/similarity"
	"github.com/postgate/postgate/internal/storage"
	"github.com/postgate/postgate/internal/tokenizer"
)

// statsWindow is how long outcome stats are kept for /v1/stats.
const statsWindow = 24 * time.Hour

// App holds the wired components.
type App struct {
	cfg     *config.Config
	version string
	logger  zerolog.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	stats    *observability.OutcomeStats

	storage   storage.ObjectStorage
	events    *analytics.Store
	pipeline  *pipeline.Pipeline
	extractor *extract.PDFExtractor
	exporter  *export.Exporter
	cache     *cache.SummaryCache

	shutdown   *server.ShutdownManager
	httpServer *http.Server

	mu      sync.Mutex
	running bool
	serveCh <-chan error
}

// Options tune New. Client replaces the configured backend; tests use it
// to inject a scripted client.
type Options struct {
	Version string
	Client  backend.ChatClient
}

// New resolves and validates cfg, then builds every component. Nothing is
// served until Start.
func New(ctx context.Context, cfg *config.Config, opts Options, logger zerolog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}

	a := &App{
		cfg:      cfg,
		version:  opts.Version,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		stats:    observability.NewOutcomeStats(statsWindow),
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = observability.NewMetrics(a.registry)

	if err := a.initStorage(ctx); err != nil {
		return nil, err
	}
	if err := a.initPipeline(ctx, opts.Client); err != nil {
		return nil, err
	}
	a.extractor = extract.NewPDFExtractor(logging.Component(logger, "extract"))
	a.exporter = export.New(cfg.Export.Dir, nil)
	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig(), logging.Component(logger, "server"))
	return a, nil
}

func (a *App) initStorage(ctx context.Context) error {
	var err error
	switch a.cfg.Storage.Type {
	case "local":
		a.storage, err = storage.NewLocalStorage(a.cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if a.cfg.Storage.S3.Region != "" {
			s3Cfg.Region = a.cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = a.cfg.Storage.S3.Endpoint
		a.storage, err = storage.NewS3Storage(ctx, a.cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return fmt.Errorf("unsupported storage type: %s", a.cfg.Storage.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.events, err = analytics.NewStore(a.storage, analytics.Options{
		Layout:           a.cfg.Analytics.Layout,
		Prefix:           a.cfg.Analytics.Prefix,
		FetchConcurrency: a.cfg.Analytics.FetchConcurrency,
	}, logging.Component(a.logger, "analytics"))
	if err != nil {
		return fmt.Errorf("failed to initialize analytics store: %w", err)
	}

	a.logger.Info().
		Str("storage", a.cfg.Storage.Type).
		Str("layout", a.cfg.Analytics.Layout).
		Str("prefix", a.cfg.Analytics.Prefix).
		Msg("analytics store initialized")
	return nil
}

func (a *App) initPipeline(ctx context.Context, client backend.ChatClient) error {
	cfg := a.cfg
	if client == nil {
		var err error
		client, err = backend.New(ctx, cfg.Backend, a.metrics, logging.Component(a.logger, "backend"))
		if err != nil {
			return fmt.Errorf("failed to initialize backend: %w", err)
		}
	}

	detector, err := pii.NewDetectorFromConfig(cfg.PII,
		pii.NewVerifier(client, cfg.Backend.VerificationModel),
		a.metrics, logging.Component(a.logger, "pii"))
	if err != nil {
		return fmt.Errorf("failed to initialize pii detector: %w", err)
	}

	if cfg.Cache.Enabled {
		a.cache, err = cache.NewSummaryCache(cfg.Cache.MaxBytes, a.metrics)
		if err != nil {
			return fmt.Errorf("failed to initialize summary cache: %w", err)
		}
	}

	counter := tokenizer.NewEstimator(cfg.Generation.TokenizerModel, logging.Component(a.logger, "tokenizer"))
	red := reducer.New(counter, client, reducer.Options{
		Budget:       cfg.Budget,
		SummaryModel: cfg.Backend.SummaryModel,
		Cache:        a.cache,
		Metrics:      a.metrics,
	}, logging.Component(a.logger, "reducer"))
	gen := generator.New(client, counter,
		generator.OptionsFromConfig(cfg.Generation, cfg.Backend.GenerationModel),
		logging.Component(a.logger, "generator"))

	a.pipeline = pipeline.New(pipeline.Deps{
		Detector:  detector,
		Reducer:   red,
		Generator: gen,
		Gate:      similarity.NewGate(cfg.Similarity.Threshold, a.metrics),
		Events:    a.events,
		Metrics:   a.metrics,
		Stats:     a.stats,
	}, pipeline.Options{
		MaxAttempts:        cfg.Generation.MaxAttempts,
		AcceptFirstAttempt: cfg.Generation.AcceptFirstAttempt,
		HistorySize:        cfg.Similarity.HistorySize,
		Budget:             cfg.Budget,
	}, logging.Component(a.logger, "pipeline"))

	a.logger.Info().
		Str("provider", cfg.Backend.Provider).
		Str("model", cfg.Backend.GenerationModel).
		Str("pii_policy", cfg.PII.Policy).
		Bool("pii_verify", cfg.PII.Verify).
		Bool("precise_tokens", counter.Precise()).
		Bool("summary_cache", a.cache != nil).
		Msg("pipeline initialized")
	return nil
}

// Pipeline returns the generation pipeline.
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Extractor returns the PDF extractor.
func (a *App) Extractor() *extract.PDFExtractor { return a.extractor }

// Exporter returns the post exporter.
func (a *App) Exporter() *export.Exporter { return a.exporter }

// Handler builds the HTTP handler with shutdown tracking.
func (a *App) Handler() http.Handler {
	return httpapi.NewRouter(httpapi.RouterConfig{
		Pipeline:       a.pipeline,
		Extractor:      a.extractor,
		Exporter:       a.exporter,
		Stats:          a.stats,
		Gatherer:       a.registry,
		MaxUploadBytes: a.cfg.HTTP.MaxUploadBytes,
		Version:        a.version,
		Middleware:     []func(http.Handler) http.Handler{server.ShutdownMiddleware(a.shutdown)},
	}, logging.Component(a.logger, "http"))
}

// Start serves the HTTP API in the background.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("app is already running")
	}
	a.running = true

	a.httpServer = &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
		ErrorLog:     logging.StdLogger(a.logger),
	}
	a.serveCh = a.shutdown.StartHTTPServer(a.httpServer)
	return nil
}

// Wait blocks until a signal, ctx cancellation or a server failure, and
// shuts down in every case.
func (a *App) Wait(ctx context.Context) error {
	listenErr := make(chan error, 1)
	go func() { listenErr <- a.shutdown.ListenForSignals(ctx) }()

	select {
	case err := <-listenErr:
		return err
	case err := <-a.serveCh:
		shutdownErr := a.shutdown.Shutdown(context.Background(), "http server stopped")
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return shutdownErr
	}
}

// Stop shuts the app down.
func (a *App) Stop(ctx context.Context) error {
	return a.shutdown.Shutdown(ctx, "stop requested")
}
