package http

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/postgate/postgate/internal/observability"
)

// RouterConfig holds the collaborators served by NewRouter.
type RouterConfig struct {
	Pipeline       Processor
	Extractor      Extractor
	Exporter       Exporter
	Stats          *observability.OutcomeStats
	Gatherer       prometheus.Gatherer
	MaxUploadBytes int64
	Version        string

	// Middleware runs outside the default chain, e.g. shutdown tracking.
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the service mux. API routes get the full middleware
// chain; /health and /metrics are served bare.
func NewRouter(cfg RouterConfig, logger zerolog.Logger) http.Handler {
	chain := append([]func(http.Handler) http.Handler{}, cfg.Middleware...)
	chain = append(chain,
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		CorrelationIDMiddleware,
		AccessLogMiddleware(logger),
	)
	middleware := ChainMiddleware(chain...)

	mux := http.NewServeMux()
	mux.Handle("POST /v1/generate", middleware(NewGenerateHandler(cfg.Pipeline, cfg.Extractor, cfg.MaxUploadBytes, logger)))
	mux.Handle("POST /v1/feedback", middleware(NewFeedbackHandler(cfg.Pipeline)))
	if cfg.Exporter != nil {
		mux.Handle("POST /v1/export", middleware(NewExportHandler(cfg.Exporter)))
	}
	if cfg.Stats != nil {
		mux.Handle("GET /v1/stats", middleware(StatsHandler(cfg.Stats)))
	}

	mux.HandleFunc("GET /health", HealthHandler(cfg.Version, time.Now()))
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
