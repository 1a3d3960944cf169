// Package bootstrap assembles the service from its parts: storage, the job
// ledger, the event publisher, the extraction backends and the HTTP
// surface.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpadapter "github.com/mkravets/pdf-extraction-service/internal/adapters/http"
	"github.com/mkravets/pdf-extraction-service/internal/config"
	"github.com/mkravets/pdf-extraction-service/internal/core/ports"
	"github.com/mkravets/pdf-extraction-service/internal/core/registry"
	"github.com/mkravets/pdf-extraction-service/internal/core/usecase"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/localocr"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/searchable"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/unstract"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/vision"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/backend/whisper"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/events/nats"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/ocr/tesseract"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/raster"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/repository/postgres"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/resilience"
	"github.com/mkravets/pdf-extraction-service/internal/infrastructure/storage/localfs"
	"github.com/mkravets/pdf-extraction-service/internal/observability/logging"
	"github.com/mkravets/pdf-extraction-service/internal/observability/metrics"
)

const serviceName = "pdf-extraction-service"

type App struct {
	Config config.Config
	Logger *slog.Logger

	// Handler is the API surface, metrics middleware included.
	Handler http.Handler
	// MetricsHandler serves the prometheus scrape endpoint.
	MetricsHandler http.Handler

	closeFn func()
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ledger := postgres.NewJobLedger(db)
	if err := ledger.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	executor := resilience.NewExecutor(resilience.BreakerConfig{Enabled: cfg.BreakerEnabled})
	retry := resilience.RetryPolicy{
		MaxAttempts:         cfg.RetryMaxAttempts,
		InitialDelay:        time.Duration(cfg.RetryInitialDelayMS) * time.Millisecond,
		MaxDelay:            time.Duration(cfg.RetryMaxDelayMS) * time.Millisecond,
		Multiplier:          2.0,
		InsecureTLSFallback: cfg.InsecureTLSFallback,
	}
	poll := resilience.PollPolicy{
		Interval:               time.Duration(cfg.PollIntervalSeconds) * time.Second,
		MaxDuration:            time.Duration(cfg.PollMaxDurationSeconds) * time.Second,
		MaxConsecutiveFailures: cfg.PollMaxConsecutiveErrors,
	}

	events, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSSubjectPrefix, nats.Options{
		ResilienceExecutor: executor,
		RetryPolicy:        retry,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init event publisher: %w", err)
	}

	vendorTimeout := time.Duration(cfg.VendorTimeoutSeconds) * time.Second
	rasterizer := raster.NewRasterizer()
	ocrEngine := tesseract.NewEngine()

	adapters := []ports.BackendAdapter{
		localocr.New(storage, rasterizer, ocrEngine),
		searchable.New(storage, rasterizer, ocrEngine),
		whisper.New(whisper.Config{
			BaseURL: cfg.WhisperAPIURL,
			APIKey:  cfg.WhisperAPIKey,
			Timeout: vendorTimeout,
		}, storage, executor, retry),
		unstract.New(unstract.Config{
			BaseURL: cfg.UnstractAPIURL,
			APIKey:  cfg.UnstractAPIKey,
			Timeout: vendorTimeout,
		}, storage, executor, retry),
		vision.New(vision.Config{
			BaseURL: cfg.VisionAPIURL,
			APIKey:  cfg.VisionAPIKey,
			Model:   cfg.VisionModel,
			Timeout: vendorTimeout,
		}, storage, rasterizer, executor, retry),
	}

	jobMetrics := metrics.NewJobMetrics(serviceName)
	httpMetrics := metrics.NewHTTPServerMetrics(serviceName)

	dispatcher := usecase.NewDispatcher(
		registry.New(), storage, ledger, events, adapters, poll, jobMetrics, serviceName)

	router := httpadapter.NewRouter(dispatcher, dispatcher, ledger, storage)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Handler: httpMetrics.Middleware(serviceName, router.Handler()),
		MetricsHandler: promhttp.HandlerFor(
			prometheus.Gatherers{httpMetrics.Gatherer(), jobMetrics.Gatherer()},
			promhttp.HandlerOpts{},
		),
		closeFn: func() {
			events.Close()
			_ = db.Close()
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}
