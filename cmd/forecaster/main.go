package main

import (
	"context"
	"errors"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/outbreak-forecast/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/outbreak-forecast/internal/adapter/kafka"
	"github.com/couchcryptid/outbreak-forecast/internal/app"
	"github.com/couchcryptid/outbreak-forecast/internal/config"
	"github.com/couchcryptid/outbreak-forecast/internal/observability"
	"github.com/couchcryptid/outbreak-forecast/internal/pipeline"
	"github.com/joho/godotenv"
	"golang.org/x/time/rate"
)

const serviceName = "outbreak-forecaster"

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, observability.TracingConfig{
		ServiceName:  serviceName,
		Version:      version,
		Endpoint:     cfg.OTelEndpoint,
		SamplingRate: cfg.OTelSamplingRate,
	})
	if err != nil {
		logger.Error("failed to initialise tracing", "error", err)
		os.Exit(1)
	}

	a, cleanup, err := app.Build(ctx, cfg, logger, metrics)
	if err != nil {
		logger.Error("failed to build forecasting engine", "error", err)
		os.Exit(1)
	}

	readiness := app.Readiness{a}

	// Start forecast request pipeline (feature-flagged via PIPELINE_ENABLED).
	var (
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
		done   = make(chan struct{})
	)
	if cfg.PipelineEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		limiter := rate.NewLimiter(rate.Limit(cfg.ForecastRateLimit), max(1, int(cfg.ForecastRateLimit)))
		transformer := pipeline.NewTransformer(a.Engine, limiter, logger)

		p := pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)
		readiness = append(readiness, p)

		go func() {
			defer close(done)
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		close(done)
		logger.Info("forecast request pipeline disabled")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, readiness, logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("pipeline did not stop before shutdown timeout")
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	cleanup()
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
}
