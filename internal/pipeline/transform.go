package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"golang.org/x/time/rate"
)

// Forecaster computes forecasts. *engine.Engine satisfies it.
type Forecaster interface {
	Generate(ctx context.Context, req domain.ForecastRequest) (domain.Forecast, error)
}

// ForecastTransformer implements Transformer: it parses a request message,
// runs it through the engine and serializes the result for the forecast topic.
type ForecastTransformer struct {
	forecaster Forecaster
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewTransformer creates a ForecastTransformer. A nil limiter disables throttling.
func NewTransformer(forecaster Forecaster, limiter *rate.Limiter, logger *slog.Logger) *ForecastTransformer {
	return &ForecastTransformer{
		forecaster: forecaster,
		limiter:    limiter,
		logger:     logger,
	}
}

// Transform returns an error wrapping domain.ErrInvalidRequest for messages
// that can never succeed; any other error is transient.
func (t *ForecastTransformer) Transform(ctx context.Context, raw domain.RawEvent) (domain.OutputEvent, error) {
	job, err := domain.ParseRawEvent(raw)
	if err != nil {
		return domain.OutputEvent{}, err
	}

	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return domain.OutputEvent{}, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	f, err := t.forecaster.Generate(ctx, job.Request)
	if err != nil {
		return domain.OutputEvent{}, fmt.Errorf("generate forecast for request %q: %w", job.RequestID, err)
	}

	t.logger.Debug("forecast ready", "request_id", job.RequestID, "forecast_id", f.ID, "model_version", f.ModelVersion)
	return domain.SerializeForecast(f, job.RequestID)
}
