package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/couchcryptid/outbreak-forecast/internal/forecast"
	"github.com/couchcryptid/outbreak-forecast/internal/observability"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/couchcryptid/outbreak-forecast/internal/engine"

// HistoryProvider returns the trailing daily series for a region and disease.
// An empty series is valid. Failures should wrap domain.ErrDataUnavailable.
type HistoryProvider interface {
	Fetch(ctx context.Context, region domain.GeographicBounds, disease string) ([]domain.HistoricalPoint, error)
}

// Cache memoizes finished forecasts by fingerprint.
type Cache interface {
	// Get returns the cached forecast and true on a hit, false on a miss.
	Get(ctx context.Context, key string) (domain.Forecast, bool, error)
	Set(ctx context.Context, key string, f domain.Forecast, ttl time.Duration) error
	// DeletePrefix removes every entry whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// Store persists forecasts. Insert assigns the id and generation time.
type Store interface {
	Insert(ctx context.Context, f domain.Forecast) (domain.StoredRef, error)
	// GetByID returns domain.ErrNotFound for unknown or expired ids.
	GetByID(ctx context.Context, id string) (domain.Forecast, error)
}

// EpidemicModel produces a mechanistic forecast or fails with
// domain.ErrSimulationFailed.
type EpidemicModel interface {
	Forecast(history []domain.HistoricalPoint, horizonDays int, disease string, today time.Time) ([]domain.ForecastPoint, error)
}

// Options tune the engine. Zero values fall back to the defaults below.
type Options struct {
	MechanisticDiseases []string
	CacheTTL            time.Duration
	Retention           time.Duration
	SingleFlight        bool
	Clock               clockwork.Clock
}

const (
	DefaultCacheTTL  = time.Hour
	DefaultRetention = 7 * 24 * time.Hour
)

// Engine selects a forecasting strategy per request and applies the cache and
// persistence discipline around it.
type Engine struct {
	history     HistoryProvider
	cache       Cache
	store       Store
	epidemic    EpidemicModel
	mechanistic map[string]struct{}
	cacheTTL    time.Duration
	retention   time.Duration
	clock       clockwork.Clock
	flight      *singleflight.Group
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates an Engine. cache may be nil to disable caching; epidemic may be
// nil to use the default SEIR simulator.
func New(history HistoryProvider, cache Cache, store Store, epidemic EpidemicModel, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Engine {
	if epidemic == nil {
		epidemic = forecast.NewSimulator(nil)
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	mechanistic := make(map[string]struct{}, len(opts.MechanisticDiseases))
	for _, d := range opts.MechanisticDiseases {
		if d = domain.NormalizeDisease(d); d != "" {
			mechanistic[d] = struct{}{}
		}
	}

	e := &Engine{
		history:     history,
		cache:       cache,
		store:       store,
		epidemic:    epidemic,
		mechanistic: mechanistic,
		cacheTTL:    opts.CacheTTL,
		retention:   opts.Retention,
		clock:       opts.Clock,
		logger:      logger,
		metrics:     metrics,
	}
	if opts.SingleFlight {
		e.flight = &singleflight.Group{}
	}
	return e
}

// Generate returns a forecast for req, from cache when possible. Insufficient
// history degrades to a conservative forecast; the only errors are
// domain.ErrInvalidRequest, domain.ErrDataUnavailable and domain.ErrStoreUnavailable.
func (e *Engine) Generate(ctx context.Context, req domain.ForecastRequest) (domain.Forecast, error) {
	if err := req.Validate(); err != nil {
		return domain.Forecast{}, err
	}
	req.DiseaseType = req.Disease()
	key := req.Fingerprint()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.Generate", trace.WithAttributes(
		attribute.String("forecast.fingerprint", key),
		attribute.Int("forecast.horizon_days", req.HorizonDays),
	))
	defer span.End()

	cached, hit, cacheOK := e.lookup(ctx, key)
	if hit {
		span.SetAttributes(attribute.Bool("forecast.cache_hit", true))
		return cached, nil
	}

	var (
		f   domain.Forecast
		err error
	)
	if e.flight != nil {
		var v any
		v, err, _ = e.flight.Do(key, func() (any, error) {
			return e.compute(ctx, req, key, cacheOK)
		})
		if err == nil {
			f = v.(domain.Forecast)
		}
	} else {
		f, err = e.compute(ctx, req, key, cacheOK)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return domain.Forecast{}, err
	}

	span.SetAttributes(attribute.String("forecast.model_version", f.ModelVersion))
	return f, nil
}

// lookup reads the cache. cacheOK is false when the backend failed, in which
// case the request proceeds as a miss and the result is not written back.
func (e *Engine) lookup(ctx context.Context, key string) (f domain.Forecast, hit, cacheOK bool) {
	if e.cache == nil {
		return domain.Forecast{}, false, false
	}

	f, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		e.logger.Warn("prediction cache unavailable, computing without cache", "fingerprint", key, "error", err)
		e.metrics.CacheRequests.WithLabelValues("error").Inc()
		return domain.Forecast{}, false, false
	}
	if hit {
		e.logger.Debug("prediction cache hit", "fingerprint", key)
		e.metrics.CacheRequests.WithLabelValues("hit").Inc()
		return f, true, true
	}
	e.metrics.CacheRequests.WithLabelValues("miss").Inc()
	return domain.Forecast{}, false, true
}

func (e *Engine) compute(ctx context.Context, req domain.ForecastRequest, key string, cacheOK bool) (domain.Forecast, error) {
	start := e.clock.Now()

	history, err := e.history.Fetch(ctx, req.Region, req.DiseaseType)
	if err != nil {
		e.metrics.HistoryErrors.Inc()
		e.logger.Error("fetch historical series failed", "fingerprint", key, "error", err)
		if errors.Is(err, domain.ErrDataUnavailable) {
			return domain.Forecast{}, err
		}
		return domain.Forecast{}, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
	}
	history = sortedHistory(history)

	f := e.dispatch(req, history, start)

	ref, err := e.store.Insert(ctx, f)
	if err != nil {
		e.metrics.StoreErrors.Inc()
		e.logger.Error("persist forecast failed", "fingerprint", key, "error", err)
		if errors.Is(err, domain.ErrStoreUnavailable) {
			return domain.Forecast{}, err
		}
		return domain.Forecast{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	f.ID = ref.ID
	f.GeneratedAt = ref.GeneratedAt

	if cacheOK {
		if err := e.cache.Set(ctx, key, f, e.cacheTTL); err != nil {
			e.metrics.CacheRequests.WithLabelValues("error").Inc()
			e.logger.Warn("prediction cache write failed", "fingerprint", key, "error", err)
		}
	}

	e.metrics.ForecastsGenerated.WithLabelValues(f.Model.Strategy).Inc()
	e.metrics.ForecastDuration.WithLabelValues(f.Model.Strategy).Observe(e.clock.Since(start).Seconds())
	e.logger.Info("forecast generated",
		"id", f.ID,
		"fingerprint", key,
		"model_version", f.ModelVersion,
		"history_points", len(history),
		"confidence", f.ConfidenceScore,
	)
	return f, nil
}

// dispatch picks the strategy and annotates the result. It never fails.
func (e *Engine) dispatch(req domain.ForecastRequest, history []domain.HistoricalPoint, now time.Time) domain.Forecast {
	f := domain.Forecast{
		Region:      req.Region,
		DiseaseType: req.DiseaseType,
		HorizonDays: req.HorizonDays,
	}

	var fallbackFrom string
	if e.IsMechanistic(req.DiseaseType) {
		points, err := e.epidemic.Forecast(history, req.HorizonDays, req.DiseaseType, now)
		if err == nil {
			f.Points = points
			f.ConfidenceScore = forecast.SEIRConfidence
			f.Model = domain.ModelTag{Strategy: domain.StrategySEIR}
			f.ModelVersion = f.Model.Version()
			return f
		}
		e.metrics.Fallbacks.Inc()
		e.logger.Warn("epidemic simulation failed, falling back to trend model",
			"disease", req.DiseaseType,
			"history_points", len(history),
			"error", err,
		)
		fallbackFrom = domain.StrategySEIR
	}

	result := forecast.Trend(history, req.HorizonDays, now)
	f.Points = result.Points
	f.ConfidenceScore = forecast.TrendConfidence(result.Model, len(history))
	f.Model = domain.ModelTag{Strategy: domain.StrategyTrend, FallbackFrom: fallbackFrom}
	f.ModelVersion = f.Model.Version()
	return f
}

// IsMechanistic reports whether disease is on the SEIR allow-list.
func (e *Engine) IsMechanistic(disease string) bool {
	_, ok := e.mechanistic[domain.NormalizeDisease(disease)]
	return ok
}

// GetByID returns a persisted forecast, or domain.ErrNotFound when it is unknown
// or older than the retention window.
func (e *Engine) GetByID(ctx context.Context, id string) (domain.Forecast, error) {
	f, err := e.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrStoreUnavailable) {
			return domain.Forecast{}, err
		}
		return domain.Forecast{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	if e.clock.Since(f.GeneratedAt) > e.retention {
		return domain.Forecast{}, fmt.Errorf("%w: %s expired", domain.ErrNotFound, id)
	}
	return f, nil
}

// InvalidateCache drops cached forecasts whose fingerprint starts with
// "forecast:"+prefix and returns how many were removed. An empty prefix clears
// every cached forecast.
func (e *Engine) InvalidateCache(ctx context.Context, prefix string) (int, error) {
	if e.cache == nil {
		return 0, nil
	}
	n, err := e.cache.DeletePrefix(ctx, domain.CacheKeyPrefix+prefix)
	if err != nil {
		return 0, err
	}
	e.logger.Info("prediction cache invalidated", "prefix", prefix, "removed", n)
	return n, nil
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CheckReadiness pings the prediction store when it supports it.
func (e *Engine) CheckReadiness(ctx context.Context) error {
	if p, ok := e.store.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func sortedHistory(history []domain.HistoricalPoint) []domain.HistoricalPoint {
	less := func(i, j int) bool { return history[i].Date.Before(history[j].Date) }
	if sort.SliceIsSorted(history, less) {
		return history
	}
	out := make([]domain.HistoricalPoint, len(history))
	copy(out, history)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}
