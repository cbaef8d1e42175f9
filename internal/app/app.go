// Package app assembles the forecasting engine and its adapters from
// configuration. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/couchcryptid/outbreak-forecast/internal/adapter/cache"
	"github.com/couchcryptid/outbreak-forecast/internal/adapter/memory"
	"github.com/couchcryptid/outbreak-forecast/internal/adapter/postgres"
	"github.com/couchcryptid/outbreak-forecast/internal/adapter/reportsapi"
	"github.com/couchcryptid/outbreak-forecast/internal/config"
	"github.com/couchcryptid/outbreak-forecast/internal/engine"
	"github.com/couchcryptid/outbreak-forecast/internal/forecast"
	"github.com/couchcryptid/outbreak-forecast/internal/observability"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

// App holds the assembled engine and the resources behind it.
type App struct {
	Engine *engine.Engine
	Pool   *pgxpool.Pool // nil without DATABASE_URL

	redis *redis.Client
}

// Build wires adapters and the engine from cfg. The returned cleanup releases
// every connection Build opened and is safe to call once.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) (*App, func(), error) {
	clock := clockwork.NewRealClock()
	a := &App{}
	cleanup := func() {
		if a.redis != nil {
			if err := a.redis.Close(); err != nil {
				logger.Error("redis close error", "error", err)
			}
		}
		if a.Pool != nil {
			a.Pool.Close()
		}
	}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		a.Pool = pool
	}

	var store engine.Store
	if a.Pool != nil {
		store = postgres.NewForecastRepository(a.Pool, cfg.ForecastRetention)
		logger.Info("prediction store: postgres")
	} else {
		store = memory.NewStore(cfg.ForecastRetention, clock)
		logger.Info("prediction store: in-memory")
	}

	history, err := buildHistory(cfg, a.Pool, clock, metrics, logger)
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	var predictionCache engine.Cache
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		predictionCache = cache.NewRedis(a.redis)
		logger.Info("prediction cache: redis", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
	} else {
		mem, err := cache.NewMemory(cfg.CacheSize, clock)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		predictionCache = mem
		logger.Info("prediction cache: in-memory", "size", cfg.CacheSize, "ttl", cfg.CacheTTL)
	}

	simulator := forecast.NewSimulator(forecast.DefaultEstimator{Population: cfg.SEIRPopulation})

	a.Engine = engine.New(history, predictionCache, store, simulator, engine.Options{
		MechanisticDiseases: cfg.MechanisticDiseases,
		CacheTTL:            cfg.CacheTTL,
		Retention:           cfg.ForecastRetention,
		SingleFlight:        cfg.SingleFlightEnabled,
		Clock:               clock,
	}, logger, metrics)

	return a, cleanup, nil
}

func buildHistory(cfg *config.Config, pool *pgxpool.Pool, clock clockwork.Clock, metrics *observability.Metrics, logger *slog.Logger) (engine.HistoryProvider, error) {
	switch cfg.HistorySource {
	case config.HistoryPostgres:
		if pool == nil {
			return nil, errors.New("postgres history source requires DATABASE_URL")
		}
		logger.Info("history source: postgres")
		return postgres.NewHistoryRepository(pool, clock), nil
	case config.HistoryHTTP:
		logger.Info("history source: reports api", "url", cfg.ReportsAPIURL, "timeout", cfg.ReportsAPITimeout)
		return reportsapi.NewClient(cfg.ReportsAPIURL, cfg.ReportsAPITimeout, metrics, logger), nil
	case config.HistoryMemory, "":
		logger.Warn("history source: in-memory, every forecast starts from an empty series")
		return memory.NewHistory(clock), nil
	default:
		return nil, fmt.Errorf("unknown history source %q", cfg.HistorySource)
	}
}

// CheckReadiness verifies the prediction store and, when configured, Redis.
func (a *App) CheckReadiness(ctx context.Context) error {
	if err := a.Engine.CheckReadiness(ctx); err != nil {
		return fmt.Errorf("prediction store: %w", err)
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("prediction cache: %w", err)
		}
	}
	return nil
}

// Readiness is ready when every checker is.
type Readiness []sharedobs.ReadinessChecker

func (r Readiness) CheckReadiness(ctx context.Context) error {
	for _, c := range r {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}
