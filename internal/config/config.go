package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// History sources.
const (
	HistoryPostgres = "postgres"
	HistoryHTTP     = "http"
	HistoryMemory   = "memory"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	KafkaBrokers       []string
	KafkaRequestTopic  string
	KafkaForecastTopic string
	KafkaGroupID       string
	HTTPAddr           string
	LogLevel           string
	LogFormat          string
	ShutdownTimeout    time.Duration

	PipelineEnabled    bool
	BatchSize          int
	BatchFlushInterval time.Duration
	ForecastRateLimit  float64

	// Storage and history.
	DatabaseURL       string
	HistorySource     string
	ReportsAPIURL     string
	ReportsAPITimeout time.Duration

	// Prediction cache. Redis is used when RedisAddr is set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheSize     int
	CacheTTL      time.Duration

	// Engine.
	ForecastRetention   time.Duration
	MechanisticDiseases []string
	SEIRPopulation      float64
	SingleFlightEnabled bool

	OTelEndpoint     string
	OTelSamplingRate float64
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	batchSize, err := sharedcfg.ParseBatchSize()
	if err != nil {
		return nil, err
	}

	flushInterval, err := sharedcfg.ParseBatchFlushInterval()
	if err != nil {
		return nil, err
	}

	reportsTimeout, err := parsePositiveDuration("REPORTS_API_TIMEOUT", "5s")
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parsePositiveDuration("CACHE_TTL", "1h")
	if err != nil {
		return nil, err
	}
	retention, err := parsePositiveDuration("FORECAST_RETENTION", "168h")
	if err != nil {
		return nil, err
	}

	rateLimit, err := parsePositiveFloat("FORECAST_RATE_LIMIT", "20")
	if err != nil {
		return nil, err
	}
	population, err := parsePositiveFloat("SEIR_POPULATION", "100000")
	if err != nil {
		return nil, err
	}
	sampling, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("OTEL_SAMPLING_RATE", "1.0"), 64)
	if err != nil || sampling < 0 || sampling > 1 {
		return nil, errors.New("invalid OTEL_SAMPLING_RATE: must be between 0 and 1")
	}

	cacheSize, err := strconv.Atoi(sharedcfg.EnvOrDefault("CACHE_SIZE", "1000"))
	if err != nil || cacheSize <= 0 {
		return nil, errors.New("invalid CACHE_SIZE: must be a positive integer")
	}
	redisDB, err := strconv.Atoi(sharedcfg.EnvOrDefault("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		return nil, errors.New("invalid REDIS_DB: must be a non-negative integer")
	}

	pipelineEnabled, err := parseBool("PIPELINE_ENABLED", true)
	if err != nil {
		return nil, err
	}
	singleFlight, err := parseBool("SINGLEFLIGHT_ENABLED", false)
	if err != nil {
		return nil, err
	}

	databaseURL := os.Getenv("DATABASE_URL")
	defaultHistory := HistoryMemory
	if databaseURL != "" {
		defaultHistory = HistoryPostgres
	}

	cfg := &Config{
		KafkaBrokers:       sharedcfg.ParseBrokers(sharedcfg.EnvOrDefault("KAFKA_BROKERS", "localhost:9092")),
		KafkaRequestTopic:  sharedcfg.EnvOrDefault("KAFKA_REQUEST_TOPIC", "forecast-requests"),
		KafkaForecastTopic: sharedcfg.EnvOrDefault("KAFKA_FORECAST_TOPIC", "outbreak-forecasts"),
		KafkaGroupID:       sharedcfg.EnvOrDefault("KAFKA_GROUP_ID", "outbreak-forecaster"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout:    shutdownTimeout,

		PipelineEnabled:    pipelineEnabled,
		BatchSize:          batchSize,
		BatchFlushInterval: flushInterval,
		ForecastRateLimit:  rateLimit,

		DatabaseURL:       databaseURL,
		HistorySource:     strings.ToLower(sharedcfg.EnvOrDefault("HISTORY_SOURCE", defaultHistory)),
		ReportsAPIURL:     os.Getenv("REPORTS_API_URL"),
		ReportsAPITimeout: reportsTimeout,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
		CacheSize:     cacheSize,
		CacheTTL:      cacheTTL,

		ForecastRetention:   retention,
		MechanisticDiseases: parseList(sharedcfg.EnvOrDefault("MECHANISTIC_DISEASES", "covid-19,influenza,measles")),
		SEIRPopulation:      population,
		SingleFlightEnabled: singleFlight,

		OTelEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelSamplingRate: sampling,
	}

	if cfg.PipelineEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return nil, errors.New("KAFKA_BROKERS is required")
		}
		if cfg.KafkaRequestTopic == "" {
			return nil, errors.New("KAFKA_REQUEST_TOPIC is required")
		}
		if cfg.KafkaForecastTopic == "" {
			return nil, errors.New("KAFKA_FORECAST_TOPIC is required")
		}
	}

	switch cfg.HistorySource {
	case HistoryMemory:
	case HistoryPostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("HISTORY_SOURCE is postgres but DATABASE_URL is not set")
		}
	case HistoryHTTP:
		if cfg.ReportsAPIURL == "" {
			return nil, errors.New("HISTORY_SOURCE is http but REPORTS_API_URL is not set")
		}
	default:
		return nil, fmt.Errorf("invalid HISTORY_SOURCE %q: want postgres, http or memory", cfg.HistorySource)
	}

	return cfg, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parsePositiveFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(sharedcfg.EnvOrDefault(key, def), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive number", key)
	}
	return v, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %q is not a boolean", key, s)
	}
	return v, nil
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
