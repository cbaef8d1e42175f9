package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "outbreak_forecast"

// Metrics holds the Prometheus counters, histograms, and gauges for the forecasting engine
// and the request pipeline.
type Metrics struct {
	// Engine metrics.
	ForecastsGenerated *prometheus.CounterVec   // labels: strategy={trend,seir}
	ForecastDuration   *prometheus.HistogramVec // labels: strategy={trend,seir}
	Fallbacks          prometheus.Counter
	CacheRequests      *prometheus.CounterVec // labels: result={hit,miss,error}
	HistoryErrors      prometheus.Counter
	StoreErrors        prometheus.Counter

	// Pipeline metrics.
	RequestsConsumed        prometheus.Counter
	ForecastsPublished      prometheus.Counter
	RequestErrors           prometheus.Counter
	PipelineRunning         prometheus.Gauge
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram

	// History source metrics.
	HistoryAPIDuration prometheus.Histogram
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(
		m.ForecastsGenerated,
		m.ForecastDuration,
		m.Fallbacks,
		m.CacheRequests,
		m.HistoryErrors,
		m.StoreErrors,
		m.RequestsConsumed,
		m.ForecastsPublished,
		m.RequestErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
		m.HistoryAPIDuration,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}

	return &Metrics{
		ForecastsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_generated_total",
			Help:      help("Forecasts computed and persisted, by strategy."),
		}, []string{"strategy"}),
		ForecastDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "forecast_duration_seconds",
			Help:      help("Time to fetch history, compute and persist a forecast."),
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"strategy"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seir_fallbacks_total",
			Help:      help("Epidemic simulations that failed and fell back to the trend model."),
		}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      help("Prediction cache lookups by result."),
		}, []string{"result"}),
		HistoryErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_errors_total",
			Help:      help("Historical series fetches that failed."),
		}),
		StoreErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_errors_total",
			Help:      help("Forecast persistence failures."),
		}),
		RequestsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_consumed_total",
			Help:      help("Forecast requests read from the request topic."),
		}),
		ForecastsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "forecasts_published_total",
			Help:      help("Forecasts written to the forecast topic."),
		}),
		RequestErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      help("Forecast requests rejected as malformed or invalid."),
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      help("1 when the request pipeline is active, 0 when shut down."),
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      help("Number of requests per batch extracted from Kafka."),
			Buckets:   []float64{1, 5, 10, 20, 30, 40, 50, 75, 100},
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      help("Duration of a complete request batch cycle."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		HistoryAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "history_api_duration_seconds",
			Help:      help("Reports API request duration in seconds."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}
