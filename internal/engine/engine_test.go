package engine

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/adapter/cache"
	"github.com/couchcryptid/outbreak-forecast/internal/adapter/memory"
	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/couchcryptid/outbreak-forecast/internal/forecast"
	"github.com/couchcryptid/outbreak-forecast/internal/observability"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testNow    = time.Date(2024, time.March, 10, 14, 30, 0, 0, time.UTC)
	testRegion = domain.GeographicBounds{North: 41, South: 40.5, East: -73.7, West: -74.3}
)

// --- Fakes ---

type countingHistory struct {
	inner   HistoryProvider
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (h *countingHistory) Fetch(ctx context.Context, region domain.GeographicBounds, disease string) ([]domain.HistoricalPoint, error) {
	h.calls.Add(1)
	if h.release != nil {
		<-h.release
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.inner.Fetch(ctx, region, disease)
}

type failingStore struct{ err error }

func (s failingStore) Insert(context.Context, domain.Forecast) (domain.StoredRef, error) {
	return domain.StoredRef{}, s.err
}

func (s failingStore) GetByID(context.Context, string) (domain.Forecast, error) {
	return domain.Forecast{}, s.err
}

type brokenCache struct {
	sets atomic.Int32
}

func (c *brokenCache) Get(context.Context, string) (domain.Forecast, bool, error) {
	return domain.Forecast{}, false, domain.ErrCacheUnavailable
}

func (c *brokenCache) Set(context.Context, string, domain.Forecast, time.Duration) error {
	c.sets.Add(1)
	return nil
}

func (c *brokenCache) DeletePrefix(context.Context, string) (int, error) {
	return 0, domain.ErrCacheUnavailable
}

type failingModel struct{}

func (failingModel) Forecast([]domain.HistoricalPoint, int, string, time.Time) ([]domain.ForecastPoint, error) {
	return nil, domain.ErrSimulationFailed
}

// --- Harness ---

type harness struct {
	engine  *Engine
	history *countingHistory
	seeded  *memory.History
	cache   *cache.Memory
	store   *memory.Store
	clock   *clockwork.FakeClock
	metrics *observability.Metrics
}

type harnessOpts struct {
	epidemic     EpidemicModel
	store        Store
	cache        Cache
	singleFlight bool
}

func newHarness(t *testing.T, o harnessOpts) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testNow)
	seeded := memory.NewHistory(clock)
	mem, err := cache.NewMemory(100, clock)
	require.NoError(t, err)

	h := &harness{
		history: &countingHistory{inner: seeded},
		seeded:  seeded,
		cache:   mem,
		store:   memory.NewStore(0, clock),
		clock:   clock,
		metrics: observability.NewMetricsForTesting(),
	}

	var c Cache = h.cache
	if o.cache != nil {
		c = o.cache
	}
	var s Store = h.store
	if o.store != nil {
		s = o.store
	}

	h.engine = New(h.history, c, s, o.epidemic, Options{
		MechanisticDiseases: []string{"COVID-19", "influenza", "measles"},
		CacheTTL:            time.Hour,
		Retention:           7 * 24 * time.Hour,
		SingleFlight:        o.singleFlight,
		Clock:               clock,
	}, slog.Default(), h.metrics)
	return h
}

func (h *harness) seed(disease string, cases ...int) {
	start := domain.StartOfDay(testNow).AddDate(0, 0, -len(cases))
	points := make([]domain.HistoricalPoint, len(cases))
	for i, c := range cases {
		points[i] = domain.HistoricalPoint{Date: start.AddDate(0, 0, i), TotalCases: c, OutbreakCount: 1}
	}
	h.seeded.Seed(disease, points)
}

func request(disease string, horizon int) domain.ForecastRequest {
	return domain.ForecastRequest{Region: testRegion, HorizonDays: horizon, DiseaseType: disease}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}

// --- Tests ---

func TestGenerate_TrendForNonMechanisticDisease(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.seed("dengue", 10, 12, 15, 18, 22)

	f, err := h.engine.Generate(context.Background(), request("Dengue", 3))
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, testNow, f.GeneratedAt)
	assert.Equal(t, "dengue", f.DiseaseType)
	assert.Equal(t, domain.TrendModelVersion, f.ModelVersion)
	assert.Equal(t, domain.ModelTag{Strategy: domain.StrategyTrend}, f.Model)
	assert.Equal(t, forecast.SparseHistoryConfidence, f.ConfidenceScore)
	require.Len(t, f.Points, 3)
	assert.Equal(t, 24, f.Points[0].PredictedCases)
	assert.Equal(t, 30, f.Points[2].PredictedCases)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ForecastsGenerated.WithLabelValues(domain.StrategyTrend)))
}

func TestGenerate_SEIRForMechanisticDisease(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.seed("covid-19", 10, 15, 22)

	f, err := h.engine.Generate(context.Background(), request("Covid-19", 5))
	require.NoError(t, err)

	assert.Equal(t, domain.SEIRModelVersion, f.ModelVersion)
	assert.Equal(t, domain.ModelTag{Strategy: domain.StrategySEIR}, f.Model)
	assert.Equal(t, forecast.SEIRConfidence, f.ConfidenceScore)
	require.Len(t, f.Points, 5)
	assert.Equal(t, 22, f.Points[0].PredictedCases)
}

func TestGenerate_FallsBackToTrendWhenSimulationFails(t *testing.T) {
	h := newHarness(t, harnessOpts{epidemic: failingModel{}})
	h.seed("influenza", 10, 12, 15, 18, 22)

	f, err := h.engine.Generate(context.Background(), request("influenza", 3))
	require.NoError(t, err)

	assert.Equal(t, domain.TrendFallbackModelVersion, f.ModelVersion)
	assert.Equal(t, domain.ModelTag{Strategy: domain.StrategyTrend, FallbackFrom: domain.StrategySEIR}, f.Model)
	assert.Equal(t, forecast.SparseHistoryConfidence, f.ConfidenceScore)
	assert.Equal(t, []int{24, 27, 30}, []int{f.Points[0].PredictedCases, f.Points[1].PredictedCases, f.Points[2].PredictedCases})
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fallbacks))
}

func TestGenerate_EmptyHistoryIsConservative(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	f, err := h.engine.Generate(context.Background(), request("", 3))
	require.NoError(t, err)

	assert.Equal(t, domain.TrendModelVersion, f.ModelVersion)
	assert.Equal(t, forecast.SparseHistoryConfidence, f.ConfidenceScore)
	require.Len(t, f.Points, 3)
	for i, p := range f.Points {
		assert.Equal(t, 0, p.PredictedCases)
		assert.Equal(t, domain.ConfidenceInterval{}, p.ConfidenceInterval)
		assert.Equal(t, domain.RiskLow, p.RiskLevel)
		assert.Equal(t, time.Date(2024, time.March, 11+i, 0, 0, 0, 0, time.UTC), p.Date)
	}
}

func TestGenerate_CacheHitIsByteIdenticalUntilTTL(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})
	h.seed("dengue", 10, 12, 15, 18, 22)
	req := request("dengue", 7)

	first, err := h.engine.Generate(ctx, req)
	require.NoError(t, err)

	h.clock.Advance(30 * time.Minute)
	second, err := h.engine.Generate(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, mustJSON(t, first), mustJSON(t, second))
	assert.Equal(t, int32(1), h.history.calls.Load())
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CacheRequests.WithLabelValues("hit")))

	h.clock.Advance(30 * time.Minute)
	third, err := h.engine.Generate(ctx, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, testNow.Add(time.Hour), third.GeneratedAt)
	assert.Equal(t, int32(2), h.history.calls.Load())
	assert.Equal(t, 2, h.store.Len())
}

func TestGenerate_CacheReadFailureComputesWithoutWriting(t *testing.T) {
	broken := &brokenCache{}
	h := newHarness(t, harnessOpts{cache: broken})
	h.seed("dengue", 1, 2, 3)

	f, err := h.engine.Generate(context.Background(), request("dengue", 2))
	require.NoError(t, err)

	assert.NotEmpty(t, f.ID)
	assert.Equal(t, int32(0), broken.sets.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CacheRequests.WithLabelValues("error")))
}

func TestGenerate_StoreFailureLeavesCacheEmpty(t *testing.T) {
	h := newHarness(t, harnessOpts{store: failingStore{err: errors.New("connection refused")}})
	h.seed("dengue", 1, 2, 3)

	_, err := h.engine.Generate(context.Background(), request("dengue", 2))
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Equal(t, 0, h.cache.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.StoreErrors))
}

func TestGenerate_HistoryFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.history.err = errors.New("timeout")

	_, err := h.engine.Generate(context.Background(), request("dengue", 2))
	require.ErrorIs(t, err, domain.ErrDataUnavailable)
	assert.Equal(t, 0, h.store.Len())
	assert.Equal(t, 0, h.cache.Len())
}

func TestGenerate_InvalidRequest(t *testing.T) {
	h := newHarness(t, harnessOpts{})

	tests := []struct {
		name string
		req  domain.ForecastRequest
	}{
		{"zero horizon", request("dengue", 0)},
		{"horizon too long", request("dengue", domain.MaxHorizonDays+1)},
		{"inverted latitude", domain.ForecastRequest{Region: domain.GeographicBounds{North: 1, South: 2, East: 1, West: 0}, HorizonDays: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.engine.Generate(context.Background(), tt.req)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
	assert.Equal(t, int32(0), h.history.calls.Load())
}

func TestGenerate_SingleFlightDedupsConcurrentMisses(t *testing.T) {
	h := newHarness(t, harnessOpts{singleFlight: true})
	h.seed("dengue", 1, 2, 3)
	h.history.release = make(chan struct{})

	const callers = 5
	var wg sync.WaitGroup
	ids := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := h.engine.Generate(context.Background(), request("dengue", 2))
			assert.NoError(t, err)
			ids[i] = f.ID
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(h.history.release)
	wg.Wait()

	assert.Equal(t, int32(1), h.history.calls.Load())
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestGetByID(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})

	f, err := h.engine.Generate(ctx, request("", 3))
	require.NoError(t, err)

	got, err := h.engine.GetByID(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	_, err = h.engine.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	h.clock.Advance(8 * 24 * time.Hour)
	_, err = h.engine.GetByID(ctx, f.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestGetByID_StoreFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{store: failingStore{err: errors.New("boom")}})
	_, err := h.engine.GetByID(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}

func TestInvalidateCache(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})

	_, err := h.engine.Generate(ctx, request("dengue", 3))
	require.NoError(t, err)
	_, err = h.engine.Generate(ctx, request("dengue", 5))
	require.NoError(t, err)
	_, err = h.engine.Generate(ctx, request("measles", 3))
	require.NoError(t, err)

	n, err := h.engine.InvalidateCache(ctx, "dengue:")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = h.engine.InvalidateCache(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Recomputed after invalidation.
	_, err = h.engine.Generate(ctx, request("dengue", 3))
	require.NoError(t, err)
	assert.Equal(t, int32(4), h.history.calls.Load())
}

func TestInvalidateCache_BackendFailure(t *testing.T) {
	h := newHarness(t, harnessOpts{cache: &brokenCache{}})
	_, err := h.engine.InvalidateCache(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrCacheUnavailable)
}

func TestIsMechanistic(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	assert.True(t, h.engine.IsMechanistic("covid-19"))
	assert.True(t, h.engine.IsMechanistic(" Measles "))
	assert.False(t, h.engine.IsMechanistic("dengue"))
	assert.False(t, h.engine.IsMechanistic(""))
}

func TestSortedHistory(t *testing.T) {
	d := func(n int) time.Time { return time.Date(2024, time.January, n, 0, 0, 0, 0, time.UTC) }
	in := []domain.HistoricalPoint{{Date: d(3), TotalCases: 3}, {Date: d(1), TotalCases: 1}, {Date: d(2), TotalCases: 2}}

	out := sortedHistory(in)

	assert.Equal(t, []int{1, 2, 3}, []int{out[0].TotalCases, out[1].TotalCases, out[2].TotalCases})
	assert.Equal(t, 3, in[0].TotalCases)
}
