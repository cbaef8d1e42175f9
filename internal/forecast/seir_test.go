package forecast

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEstimator struct {
	params SEIRParameters
	err    error
}

func (s stubEstimator) Estimate(_ []domain.HistoricalPoint, _ int, _ string) (SEIRParameters, error) {
	return s.params, s.err
}

func TestDefaultEstimator(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("seeds from last case count", func(t *testing.T) {
		p, err := DefaultEstimator{Population: 50_000}.Estimate(series(start, 3, 9, 22), 14, "influenza")
		require.NoError(t, err)
		assert.Equal(t, 50_000.0, p.Population)
		assert.Equal(t, 22.0, p.InitialInfected)
		assert.Equal(t, 11.0, p.InitialExposed)
		assert.Equal(t, 0.0, p.InitialRecovered)
		assert.Equal(t, DefaultBeta, p.Beta)
		assert.Equal(t, DefaultSigma, p.Sigma)
		assert.Equal(t, DefaultGamma, p.Gamma)
		assert.Equal(t, 14, p.Days)
	})

	t.Run("empty history seeds one infected and one exposed", func(t *testing.T) {
		p, err := DefaultEstimator{}.Estimate(nil, 3, "")
		require.NoError(t, err)
		assert.Equal(t, float64(DefaultPopulation), p.Population)
		assert.Equal(t, 1.0, p.InitialInfected)
		assert.Equal(t, 1.0, p.InitialExposed)
	})

	t.Run("negative case count fails", func(t *testing.T) {
		_, err := DefaultEstimator{}.Estimate(series(start, 4, -2), 3, "")
		assert.ErrorIs(t, err, domain.ErrSimulationFailed)
	})
}

func TestSimulate_CompartmentsStayNonNegative(t *testing.T) {
	params := []SEIRParameters{
		{Population: 100_000, InitialInfected: 22, InitialExposed: 11, Beta: DefaultBeta, Sigma: DefaultSigma, Gamma: DefaultGamma, Days: 90},
		{Population: 1_000, InitialInfected: 500, InitialExposed: 400, Beta: 50, Sigma: 1, Gamma: 1, Days: 60},
		{Population: 10, InitialInfected: 1, InitialExposed: 1, Beta: 9, Sigma: 3, Gamma: 2.5, Days: 60},
	}

	for _, p := range params {
		days, err := Simulate(p)
		require.NoError(t, err)
		require.Len(t, days, p.Days)
		for _, c := range days {
			assert.GreaterOrEqual(t, c.Susceptible, 0.0)
			assert.GreaterOrEqual(t, c.Exposed, 0.0)
			assert.GreaterOrEqual(t, c.Infected, 0.0)
			assert.GreaterOrEqual(t, c.Recovered, 0.0)
		}
	}
}

func TestSimulate_ConservesPopulation(t *testing.T) {
	p := SEIRParameters{Population: 100_000, InitialInfected: 22, InitialExposed: 11, Beta: DefaultBeta, Sigma: DefaultSigma, Gamma: DefaultGamma, Days: 45}

	days, err := Simulate(p)
	require.NoError(t, err)
	for _, c := range days {
		total := c.Susceptible + c.Exposed + c.Infected + c.Recovered
		assert.InDelta(t, p.Population, total, 1e-6)
	}
}

func TestSimulate_InvalidParameters(t *testing.T) {
	base := SEIRParameters{Population: 1_000, InitialInfected: 1, InitialExposed: 1, Beta: DefaultBeta, Sigma: DefaultSigma, Gamma: DefaultGamma, Days: 5}

	tests := []struct {
		name   string
		mutate func(p *SEIRParameters)
	}{
		{"zero population", func(p *SEIRParameters) { p.Population = 0 }},
		{"NaN beta", func(p *SEIRParameters) { p.Beta = math.NaN() }},
		{"infinite infected", func(p *SEIRParameters) { p.InitialInfected = math.Inf(1) }},
		{"negative exposed", func(p *SEIRParameters) { p.InitialExposed = -1 }},
		{"zero gamma", func(p *SEIRParameters) { p.Gamma = 0 }},
		{"initial exceeds population", func(p *SEIRParameters) { p.InitialInfected = 2_000 }},
		{"negative horizon", func(p *SEIRParameters) { p.Days = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base
			tt.mutate(&p)
			days, err := Simulate(p)
			assert.ErrorIs(t, err, domain.ErrSimulationFailed)
			assert.Nil(t, days)
		})
	}
}

func TestSimulator_Forecast(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	history := series(start, 10, 15, 22)

	points, err := NewSimulator(nil).Forecast(history, 5, "influenza", testToday)
	require.NoError(t, err)
	require.Len(t, points, 5)

	// Day 1: I = 22 + 0.2×11 − 0.1×22 = 22.
	assert.Equal(t, 22, points[0].PredictedCases)
	assert.Equal(t, domain.ConfidenceInterval{Lower: 18, Upper: 26}, points[0].ConfidenceInterval)
	assert.Equal(t, domain.RiskHigh, points[0].RiskLevel)
	assert.Equal(t, time.Date(2024, time.March, 4, 0, 0, 0, 0, time.UTC), points[0].Date)

	for _, p := range points {
		assert.LessOrEqual(t, p.ConfidenceInterval.Lower, p.PredictedCases)
		assert.LessOrEqual(t, p.PredictedCases, p.ConfidenceInterval.Upper)
	}
}

func TestSimulator_ForecastEmptyHistoryStartsTomorrow(t *testing.T) {
	points, err := NewSimulator(nil).Forecast(nil, 2, "measles", testToday)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, time.Date(2024, time.March, 11, 0, 0, 0, 0, time.UTC), points[0].Date)
}

func TestSimulator_ForecastFailures(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)

	t.Run("estimator error is wrapped", func(t *testing.T) {
		sim := NewSimulator(stubEstimator{err: errors.New("calibration service down")})
		points, err := sim.Forecast(series(start, 1, 2, 3), 3, "influenza", testToday)
		assert.ErrorIs(t, err, domain.ErrSimulationFailed)
		assert.Contains(t, err.Error(), "calibration service down")
		assert.Nil(t, points)
	})

	t.Run("population smaller than cases", func(t *testing.T) {
		sim := NewSimulator(DefaultEstimator{Population: 10})
		points, err := sim.Forecast(series(start, 40, 50, 60), 3, "influenza", testToday)
		assert.ErrorIs(t, err, domain.ErrSimulationFailed)
		assert.Nil(t, points)
	})

	t.Run("estimated days mismatch", func(t *testing.T) {
		sim := NewSimulator(stubEstimator{params: SEIRParameters{Population: 100, InitialInfected: 1, InitialExposed: 1, Beta: 1, Sigma: 1, Gamma: 1, Days: 1}})
		_, err := sim.Forecast(nil, 4, "", testToday)
		assert.ErrorIs(t, err, domain.ErrSimulationFailed)
	})
}
