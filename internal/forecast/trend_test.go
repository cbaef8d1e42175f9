package forecast

import (
	"testing"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testToday = time.Date(2024, time.March, 10, 14, 30, 0, 0, time.UTC)

func series(start time.Time, cases ...int) []domain.HistoricalPoint {
	points := make([]domain.HistoricalPoint, len(cases))
	for i, c := range cases {
		points[i] = domain.HistoricalPoint{
			Date:          start.AddDate(0, 0, i),
			TotalCases:    c,
			OutbreakCount: 1,
		}
	}
	return points
}

func severity(v float64) *float64 { return &v }

func TestTrend_IncreasingSeries(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	history := series(start, 10, 12, 15, 18, 22)

	result := Trend(history, 3, testToday)

	require.NotNil(t, result.Model)
	assert.InDelta(t, 3.0, result.Model.Slope, 1e-9)
	assert.InDelta(t, 9.4, result.Model.Intercept, 1e-9)
	assert.InDelta(t, 0.5477, result.Model.ResidualStdDev, 1e-4)
	assert.InDelta(t, 0.9868, result.Model.RSquared, 1e-4)

	require.Len(t, result.Points, 3)
	assert.Greater(t, result.Points[0].PredictedCases, 22)
	assert.Equal(t, []int{24, 27, 30}, predicted(result.Points))
	assert.Equal(t, domain.ConfidenceInterval{Lower: 23, Upper: 25}, result.Points[0].ConfidenceInterval)
	assert.Equal(t, domain.RiskHigh, result.Points[0].RiskLevel)

	// Dates continue from the last historical day.
	assert.Equal(t, time.Date(2024, time.March, 6, 0, 0, 0, 0, time.UTC), result.Points[0].Date)
	assert.Equal(t, time.Date(2024, time.March, 8, 0, 0, 0, 0, time.UTC), result.Points[2].Date)
}

func TestTrend_ConservativeBelowThreePoints(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	for _, history := range [][]domain.HistoricalPoint{nil, series(start, 40), series(start, 40, 90)} {
		result := Trend(history, 3, testToday)

		assert.Nil(t, result.Model)
		require.Len(t, result.Points, 3)
		for i, p := range result.Points {
			assert.Equal(t, 0, p.PredictedCases)
			assert.Equal(t, domain.ConfidenceInterval{}, p.ConfidenceInterval)
			assert.Equal(t, domain.RiskLow, p.RiskLevel)
			assert.Equal(t, time.Date(2024, time.March, 11+i, 0, 0, 0, 0, time.UTC), p.Date)
		}
	}
}

func TestTrend_DecliningSeriesNeverNegative(t *testing.T) {
	start := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	history := series(start, 50, 40, 31, 19, 12, 4)

	result := Trend(history, 14, testToday)

	require.Len(t, result.Points, 14)
	for _, p := range result.Points {
		assert.GreaterOrEqual(t, p.PredictedCases, 0)
		assert.GreaterOrEqual(t, p.ConfidenceInterval.Lower, 0)
	}
	assert.Equal(t, 0, result.Points[13].PredictedCases)
}

func TestTrend_IntervalContainsPrediction(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	cases := [][]int{
		{3, 9, 1, 14, 0, 22, 7, 30, 2},
		{100, 100, 100, 100},
		{0, 0, 5, 0, 0, 8, 0},
		{5, 4, 3},
	}
	for _, c := range cases {
		result := Trend(series(start, c...), 20, testToday)
		for _, p := range result.Points {
			assert.LessOrEqual(t, p.ConfidenceInterval.Lower, p.PredictedCases)
			assert.LessOrEqual(t, p.PredictedCases, p.ConfidenceInterval.Upper)
			assert.GreaterOrEqual(t, p.ConfidenceInterval.Lower, 0)
		}
	}
}

func TestTrend_IntervalWidensWithHorizon(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	result := Trend(series(start, 20, 35, 22, 41, 30, 48, 37), 10, testToday)

	first := result.Points[0].ConfidenceInterval
	last := result.Points[9].ConfidenceInterval
	assert.Greater(t, last.Upper-result.Points[9].PredictedCases, first.Upper-result.Points[0].PredictedCases)
}

func TestTrend_UsesLastSeverity(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	history := series(start, 4, 4, 4)
	history[2].AvgSeverity = severity(5)

	result := Trend(history, 1, testToday)

	// 4 cases × severity 5 = 20 → medium; the default 2.5 would give low.
	assert.Equal(t, domain.RiskMedium, result.Points[0].RiskLevel)
}

func TestFitTrend_ConstantSeries(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	model := FitTrend(series(start, 7, 7, 7, 7))

	assert.InDelta(t, 0, model.Slope, 1e-12)
	assert.InDelta(t, 7, model.Intercept, 1e-12)
	assert.Equal(t, 0.0, model.RSquared)
	assert.Equal(t, 4, model.N)
}

func predicted(points []domain.ForecastPoint) []int {
	out := make([]int, len(points))
	for i, p := range points {
		out[i] = p.PredictedCases
	}
	return out
}
