package forecast

import (
	"math"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// minTrendPoints is the smallest history the regression is fitted on. Shorter
// series get the conservative forecast.
const minTrendPoints = 3

// TrendModel is an ordinary least squares fit of total cases against the
// position of each historical point.
type TrendModel struct {
	Slope          float64
	Intercept      float64
	ResidualStdDev float64
	RSquared       float64
	N              int
}

// At evaluates the fitted line at position x.
func (m TrendModel) At(x float64) float64 {
	return m.Slope*x + m.Intercept
}

// TrendResult holds the projected points and, unless the conservative path was
// taken, the fitted model.
type TrendResult struct {
	Points []domain.ForecastPoint
	Model  *TrendModel
}

// FitTrend regresses TotalCases on index 0..n-1. Callers must pass at least two
// points.
func FitTrend(history []domain.HistoricalPoint) TrendModel {
	n := len(history)
	xs := make([]float64, n)
	ys := make([]float64, n)
	for i, p := range history {
		xs[i] = float64(i)
		ys[i] = float64(p.TotalCases)
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)

	residuals := make([]float64, n)
	for i := range xs {
		residuals[i] = ys[i] - (slope*xs[i] + intercept)
	}

	r2 := stat.RSquared(xs, ys, nil, intercept, slope)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		// Constant series: the total sum of squares is zero.
		r2 = 0
	}

	return TrendModel{
		Slope:          slope,
		Intercept:      intercept,
		ResidualStdDev: stat.StdDev(residuals, nil),
		RSquared:       r2,
		N:              n,
	}
}

// Trend projects horizonDays points past the last historical day. With fewer
// than three historical points it returns the conservative forecast starting
// the day after today.
func Trend(history []domain.HistoricalPoint, horizonDays int, today time.Time) TrendResult {
	if len(history) < minTrendPoints {
		return TrendResult{Points: ConservativeForecast(horizonDays, today)}
	}

	model := FitTrend(history)
	last := history[len(history)-1]
	severity := domain.DefaultSeverity
	if last.AvgSeverity != nil && *last.AvgSeverity > 0 {
		severity = *last.AvgSeverity
	}

	start := domain.StartOfDay(last.Date)
	sigma := model.ResidualStdDev
	points := make([]domain.ForecastPoint, 0, max(horizonDays, 0))
	for i := 1; i <= horizonDays; i++ {
		predicted := int(math.Max(0, math.Round(model.At(float64(model.N-1+i)))))
		halfWidth := 2*sigma + 0.1*float64(i)*sigma

		points = append(points, domain.ForecastPoint{
			Date:           start.AddDate(0, 0, i),
			PredictedCases: predicted,
			ConfidenceInterval: domain.ConfidenceInterval{
				Lower: int(math.Max(0, math.Round(float64(predicted)-halfWidth))),
				Upper: int(math.Round(float64(predicted) + halfWidth)),
			},
			RiskLevel: domain.ClassifyRisk(predicted, severity),
		})
	}

	return TrendResult{Points: points, Model: &model}
}

// ConservativeForecast returns horizonDays zero-case, low-risk points starting
// the day after today.
func ConservativeForecast(horizonDays int, today time.Time) []domain.ForecastPoint {
	start := domain.StartOfDay(today)
	points := make([]domain.ForecastPoint, 0, max(horizonDays, 0))
	for i := 1; i <= horizonDays; i++ {
		points = append(points, domain.ForecastPoint{
			Date:      start.AddDate(0, 0, i),
			RiskLevel: domain.RiskLow,
		})
	}
	return points
}
