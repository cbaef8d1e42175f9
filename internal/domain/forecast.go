package domain

import (
	"time"
)

// Model versions stamped on persisted forecasts.
const (
	TrendModelVersion         = "trend-linear-v1"
	SEIRModelVersion          = "seir-v1"
	TrendFallbackModelVersion = TrendModelVersion + "+fallback-seir"
)

// Strategy names used in ModelTag.
const (
	StrategyTrend = "trend"
	StrategySEIR  = "seir"
)

// HistoricalPoint is one day of aggregated outbreak reports.
type HistoricalPoint struct {
	Date          time.Time `json:"date"`
	TotalCases    int       `json:"total_cases"`
	AvgSeverity   *float64  `json:"avg_severity,omitempty"`
	OutbreakCount int       `json:"outbreak_count"`
}

// ConfidenceInterval bounds a predicted case count.
type ConfidenceInterval struct {
	Lower int `json:"lower"`
	Upper int `json:"upper"`
}

// ForecastPoint is the prediction for a single future day.
type ForecastPoint struct {
	Date               time.Time          `json:"date"`
	PredictedCases     int                `json:"predicted_cases"`
	ConfidenceInterval ConfidenceInterval `json:"confidence_interval"`
	RiskLevel          RiskLevel          `json:"risk_level"`
}

// ModelTag identifies the strategy that produced a forecast. FallbackFrom is set
// when the requested strategy failed and another one was used instead.
type ModelTag struct {
	Strategy     string `json:"strategy"`
	FallbackFrom string `json:"fallback_from,omitempty"`
}

// Version maps the tag to the model version string stored with the forecast.
func (t ModelTag) Version() string {
	switch {
	case t.Strategy == StrategySEIR:
		return SEIRModelVersion
	case t.FallbackFrom == StrategySEIR:
		return TrendFallbackModelVersion
	default:
		return TrendModelVersion
	}
}

// Forecast is the engine's output and the persisted record.
type Forecast struct {
	ID              string           `json:"id"`
	Region          GeographicBounds `json:"region"`
	DiseaseType     string           `json:"disease_type,omitempty"`
	HorizonDays     int              `json:"horizon_days"`
	Points          []ForecastPoint  `json:"points"`
	ConfidenceScore float64          `json:"confidence_score"`
	ModelVersion    string           `json:"model_version"`
	Model           ModelTag         `json:"model"`
	GeneratedAt     time.Time        `json:"generated_at"`
}

// StoredRef is the identity a prediction store assigns on insert.
type StoredRef struct {
	ID          string
	GeneratedAt time.Time
}

// StartOfDay truncates t to midnight UTC.
func StartOfDay(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
