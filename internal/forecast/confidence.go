package forecast

import "math"

const (
	// SEIRConfidence is the fixed score attached to mechanistic forecasts. It is a
	// placeholder that has not been backtested against observed outcomes.
	SEIRConfidence = 0.85

	// MaxConfidence caps trend confidence.
	MaxConfidence = 0.95

	// SparseHistoryConfidence is the score for series shorter than sparseHistoryPoints.
	SparseHistoryConfidence = 0.3

	sparseHistoryPoints  = 7
	fullConfidencePoints = 30
)

// TrendConfidence scores a trend forecast from the fit quality and the amount of
// history: R² × min(1, n/30), clamped to [0, MaxConfidence]. Series shorter than
// seven points always score SparseHistoryConfidence.
func TrendConfidence(model *TrendModel, n int) float64 {
	if n < sparseHistoryPoints {
		return SparseHistoryConfidence
	}
	if model == nil {
		return 0
	}

	score := model.RSquared * math.Min(1, float64(n)/fullConfidencePoints)
	if math.IsNaN(score) {
		return 0
	}
	return math.Max(0, math.Min(MaxConfidence, score))
}
