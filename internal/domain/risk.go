package domain

// RiskLevel is the qualitative risk tier of a forecast point.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// DefaultSeverity is the severity weight used when none is known.
const DefaultSeverity = 2.5

// ClassifyRisk maps predicted cases and a severity weight to a risk tier.
// The score is predicted × severity; a non-positive severity falls back to
// DefaultSeverity.
//
//	score < 20   low
//	score < 50   medium
//	score < 100  high
//	otherwise    critical
func ClassifyRisk(predictedCases int, severity float64) RiskLevel {
	if !(severity > 0) {
		severity = DefaultSeverity
	}
	score := float64(predictedCases) * severity
	switch {
	case score < 20:
		return RiskLow
	case score < 50:
		return RiskMedium
	case score < 100:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// Rank orders risk levels from 0 (low) to 3 (critical).
func (l RiskLevel) Rank() int {
	switch l {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}
