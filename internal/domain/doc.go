// Package domain models outbreak case history and the forecasts derived from it.
//
// # Historical Series
//
// The engine reads daily aggregates of outbreak reports for a bounding box and an
// optional disease. Each [HistoricalPoint] carries:
//
//	date            calendar day (UTC midnight)
//	total cases     sum of reported cases that day, never negative
//	avg severity    mean report severity on a 1–5 scale, nil when no report carried one
//	outbreak count  number of reports aggregated into the day
//
// Series cover at most the trailing 90 days and are ordered ascending by date.
// Gaps are not filled: the trend model indexes points by position, not by
// calendar distance.
//
// # Forecasts
//
// A [Forecast] holds one [ForecastPoint] per horizon day. Every point satisfies
//
//	0 <= lower <= predicted <= upper
//
// and carries a [RiskLevel] derived by [ClassifyRisk]:
//
//	score = predicted cases × severity (2.5 when severity is unknown)
//	  <20 low | <50 medium | <100 high | ≥100 critical
//
// The [ModelTag] records which strategy produced the points. A trend forecast
// produced because the SEIR simulation failed is tagged with FallbackFrom "seir"
// and a distinct model version, so consumers can tell degraded forecasts apart.
//
// # Fingerprints
//
// Requests are identified by [ForecastRequest.Fingerprint], a canonical string of
// the form
//
//	forecast:<disease|*>:<north>,<south>,<east>,<west>:<horizon>
//
// with coordinates fixed to six decimals and the disease lower-cased. The disease
// comes first so that cache invalidation by prefix can target one disease.
package domain
