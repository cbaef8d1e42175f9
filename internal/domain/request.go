package domain

import (
	"fmt"
	"math"
	"strings"
)

// MaxHorizonDays caps how far ahead a forecast may reach.
const MaxHorizonDays = 90

// CacheKeyPrefix namespaces every request fingerprint.
const CacheKeyPrefix = "forecast:"

// GeographicBounds is a latitude/longitude bounding box in degrees.
type GeographicBounds struct {
	North float64 `json:"north"`
	South float64 `json:"south"`
	East  float64 `json:"east"`
	West  float64 `json:"west"`
}

// Validate checks the box is well formed: finite, within WGS-84 ranges, and
// with South < North and West < East.
func (b GeographicBounds) Validate() error {
	for _, v := range []float64{b.North, b.South, b.East, b.West} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: bounds must be finite", ErrInvalidRequest)
		}
	}
	if b.North > 90 || b.South < -90 {
		return fmt.Errorf("%w: latitude out of range [-90, 90]", ErrInvalidRequest)
	}
	if b.East > 180 || b.West < -180 {
		return fmt.Errorf("%w: longitude out of range [-180, 180]", ErrInvalidRequest)
	}
	if b.South >= b.North {
		return fmt.Errorf("%w: south must be less than north", ErrInvalidRequest)
	}
	if b.West >= b.East {
		return fmt.Errorf("%w: west must be less than east", ErrInvalidRequest)
	}
	return nil
}

// ForecastRequest asks for a forecast of HorizonDays days over Region.
// An empty DiseaseType covers all diseases.
type ForecastRequest struct {
	Region      GeographicBounds `json:"region"`
	HorizonDays int              `json:"horizon_days"`
	DiseaseType string           `json:"disease_type,omitempty"`
}

// Validate checks the region and horizon.
func (r ForecastRequest) Validate() error {
	if err := r.Region.Validate(); err != nil {
		return err
	}
	if r.HorizonDays < 1 || r.HorizonDays > MaxHorizonDays {
		return fmt.Errorf("%w: horizon_days must be between 1 and %d, got %d", ErrInvalidRequest, MaxHorizonDays, r.HorizonDays)
	}
	return nil
}

// Disease returns the normalized disease identifier (trimmed, lower-cased).
func (r ForecastRequest) Disease() string {
	return NormalizeDisease(r.DiseaseType)
}

// Fingerprint returns the canonical cache and identity key for the request.
func (r ForecastRequest) Fingerprint() string {
	disease := r.Disease()
	if disease == "" {
		disease = "*"
	}
	return fmt.Sprintf("%s%s:%.6f,%.6f,%.6f,%.6f:%d",
		CacheKeyPrefix, disease,
		r.Region.North, r.Region.South, r.Region.East, r.Region.West,
		r.HorizonDays,
	)
}

// NormalizeDisease trims and lower-cases a disease identifier.
func NormalizeDisease(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
