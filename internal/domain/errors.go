package domain

import "errors"

var (
	// ErrInvalidRequest marks a request with malformed bounds or horizon.
	ErrInvalidRequest = errors.New("invalid forecast request")

	// ErrDataUnavailable is returned when the historical series cannot be read.
	ErrDataUnavailable = errors.New("historical data unavailable")

	// ErrStoreUnavailable is returned when a forecast cannot be persisted or read back.
	ErrStoreUnavailable = errors.New("prediction store unavailable")

	// ErrNotFound is returned for unknown or expired forecast ids.
	ErrNotFound = errors.New("forecast not found")

	// ErrSimulationFailed is raised by the epidemic simulator. It never reaches
	// engine callers; the dispatcher falls back to the trend model.
	ErrSimulationFailed = errors.New("epidemic simulation failed")

	// ErrCacheUnavailable wraps failures of the prediction cache backend.
	ErrCacheUnavailable = errors.New("prediction cache unavailable")
)
