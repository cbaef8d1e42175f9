package domain

import (
	"context"
	"time"
)

// RequestRecord is the JSON payload of a message on the request topic.
type RequestRecord struct {
	RequestID   string           `json:"request_id,omitempty"`
	Region      GeographicBounds `json:"region"`
	HorizonDays int              `json:"horizon_days"`
	DiseaseType string           `json:"disease_type,omitempty"`
}

// RawEvent represents an unprocessed message from the request topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ForecastJob is a parsed request ready for the engine.
type ForecastJob struct {
	RequestID string
	Request   ForecastRequest
}

// OutputEvent is the serialized form destined for the forecast topic.
type OutputEvent struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}
