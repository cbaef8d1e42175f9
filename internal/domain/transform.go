package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// ParseRawEvent decodes and validates a forecast request message. The request
// id falls back to the message key when the payload does not carry one.
func ParseRawEvent(raw RawEvent) (ForecastJob, error) {
	var rec RequestRecord
	if err := json.Unmarshal(raw.Value, &rec); err != nil {
		return ForecastJob{}, fmt.Errorf("%w: parse request message: %v", ErrInvalidRequest, err)
	}

	req := ForecastRequest{
		Region:      rec.Region,
		HorizonDays: rec.HorizonDays,
		DiseaseType: NormalizeDisease(rec.DiseaseType),
	}
	if err := req.Validate(); err != nil {
		return ForecastJob{}, err
	}

	requestID := rec.RequestID
	if requestID == "" {
		requestID = string(raw.Key)
	}
	return ForecastJob{RequestID: requestID, Request: req}, nil
}

// SerializeForecast encodes a forecast for the forecast topic, keyed by its id.
func SerializeForecast(f Forecast, requestID string) (OutputEvent, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return OutputEvent{}, fmt.Errorf("serialize forecast: %w", err)
	}
	headers := map[string]string{
		"model_version": f.ModelVersion,
		"generated_at":  f.GeneratedAt.UTC().Format(time.RFC3339),
	}
	if requestID != "" {
		headers["request_id"] = requestID
	}
	return OutputEvent{
		Key:     []byte(f.ID),
		Value:   data,
		Headers: headers,
	}, nil
}
