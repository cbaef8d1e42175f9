// Package reportsapi reads historical case series from the outbreak report
// service over HTTP.
package reportsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/couchcryptid/outbreak-forecast/internal/observability"
)

// HistoryDays is the trailing window requested from the report service.
const HistoryDays = 90

const historyPath = "/v1/outbreaks/history"

// Client implements engine.HistoryProvider against the report service.
type Client struct {
	httpClient *http.Client
	baseURL    string
	metrics    *observability.Metrics
	logger     *slog.Logger
}

// NewClient creates a report service client.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		metrics: metrics,
		logger:  logger,
	}
}

// Fetch returns the daily series for the region and disease, oldest first.
func (c *Client) Fetch(ctx context.Context, region domain.GeographicBounds, disease string) ([]domain.HistoricalPoint, error) {
	params := url.Values{
		"north": {formatCoord(region.North)},
		"south": {formatCoord(region.South)},
		"east":  {formatCoord(region.East)},
		"west":  {formatCoord(region.West)},
		"days":  {strconv.Itoa(HistoryDays)},
	}
	if disease != "" {
		params.Set("disease", disease)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+historyPath+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", domain.ErrDataUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	c.metrics.HistoryAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("%w: reports api request: %v", domain.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: reports api error: status %d: %s", domain.ErrDataUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var hr historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", domain.ErrDataUnavailable, err)
	}

	points := make([]domain.HistoricalPoint, 0, len(hr.Points))
	for _, p := range hr.Points {
		date, err := parseDate(p.Date)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrDataUnavailable, err)
		}
		points = append(points, domain.HistoricalPoint{
			Date:          date,
			TotalCases:    p.TotalCases,
			AvgSeverity:   p.AvgSeverity,
			OutbreakCount: p.OutbreakCount,
		})
	}

	c.logger.Debug("history fetched", "disease", disease, "points", len(points))
	return points, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return domain.StartOfDay(t), nil
}

// Report service response types.

type historyResponse struct {
	Points []historyPoint `json:"points"`
}

type historyPoint struct {
	Date          string   `json:"date"`
	TotalCases    int      `json:"total_cases"`
	AvgSeverity   *float64 `json:"avg_severity"`
	OutbreakCount int      `json:"outbreak_count"`
}
