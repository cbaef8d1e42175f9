package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
)

// HistoryWindow is how far back the daily aggregate reaches.
const HistoryWindow = 90 * 24 * time.Hour

// HistoryRepository aggregates outbreak reports into daily points. It never
// writes to outbreak_reports.
type HistoryRepository struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

// NewHistoryRepository creates a history provider backed by the reports table.
func NewHistoryRepository(pool *pgxpool.Pool, clock clockwork.Clock) *HistoryRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &HistoryRepository{pool: pool, clock: clock}
}

const historyQuery = `
    SELECT date_trunc('day', reported_at AT TIME ZONE 'UTC') AS day,
           SUM(case_count)::bigint,
           AVG(severity)::float8,
           COUNT(*)::bigint
    FROM outbreak_reports
    WHERE latitude BETWEEN $1 AND $2
      AND longitude BETWEEN $3 AND $4
      AND ($5 = '' OR lower(disease_type) = $5)
      AND reported_at >= $6
    GROUP BY day
    ORDER BY day
`

// Fetch returns one point per day with reports, oldest first.
func (r *HistoryRepository) Fetch(ctx context.Context, region domain.GeographicBounds, disease string) ([]domain.HistoricalPoint, error) {
	since := domain.StartOfDay(r.clock.Now()).Add(-HistoryWindow)

	rows, err := r.pool.Query(ctx, historyQuery,
		region.South, region.North, region.West, region.East,
		domain.NormalizeDisease(disease), since,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w: %v", domain.ErrDataUnavailable, err)
	}
	defer rows.Close()

	var points []domain.HistoricalPoint
	for rows.Next() {
		var (
			day       time.Time
			cases     int64
			severity  *float64
			outbreaks int64
		)
		if err := rows.Scan(&day, &cases, &severity, &outbreaks); err != nil {
			return nil, fmt.Errorf("postgres: scan history: %w: %v", domain.ErrDataUnavailable, err)
		}
		points = append(points, domain.HistoricalPoint{
			Date:          time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC),
			TotalCases:    int(cases),
			AvgSeverity:   severity,
			OutbreakCount: int(outbreaks),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: read history: %w: %v", domain.ErrDataUnavailable, err)
	}
	return points, nil
}
