package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ForecastRepository is the durable prediction store.
type ForecastRepository struct {
	pool      *pgxpool.Pool
	retention time.Duration
}

// NewForecastRepository creates a repository that hides forecasts older than retention.
func NewForecastRepository(pool *pgxpool.Pool, retention time.Duration) *ForecastRepository {
	return &ForecastRepository{pool: pool, retention: retention}
}

func (r *ForecastRepository) Insert(ctx context.Context, f domain.Forecast) (domain.StoredRef, error) {
	points, err := json.Marshal(f.Points)
	if err != nil {
		return domain.StoredRef{}, fmt.Errorf("postgres: marshal points: %w", err)
	}

	req := domain.ForecastRequest{Region: f.Region, HorizonDays: f.HorizonDays, DiseaseType: f.DiseaseType}
	ref := domain.StoredRef{ID: uuid.NewString()}

	err = r.pool.QueryRow(ctx, `
        INSERT INTO forecasts
            (id, fingerprint, north, south, east, west, disease_type, horizon_days,
             points, confidence_score, model_version, model_strategy, fallback_from)
        VALUES
            ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13)
        RETURNING generated_at
    `, ref.ID, req.Fingerprint(), f.Region.North, f.Region.South, f.Region.East, f.Region.West,
		f.DiseaseType, f.HorizonDays, string(points), f.ConfidenceScore, f.ModelVersion,
		f.Model.Strategy, f.Model.FallbackFrom,
	).Scan(&ref.GeneratedAt)
	if err != nil {
		return domain.StoredRef{}, fmt.Errorf("postgres: insert forecast: %w: %v", domain.ErrStoreUnavailable, err)
	}

	ref.GeneratedAt = ref.GeneratedAt.UTC()
	return ref, nil
}

func (r *ForecastRepository) GetByID(ctx context.Context, id string) (domain.Forecast, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.Forecast{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	var (
		row       forecastRow
		pointsRaw []byte
	)
	err := r.pool.QueryRow(ctx, `
        SELECT id::text, north, south, east, west, disease_type, horizon_days,
               points, confidence_score, model_version, model_strategy, fallback_from, generated_at
        FROM forecasts
        WHERE id = $1
          AND generated_at >= NOW() - make_interval(secs => $2)
    `, id, r.retention.Seconds()).Scan(
		&row.ID,
		&row.North, &row.South, &row.East, &row.West,
		&row.DiseaseType,
		&row.HorizonDays,
		&pointsRaw,
		&row.ConfidenceScore,
		&row.ModelVersion,
		&row.Strategy,
		&row.FallbackFrom,
		&row.GeneratedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Forecast{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Forecast{}, fmt.Errorf("postgres: get forecast: %w: %v", domain.ErrStoreUnavailable, err)
	}

	return row.toDomain(pointsRaw)
}

// Ping reports database connectivity.
func (r *ForecastRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

type forecastRow struct {
	ID                       string
	North, South, East, West float64
	DiseaseType              string
	HorizonDays              int
	ConfidenceScore          float64
	ModelVersion             string
	Strategy                 string
	FallbackFrom             string
	GeneratedAt              time.Time
}

func (row forecastRow) toDomain(pointsRaw []byte) (domain.Forecast, error) {
	var points []domain.ForecastPoint
	if err := json.Unmarshal(pointsRaw, &points); err != nil {
		return domain.Forecast{}, fmt.Errorf("postgres: decode points for %s: %w: %v", row.ID, domain.ErrStoreUnavailable, err)
	}
	return domain.Forecast{
		ID:              row.ID,
		Region:          domain.GeographicBounds{North: row.North, South: row.South, East: row.East, West: row.West},
		DiseaseType:     row.DiseaseType,
		HorizonDays:     row.HorizonDays,
		Points:          points,
		ConfidenceScore: row.ConfidenceScore,
		ModelVersion:    row.ModelVersion,
		Model:           domain.ModelTag{Strategy: row.Strategy, FallbackFrom: row.FallbackFrom},
		GeneratedAt:     row.GeneratedAt.UTC(),
	}, nil
}
