package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/jonboulle/clockwork"
)

// HistoryWindow is how far back a series reaches.
const HistoryWindow = 90 * 24 * time.Hour

// History serves seeded daily series keyed by disease. Region is ignored.
type History struct {
	mu     sync.RWMutex
	series map[string][]domain.HistoricalPoint
	clock  clockwork.Clock
}

// NewHistory creates an empty provider.
func NewHistory(clock clockwork.Clock) *History {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &History{series: make(map[string][]domain.HistoricalPoint), clock: clock}
}

// Seed replaces the series for disease.
func (h *History) Seed(disease string, points []domain.HistoricalPoint) {
	cp := make([]domain.HistoricalPoint, len(points))
	copy(cp, points)
	sort.SliceStable(cp, func(i, j int) bool { return cp[i].Date.Before(cp[j].Date) })

	h.mu.Lock()
	defer h.mu.Unlock()
	h.series[domain.NormalizeDisease(disease)] = cp
}

// Fetch returns the trailing window for disease. An empty disease sums every
// seeded series per day.
func (h *History) Fetch(_ context.Context, _ domain.GeographicBounds, disease string) ([]domain.HistoricalPoint, error) {
	cutoff := domain.StartOfDay(h.clock.Now()).Add(-HistoryWindow)

	h.mu.RLock()
	defer h.mu.RUnlock()

	if d := domain.NormalizeDisease(disease); d != "" {
		return trailing(h.series[d], cutoff), nil
	}

	byDay := make(map[time.Time]*dayTotal)
	for _, s := range h.series {
		for _, p := range trailing(s, cutoff) {
			day := domain.StartOfDay(p.Date)
			t, ok := byDay[day]
			if !ok {
				t = &dayTotal{}
				byDay[day] = t
			}
			t.add(p)
		}
	}

	out := make([]domain.HistoricalPoint, 0, len(byDay))
	for day, t := range byDay {
		out = append(out, t.point(day))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func trailing(points []domain.HistoricalPoint, cutoff time.Time) []domain.HistoricalPoint {
	var out []domain.HistoricalPoint
	for _, p := range points {
		if !p.Date.Before(cutoff) {
			out = append(out, p)
		}
	}
	return out
}

type dayTotal struct {
	cases, outbreaks int
	severitySum      float64
	severityN        int
}

func (t *dayTotal) add(p domain.HistoricalPoint) {
	t.cases += p.TotalCases
	t.outbreaks += p.OutbreakCount
	if p.AvgSeverity != nil {
		t.severitySum += *p.AvgSeverity * float64(p.OutbreakCount)
		t.severityN += p.OutbreakCount
	}
}

func (t *dayTotal) point(day time.Time) domain.HistoricalPoint {
	p := domain.HistoricalPoint{Date: day, TotalCases: t.cases, OutbreakCount: t.outbreaks}
	if t.severityN > 0 {
		avg := t.severitySum / float64(t.severityN)
		p.AvgSeverity = &avg
	}
	return p
}
