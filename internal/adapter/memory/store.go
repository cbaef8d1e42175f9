// Package memory holds in-process implementations of the prediction store and
// the historical series provider, used when no database is configured.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// Store keeps forecasts in a map and forgets them after the retention window.
type Store struct {
	mu        sync.RWMutex
	forecasts map[string]domain.Forecast
	retention time.Duration
	clock     clockwork.Clock
}

// NewStore creates an empty store.
func NewStore(retention time.Duration, clock clockwork.Clock) *Store {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Store{
		forecasts: make(map[string]domain.Forecast),
		retention: retention,
		clock:     clock,
	}
}

func (s *Store) Insert(_ context.Context, f domain.Forecast) (domain.StoredRef, error) {
	ref := domain.StoredRef{
		ID:          uuid.NewString(),
		GeneratedAt: s.clock.Now().UTC(),
	}
	f.ID = ref.ID
	f.GeneratedAt = ref.GeneratedAt

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(ref.GeneratedAt)
	s.forecasts[ref.ID] = f
	return ref, nil
}

func (s *Store) GetByID(_ context.Context, id string) (domain.Forecast, error) {
	s.mu.RLock()
	f, ok := s.forecasts[id]
	s.mu.RUnlock()

	if !ok || s.expired(f, s.clock.Now()) {
		return domain.Forecast{}, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return f, nil
}

// Len reports how many forecasts are held, expired or not.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.forecasts)
}

func (s *Store) expired(f domain.Forecast, now time.Time) bool {
	return s.retention > 0 && now.Sub(f.GeneratedAt) > s.retention
}

func (s *Store) pruneLocked(now time.Time) {
	for id, f := range s.forecasts {
		if s.expired(f, now) {
			delete(s.forecasts, id)
		}
	}
}
