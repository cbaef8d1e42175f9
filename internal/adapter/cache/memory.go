// Package cache implements the prediction cache backends. Entries hold the
// JSON encoding of a forecast so every hit decodes to the same bytes.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jonboulle/clockwork"
)

// Memory is a bounded in-process cache with per-entry expiry.
type Memory struct {
	mu    sync.Mutex
	lru   *lru.Cache[string, memoryEntry]
	clock clockwork.Clock
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewMemory creates a cache holding at most size entries.
func NewMemory(size int, clock clockwork.Clock) (*Memory, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	c, err := lru.New[string, memoryEntry](size)
	if err != nil {
		return nil, fmt.Errorf("memory cache: %w", err)
	}
	return &Memory{lru: c, clock: clock}, nil
}

func (m *Memory) Get(_ context.Context, key string) (domain.Forecast, bool, error) {
	m.mu.Lock()
	e, ok := m.lru.Get(key)
	if ok && !m.clock.Now().Before(e.expiresAt) {
		m.lru.Remove(key)
		ok = false
	}
	m.mu.Unlock()
	if !ok {
		return domain.Forecast{}, false, nil
	}

	var f domain.Forecast
	if err := json.Unmarshal(e.data, &f); err != nil {
		return domain.Forecast{}, false, fmt.Errorf("memory cache: decode %s: %w", key, err)
	}
	return f, true, nil
}

func (m *Memory) Set(_ context.Context, key string, f domain.Forecast, ttl time.Duration) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("memory cache: encode %s: %w", key, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Add(key, memoryEntry{data: data, expiresAt: m.clock.Now().Add(ttl)})
	return nil
}

// DeletePrefix removes live and expired entries alike; only live ones are counted.
func (m *Memory) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	removed := 0
	for _, key := range m.lru.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if e, ok := m.lru.Peek(key); ok && now.Before(e.expiresAt) {
			removed++
		}
		m.lru.Remove(key)
	}
	return removed, nil
}

// Len reports the number of stored entries, including expired ones not yet evicted.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}
