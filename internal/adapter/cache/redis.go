package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/couchcryptid/outbreak-forecast/internal/domain"
	"github.com/go-redis/redis/v8"
)

const scanCount = 500

// Redis is the shared prediction cache.
type Redis struct {
	client redis.UniversalClient
}

// NewRedis wraps an existing client.
func NewRedis(client redis.UniversalClient) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Get(ctx context.Context, key string) (domain.Forecast, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Forecast{}, false, nil
	}
	if err != nil {
		return domain.Forecast{}, false, fmt.Errorf("redis: get %s: %w: %v", key, domain.ErrCacheUnavailable, err)
	}

	var f domain.Forecast
	if err := json.Unmarshal(data, &f); err != nil {
		return domain.Forecast{}, false, fmt.Errorf("redis: decode %s: %w", key, err)
	}
	return f, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, f domain.Forecast, ttl time.Duration) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("redis: encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w: %v", key, domain.ErrCacheUnavailable, err)
	}
	return nil
}

// DeletePrefix scans for prefix* and deletes matches in pages.
func (r *Redis) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, escapeGlob(prefix)+"*", scanCount).Result()
		if err != nil {
			return removed, fmt.Errorf("redis: scan %s*: %w: %v", prefix, domain.ErrCacheUnavailable, err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis: del: %w: %v", domain.ErrCacheUnavailable, err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '*', '?', '[', ']', '\\':
			out = append(out, '\\')
		}
		out = append(out, s[i])
	}
	return string(out)
}
