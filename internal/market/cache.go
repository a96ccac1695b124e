package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/adaptive-engine/internal/metrics"
	"github.com/ajitpratap0/adaptive-engine/pkg/backtest"
)

const sourceCache = "redis_cache"

// CachedSource serves series from Redis and falls back to the wrapped source
// on a miss. Cache errors are treated as misses.
type CachedSource struct {
	next   Source
	client *redis.Client
	ttl    time.Duration
}

type seriesCacheEntry struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Series   backtest.Series `json:"series"`
	CachedAt time.Time       `json:"cached_at"`
}

// NewCachedSource wraps next with a Redis cache. With a nil client every call
// goes straight to next.
func NewCachedSource(next Source, client *redis.Client, ttl time.Duration) *CachedSource {
	if ttl == 0 {
		ttl = time.Minute
	}
	return &CachedSource{next: next, client: client, ttl: ttl}
}

// History returns the cached series or fetches and caches it
func (c *CachedSource) History(ctx context.Context, symbol, interval string, limit int) (backtest.Series, error) {
	if c.client == nil {
		return c.next.History(ctx, symbol, interval, limit)
	}

	key := c.buildKey(symbol, interval, limit)
	if series, ok := c.get(ctx, key); ok {
		metrics.MarketDataFetches.WithLabelValues(sourceCache, metrics.ResultHit).Inc()
		return series, nil
	}
	metrics.MarketDataFetches.WithLabelValues(sourceCache, metrics.ResultMiss).Inc()

	series, err := c.next.History(ctx, symbol, interval, limit)
	if err != nil {
		return nil, err
	}

	c.set(ctx, key, seriesCacheEntry{
		Symbol:   symbol,
		Interval: interval,
		Series:   series,
		CachedAt: time.Now(),
	})
	return series, nil
}

// Invalidate removes the cached series of symbol at interval and limit
func (c *CachedSource) Invalidate(ctx context.Context, symbol, interval string, limit int) error {
	if c.client == nil {
		return nil
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	if err := c.client.Del(cacheCtx, c.buildKey(symbol, interval, limit)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache key: %w", err)
	}
	return nil
}

func (c *CachedSource) get(ctx context.Context, key string) (backtest.Series, bool) {
	// Use a short timeout for cache operations to prevent blocking
	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	cached, err := c.client.Get(cacheCtx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Debug().
				Err(err).
				Str("key", key).
				Msg("Redis get error - treating as cache miss")
		}
		return nil, false
	}

	var entry seriesCacheEntry
	if err := json.Unmarshal(cached, &entry); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to unmarshal cached series")
		return nil, false
	}

	log.Debug().
		Str("key", key).
		Int("candles", len(entry.Series)).
		Time("cached_at", entry.CachedAt).
		Msg("Cache hit for series")

	return entry.Series, true
}

func (c *CachedSource) set(ctx context.Context, key string, entry seriesCacheEntry) {
	data, err := json.Marshal(entry)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to marshal series")
		return
	}

	cacheCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()

	// Cache failure should be graceful
	if err := c.client.Set(cacheCtx, key, data, c.ttl).Err(); err != nil {
		log.Warn().
			Err(err).
			Str("key", key).
			Msg("Failed to cache series")
	}
}

func (c *CachedSource) buildKey(symbol, interval string, limit int) string {
	return fmt.Sprintf("adaptive:klines:%s:%s:%d", symbol, interval, limit)
}
