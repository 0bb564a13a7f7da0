package data

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/equityrun/internal/market"
)

// CacheConfig holds the per-class TTLs of the read-through Redis layer.
type CacheConfig struct {
	QuoteTTLSeconds    int `yaml:"quote_ttl_seconds" validate:"gt=0"`
	IntradayTTLSeconds int `yaml:"intraday_ttl_seconds" validate:"gt=0"`
	DailyTTLSeconds    int `yaml:"daily_ttl_seconds" validate:"gt=0"`
	IndexTTLSeconds    int `yaml:"index_ttl_seconds" validate:"gt=0"`
}

// DefaultCacheConfig returns the TTLs applied when the config file leaves
// the block out. They bound staleness tighter than every gate that reads
// through the cache.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		QuoteTTLSeconds:    5,
		IntradayTTLSeconds: 60,
		DailyTTLSeconds:    600,
		IndexTTLSeconds:    60,
	}
}

// CachedProvider is a read-through Redis layer in front of a Provider.
// Cache trouble is logged and bypassed, never surfaced: the inner
// provider stays the source of truth and TTLs bound staleness.
type CachedProvider struct {
	inner  Provider
	rdb    *redis.Client
	config CacheConfig
}

// NewCachedProvider wraps inner with the Redis client and TTLs.
func NewCachedProvider(inner Provider, rdb *redis.Client, cfg CacheConfig) *CachedProvider {
	return &CachedProvider{inner: inner, rdb: rdb, config: cfg}
}

// LatestBars serves from cache when the stored series covers n bars,
// otherwise reads through and refreshes the key.
func (c *CachedProvider) LatestBars(ctx context.Context, symbol string, interval market.Interval, n int) ([]market.Bar, error) {
	key := BarsKey(symbol, interval)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var bars []market.Bar
		if jsonErr := json.Unmarshal(raw, &bars); jsonErr == nil && len(bars) >= n {
			return bars[len(bars)-n:], nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	bars, err := c.inner.LatestBars(ctx, symbol, interval, n)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, bars, c.barTTL(interval))
	return bars, nil
}

// OrderBook serves the cached snapshot when it still holds a usable book.
func (c *CachedProvider) OrderBook(ctx context.Context, symbol string) (market.Quote, error) {
	key := QuoteKey(symbol)
	if raw, err := c.rdb.Get(ctx, key).Bytes(); err == nil {
		var quote market.Quote
		if jsonErr := json.Unmarshal(raw, &quote); jsonErr == nil && quote.Valid() {
			return quote, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	quote, err := c.inner.OrderBook(ctx, symbol)
	if err != nil {
		return market.Quote{}, err
	}
	c.store(ctx, key, quote, time.Duration(c.config.QuoteTTLSeconds)*time.Second)
	return quote, nil
}

// IndexReadings serves the cached proxy map when present.
func (c *CachedProvider) IndexReadings(ctx context.Context) (map[string]market.IndexReading, error) {
	if raw, err := c.rdb.Get(ctx, IndexKey).Bytes(); err == nil {
		var readings map[string]market.IndexReading
		if jsonErr := json.Unmarshal(raw, &readings); jsonErr == nil && len(readings) > 0 {
			return readings, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		log.Warn().Err(err).Str("key", IndexKey).Msg("cache read failed")
	}

	readings, err := c.inner.IndexReadings(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, IndexKey, readings, time.Duration(c.config.IndexTTLSeconds)*time.Second)
	return readings, nil
}

func (c *CachedProvider) store(ctx context.Context, key string, v interface{}, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

func (c *CachedProvider) barTTL(interval market.Interval) time.Duration {
	if interval == market.IntervalDaily {
		return time.Duration(c.config.DailyTTLSeconds) * time.Second
	}
	return time.Duration(c.config.IntradayTTLSeconds) * time.Second
}
