package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"trinity-trader/internal/models"
	"trinity-trader/pkg/utils"
)

const cacheKeyPrefix = "trinity:candles"

// CacheConfig configures the Redis candle cache.
type CacheConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// CachedSource serves recent candle series from Redis. Redis errors never
// fail a fetch; the request falls through to the wrapped source.
type CachedSource struct {
	inner  Source
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

// NewCachedSource creates a cache in front of inner.
func NewCachedSource(inner Source, cfg CacheConfig, logger zerolog.Logger) *CachedSource {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     10,
		MinIdleConns: 1,
		MaxRetries:   1,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedSource{
		inner:  inner,
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "candle_cache").Logger(),
	}
}

func (s *CachedSource) Name() string { return s.inner.Name() }

// Ping checks that Redis is reachable.
func (s *CachedSource) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *CachedSource) FetchCandles(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	key := cacheKey(symbol, timeframe, limit)

	if candles, ok := s.get(ctx, key); ok {
		s.hits.Add(1)
		return candles, nil
	}
	s.misses.Add(1)

	candles, err := s.inner.FetchCandles(ctx, symbol, timeframe, limit)
	if err != nil {
		return nil, err
	}
	s.set(ctx, key, candles)
	return candles, nil
}

func (s *CachedSource) get(ctx context.Context, key string) ([]models.Candle, bool) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.failures.Add(1)
			s.logger.Debug().Err(err).Str("key", key).Msg("Cache read failed")
		}
		return nil, false
	}
	var candles []models.Candle
	if err := json.Unmarshal(raw, &candles); err != nil || len(candles) == 0 {
		return nil, false
	}
	return candles, true
}

func (s *CachedSource) set(ctx context.Context, key string, candles []models.Candle) {
	raw, err := json.Marshal(candles)
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		s.failures.Add(1)
		s.logger.Debug().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// CacheStats reports cache effectiveness.
type CacheStats struct {
	Hits     int64
	Misses   int64
	Failures int64
}

// Stats returns hit, miss and failure counts.
func (s *CachedSource) Stats() CacheStats {
	return CacheStats{
		Hits:     s.hits.Load(),
		Misses:   s.misses.Load(),
		Failures: s.failures.Load(),
	}
}

// Close releases the Redis connection pool.
func (s *CachedSource) Close() error {
	return s.client.Close()
}

func cacheKey(symbol, timeframe string, limit int) string {
	return fmt.Sprintf("%s:%s:%s:%d", cacheKeyPrefix, utils.ExchangeSymbol(symbol), timeframe, limit)
}
