package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/okarpov/imbalancer/internal/domain"
)

// candleTTL bounds how long a cached range stays valid. Historical candles
// never change, but letting keys expire keeps the cache from accumulating
// every range ever requested.
const candleTTL = 7 * 24 * time.Hour

// CandleCache implements domain.CandleCache by storing each requested range
// as a JSON array at key "candles:{symbol}:{fromMs}:{toMs}".
type CandleCache struct {
	rdb *redis.Client
}

// NewCandleCache creates a CandleCache backed by the given Client.
func NewCandleCache(c *Client) *CandleCache {
	return &CandleCache{rdb: c.rdb}
}

func rangeKey(symbol string, from, to time.Time) string {
	return fmt.Sprintf("candles:%s:%d:%d", symbol, from.UnixMilli(), to.UnixMilli())
}

// GetRange returns the cached candles for an exact range, or
// domain.ErrNotFound on a miss.
func (cc *CandleCache) GetRange(ctx context.Context, symbol string, from, to time.Time) ([]domain.Candle, error) {
	data, err := cc.rdb.Get(ctx, rangeKey(symbol, from, to)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get candle range %s: %w", symbol, err)
	}

	var candles []domain.Candle
	if err := json.Unmarshal(data, &candles); err != nil {
		return nil, fmt.Errorf("redis: decode candle range %s: %w", symbol, err)
	}
	return candles, nil
}

// PutRange stores the candles for an exact range.
func (cc *CandleCache) PutRange(ctx context.Context, symbol string, from, to time.Time, candles []domain.Candle) error {
	data, err := json.Marshal(candles)
	if err != nil {
		return fmt.Errorf("redis: encode candle range %s: %w", symbol, err)
	}
	if err := cc.rdb.Set(ctx, rangeKey(symbol, from, to), data, candleTTL).Err(); err != nil {
		return fmt.Errorf("redis: put candle range %s: %w", symbol, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CandleCache = (*CandleCache)(nil)
