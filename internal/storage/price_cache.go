package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache key prefixes and TTLs.
const (
	spotPriceKeyPrefix = "price:spot:"
	spotPriceTTL       = 5 * time.Minute

	overviewKeyPrefix = "dashboard:overview:"
	overviewTTL       = time.Minute
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// PriceCache caches current spot prices and rendered dashboard payloads in
// Redis. Everything here is advisory; storage remains the source of truth.
type PriceCache struct {
	redis *RedisCache
}

// NewPriceCache creates a price cache on top of a Redis connection.
func NewPriceCache(redis *RedisCache) *PriceCache {
	return &PriceCache{redis: redis}
}

// SetSpotPrice caches the current price for a symbol.
func (c *PriceCache) SetSpotPrice(ctx context.Context, symbol string, price decimal.Decimal) error {
	key := spotPriceKeyPrefix + symbol
	if err := c.redis.Client().Set(ctx, key, price.String(), spotPriceTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache spot price: %w", err)
	}
	return nil
}

// GetSpotPrice retrieves a cached spot price.
func (c *PriceCache) GetSpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := spotPriceKeyPrefix + symbol
	raw, err := c.redis.Client().Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, ErrCacheMiss
		}
		return decimal.Zero, fmt.Errorf("failed to get cached spot price: %w", err)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt cached price for %s: %w", symbol, err)
	}
	return price, nil
}

// SetOverview caches a rendered overview payload for an account.
func (c *PriceCache) SetOverview(ctx context.Context, accountID string, payload []byte) error {
	key := overviewKeyPrefix + accountID
	if err := c.redis.Client().Set(ctx, key, payload, overviewTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache overview: %w", err)
	}
	return nil
}

// GetOverview retrieves a cached overview payload.
func (c *PriceCache) GetOverview(ctx context.Context, accountID string) ([]byte, error) {
	key := overviewKeyPrefix + accountID
	payload, err := c.redis.Client().Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cached overview: %w", err)
	}
	return payload, nil
}

// InvalidateOverview drops the cached overview after a sync changes data.
func (c *PriceCache) InvalidateOverview(ctx context.Context, accountID string) error {
	key := overviewKeyPrefix + accountID
	if err := c.redis.Client().Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate overview: %w", err)
	}
	return nil
}
