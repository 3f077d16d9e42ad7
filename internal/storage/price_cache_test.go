package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*PriceCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewPriceCache(NewRedisCacheFromClient(client)), mr
}

func TestSpotPriceRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	price := decimal.RequireFromString("60123.45")
	require.NoError(t, cache.SetSpotPrice(ctx, "BTCUSDT", price))

	got, err := cache.GetSpotPrice(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, got.Equal(price))
}

func TestSpotPriceMiss(t *testing.T) {
	cache, _ := newTestCache(t)

	_, err := cache.GetSpotPrice(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSpotPriceExpires(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.SetSpotPrice(ctx, "BTCUSDT", decimal.NewFromInt(60000)))
	mr.FastForward(spotPriceTTL + time.Second)

	_, err := cache.GetSpotPrice(ctx, "BTCUSDT")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestOverviewRoundTripAndInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	payload := []byte(`{"totalValueUsd":"1234.5"}`)
	require.NoError(t, cache.SetOverview(ctx, "acct-1", payload))

	got, err := cache.GetOverview(ctx, "acct-1")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NoError(t, cache.InvalidateOverview(ctx, "acct-1"))
	_, err = cache.GetOverview(ctx, "acct-1")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
