package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

func seedDailyCloses(t *testing.T, prices *memPrices, symbol string, closes map[int]string) {
	t.Helper()
	var bars []models.PriceBar
	for day, close := range closes {
		bars = append(bars, models.PriceBar{
			Symbol:   symbol,
			Interval: types.Interval1d,
			OpenAt:   day0.AddDate(0, 0, day),
			Close:    dec(close),
		})
	}
	require.NoError(t, prices.Upsert(context.Background(), bars))
}

func snapshotHistory(accountID uuid.UUID) []models.Transaction {
	return []models.Transaction{
		{
			AccountID: accountID, ExternalID: "dep:1", Kind: types.KindDeposit,
			BaseAsset: "USDT", Quantity: dec("10000"), USDValue: usdPtr(dec("10000")),
			ExecutedAt: day0.Add(time.Hour),
		},
		{
			AccountID: accountID, ExternalID: "trade:BTCUSDT:1", Kind: types.KindBuy,
			BaseAsset: "BTC", QuoteAsset: "USDT", Quantity: dec("1"), Price: dec("10000"),
			USDValue: usdPtr(dec("10000")), ExecutedAt: day0.Add(12 * time.Hour),
		},
		{
			AccountID: accountID, ExternalID: "trade:BTCUSDT:2", Kind: types.KindSell,
			BaseAsset: "BTC", QuoteAsset: "USDT", Quantity: dec("0.5"), Price: dec("20000"),
			USDValue: usdPtr(dec("10000")), ExecutedAt: day0.AddDate(0, 0, 1).Add(12 * time.Hour),
		},
		{
			AccountID: accountID, ExternalID: "wd:1", Kind: types.KindWithdrawal,
			BaseAsset: "USDT", Quantity: dec("2000"), USDValue: usdPtr(dec("2000")),
			ExecutedAt: day0.AddDate(0, 0, 2).Add(time.Hour),
		},
	}
}

func TestBuildRangeValuesEachDay(t *testing.T) {
	prices := newMemPrices()
	seedDailyCloses(t, prices, "BTCUSDT", map[int]string{0: "10000", 1: "20000", 2: "20000"})
	seedDailyCloses(t, prices, "EURUSDT", map[int]string{0: "1.25", 1: "1.25", 2: "1.25"})

	accountID := uuid.New()
	builder := NewSnapshotBuilder(prices, types.MethodFIFO)

	snaps, err := builder.BuildRange(context.Background(), accountID, snapshotHistory(accountID), day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Len(t, snaps, 3)

	// Day 0: deposit spent on 1 BTC, valued at the day's close.
	assert.True(t, snaps[0].TotalValueUSD.Equal(dec("10000")), "got %s", snaps[0].TotalValueUSD)
	assert.True(t, snaps[0].InvestedUSD.Equal(dec("10000")))
	assert.True(t, snaps[0].RealizedPnLUSD.IsZero())
	assert.True(t, snaps[0].TotalValueEUR.Equal(dec("8000")), "got %s", snaps[0].TotalValueEUR)

	// Day 1: half sold for 10000 USDT, the rest worth 10000 at the close.
	assert.True(t, snaps[1].TotalValueUSD.Equal(dec("20000")), "got %s", snaps[1].TotalValueUSD)
	assert.True(t, snaps[1].RealizedPnLUSD.Equal(dec("5000")), "got %s", snaps[1].RealizedPnLUSD)

	// Day 2: 2000 USDT withdrawn reduces both value and invested capital.
	assert.True(t, snaps[2].TotalValueUSD.Equal(dec("18000")), "got %s", snaps[2].TotalValueUSD)
	assert.True(t, snaps[2].InvestedUSD.Equal(dec("8000")), "got %s", snaps[2].InvestedUSD)

	for _, snap := range snaps {
		assert.Equal(t, accountID, snap.AccountID)
	}
}

func TestBuildRangeIsDeterministic(t *testing.T) {
	prices := newMemPrices()
	seedDailyCloses(t, prices, "BTCUSDT", map[int]string{0: "10000", 1: "20000", 2: "20000"})
	seedDailyCloses(t, prices, "EURUSDT", map[int]string{0: "1.25", 1: "1.25", 2: "1.25"})

	accountID := uuid.New()
	builder := NewSnapshotBuilder(prices, types.MethodFIFO)
	txns := snapshotHistory(accountID)

	first, err := builder.BuildRange(context.Background(), accountID, txns, day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	second, err := builder.BuildRange(context.Background(), accountID, txns, day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.True(t, first[i].SnapshotDate.Equal(second[i].SnapshotDate))
		assert.True(t, first[i].TotalValueUSD.Equal(second[i].TotalValueUSD))
		assert.True(t, first[i].TotalValueEUR.Equal(second[i].TotalValueEUR))
		assert.True(t, first[i].InvestedUSD.Equal(second[i].InvestedUSD))
		assert.True(t, first[i].RealizedPnLUSD.Equal(second[i].RealizedPnLUSD))
	}
}

func TestBuildRangeTiedTimestampsIgnoreStorageOrder(t *testing.T) {
	prices := newMemPrices()
	seedDailyCloses(t, prices, "BTCUSDT", map[int]string{0: "10000"})
	seedDailyCloses(t, prices, "EURUSDT", map[int]string{0: "1.25"})

	accountID := uuid.New()
	at := day0.Add(time.Hour)
	buy := models.Transaction{
		AccountID: accountID, ExternalID: "trade:BTCUSDT:1", Kind: types.KindBuy,
		BaseAsset: "BTC", QuoteAsset: "USDT", Quantity: dec("1"), Price: dec("10000"),
		USDValue: usdPtr(dec("10000")), ExecutedAt: at,
	}
	sell := models.Transaction{
		AccountID: accountID, ExternalID: "trade:BTCUSDT:2", Kind: types.KindSell,
		BaseAsset: "BTC", QuoteAsset: "USDT", Quantity: dec("1"), Price: dec("10000"),
		USDValue: usdPtr(dec("10000")), ExecutedAt: at,
	}

	builder := NewSnapshotBuilder(prices, types.MethodFIFO)

	forward, err := builder.BuildRange(context.Background(), accountID, []models.Transaction{buy, sell}, day0, day0)
	require.NoError(t, err)
	reversed, err := builder.BuildRange(context.Background(), accountID, []models.Transaction{sell, buy}, day0, day0)
	require.NoError(t, err)

	// Both orders replay buy-then-sell via the external-id tie-break, so the
	// sell realizes against the buy's lot instead of an empty book.
	require.Len(t, forward, 1)
	require.Len(t, reversed, 1)
	assert.True(t, forward[0].TotalValueUSD.Equal(reversed[0].TotalValueUSD))
	assert.True(t, forward[0].RealizedPnLUSD.Equal(reversed[0].RealizedPnLUSD))
	assert.True(t, forward[0].RealizedPnLUSD.IsZero(), "got %s", forward[0].RealizedPnLUSD)
}

func TestBuildRangeFeeLeavesInFeeAsset(t *testing.T) {
	prices := newMemPrices()
	seedDailyCloses(t, prices, "BTCUSDT", map[int]string{0: "10000"})
	seedDailyCloses(t, prices, "EURUSDT", map[int]string{0: "1.25"})

	accountID := uuid.New()
	txns := []models.Transaction{
		{
			AccountID: accountID, ExternalID: "dep:1", Kind: types.KindDeposit,
			BaseAsset: "BTC", Quantity: dec("1"), ExecutedAt: day0.Add(time.Hour),
		},
		{
			AccountID: accountID, ExternalID: "trade:1", Kind: types.KindBuy,
			BaseAsset: "BTC", QuoteAsset: "USDT", Quantity: dec("0.5"), Price: dec("10000"),
			Fee: dec("0.001"), FeeAsset: "BTC", USDValue: usdPtr(dec("5000")),
			ExecutedAt: day0.Add(2 * time.Hour),
		},
	}

	builder := NewSnapshotBuilder(prices, types.MethodFIFO)
	snaps, err := builder.BuildRange(context.Background(), accountID, txns, day0, day0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	require.Len(t, snaps[0].Holdings, 1)
	holding := snaps[0].Holdings[0]
	assert.Equal(t, "BTC", holding.Asset)
	// 1 deposited + 0.5 bought - 0.001 fee. The USDT leg went negative and
	// carries no value.
	assert.True(t, holding.Quantity.Equal(dec("1.499")), "got %s", holding.Quantity)
}

func TestBuildRangeUnknownAssetValuesAtZero(t *testing.T) {
	prices := newMemPrices()

	accountID := uuid.New()
	txns := []models.Transaction{
		{
			AccountID: accountID, ExternalID: "dep:1", Kind: types.KindDeposit,
			BaseAsset: "DOGE", Quantity: dec("1000"), ExecutedAt: day0.Add(time.Hour),
		},
	}

	builder := NewSnapshotBuilder(prices, types.MethodFIFO)
	snaps, err := builder.BuildRange(context.Background(), accountID, txns, day0, day0)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	assert.True(t, snaps[0].TotalValueUSD.IsZero())
	require.Len(t, snaps[0].Holdings, 1)
	assert.True(t, snaps[0].Holdings[0].Quantity.Equal(dec("1000")))
	assert.True(t, snaps[0].Holdings[0].ValueUSD.IsZero())
}

func TestBuildRangeRejectsInvertedRange(t *testing.T) {
	builder := NewSnapshotBuilder(newMemPrices(), types.MethodFIFO)
	_, err := builder.BuildRange(context.Background(), uuid.New(), nil, day0.AddDate(0, 0, 1), day0)
	assert.Error(t, err)
}
