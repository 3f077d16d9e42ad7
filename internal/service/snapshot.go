package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/accounting"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
)

// SnapshotBuilder derives end-of-day portfolio snapshots from transactions
// and stored price bars. Given identical inputs it produces identical
// snapshots; persistence is the caller's job.
type SnapshotBuilder struct {
	prices PriceStore
	method types.CostBasisMethod
}

// NewSnapshotBuilder creates a snapshot builder.
func NewSnapshotBuilder(prices PriceStore, method types.CostBasisMethod) *SnapshotBuilder {
	if method == "" {
		method = types.MethodFIFO
	}
	return &SnapshotBuilder{prices: prices, method: method}
}

// BuildRange computes one snapshot per day in [from, to]. Dates are
// truncated to UTC midnight.
func (b *SnapshotBuilder) BuildRange(ctx context.Context, accountID uuid.UUID, txns []models.Transaction, from, to time.Time) ([]models.PortfolioSnapshot, error) {
	from = truncateDay(from)
	to = truncateDay(to)
	if from.After(to) {
		return nil, fmt.Errorf("invalid snapshot range: %s after %s", from, to)
	}

	ordered := make([]models.Transaction, len(txns))
	copy(ordered, txns)
	// Equal timestamps replay in external-id order so rebuilds are
	// deterministic regardless of storage order.
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ExecutedAt.Equal(ordered[j].ExecutedAt) {
			return ordered[i].ExternalID < ordered[j].ExternalID
		}
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	// One full fold supplies the realized P&L timeline.
	disposals := accounting.Compute(ordered, b.method, nil).Disposals

	positions := make(map[string]decimal.Decimal)
	invested := decimal.Zero
	realized := decimal.Zero
	txIdx, dispIdx := 0, 0

	var snapshots []models.PortfolioSnapshot
	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		dayEnd := day.AddDate(0, 0, 1)

		for txIdx < len(ordered) && ordered[txIdx].ExecutedAt.Before(dayEnd) {
			applyToPositions(positions, &ordered[txIdx])
			invested = invested.Add(cashFlowUSD(&ordered[txIdx]))
			txIdx++
		}
		for dispIdx < len(disposals) && disposals[dispIdx].DisposedAt.Before(dayEnd) {
			realized = realized.Add(disposals[dispIdx].RealizedPnLUSD)
			dispIdx++
		}

		snapshot, err := b.valueDay(ctx, accountID, day, positions, invested, realized)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, *snapshot)
	}
	return snapshots, nil
}

// applyToPositions applies a transaction double-entry: the base leg moves
// the base asset, the quote leg moves what was paid or received, and the
// fee leaves in its own asset.
func applyToPositions(positions map[string]decimal.Decimal, tx *models.Transaction) {
	base := tx.BaseAsset
	quoteAmount := tx.QuoteAmount()

	switch tx.Kind {
	case types.KindBuy, types.KindConvert:
		positions[base] = pos(positions, base).Add(tx.Quantity)
		if tx.QuoteAsset != "" {
			positions[tx.QuoteAsset] = pos(positions, tx.QuoteAsset).Sub(quoteAmount)
		}
	case types.KindSell:
		positions[base] = pos(positions, base).Sub(tx.Quantity)
		if tx.QuoteAsset != "" {
			positions[tx.QuoteAsset] = pos(positions, tx.QuoteAsset).Add(quoteAmount)
		}
	case types.KindDeposit, types.KindInterest:
		positions[base] = pos(positions, base).Add(tx.Quantity)
	case types.KindWithdrawal:
		positions[base] = pos(positions, base).Sub(tx.Quantity)
	}

	if tx.FeeAsset != "" && tx.Fee.IsPositive() {
		positions[tx.FeeAsset] = pos(positions, tx.FeeAsset).Sub(tx.Fee)
	}
}

func pos(positions map[string]decimal.Decimal, asset string) decimal.Decimal {
	if v, ok := positions[asset]; ok {
		return v
	}
	return decimal.Zero
}

// cashFlowUSD returns the transaction's contribution to invested capital:
// cash entering the account counts in, cash leaving counts out.
func cashFlowUSD(tx *models.Transaction) decimal.Decimal {
	if !types.IsCashAsset(tx.BaseAsset) || tx.USDValue == nil {
		return decimal.Zero
	}
	switch tx.Kind {
	case types.KindDeposit:
		return *tx.USDValue
	case types.KindWithdrawal:
		return tx.USDValue.Neg()
	}
	return decimal.Zero
}

func (b *SnapshotBuilder) valueDay(ctx context.Context, accountID uuid.UUID, day time.Time, positions map[string]decimal.Decimal, invested, realized decimal.Decimal) (*models.PortfolioSnapshot, error) {
	dayEnd := day.AddDate(0, 0, 1).Add(-time.Millisecond)

	eurUSD, err := b.assetUSDPrice(ctx, "EUR", dayEnd)
	if err != nil {
		return nil, err
	}

	assets := make([]string, 0, len(positions))
	for asset := range positions {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	totalUSD := decimal.Zero
	var holdings []models.AssetHolding
	for _, asset := range assets {
		qty := positions[asset]
		// Phantom negatives from incomplete history hold no value.
		if !qty.IsPositive() {
			continue
		}

		price, err := b.assetUSDPrice(ctx, asset, dayEnd)
		if err != nil {
			return nil, err
		}
		valueUSD := qty.Mul(price)
		totalUSD = totalUSD.Add(valueUSD)

		valueEUR := decimal.Zero
		if eurUSD.IsPositive() {
			valueEUR = valueUSD.Div(eurUSD)
		}
		holdings = append(holdings, models.AssetHolding{
			Asset:    asset,
			Quantity: qty,
			ValueUSD: valueUSD,
			ValueEUR: valueEUR,
		})
	}

	totalEUR := decimal.Zero
	if eurUSD.IsPositive() {
		totalEUR = totalUSD.Div(eurUSD)
	}

	return &models.PortfolioSnapshot{
		AccountID:      accountID,
		SnapshotDate:   day,
		TotalValueUSD:  totalUSD,
		TotalValueEUR:  totalEUR,
		InvestedUSD:    invested,
		RealizedPnLUSD: realized,
		Holdings:       holdings,
	}, nil
}

// assetUSDPrice values one unit of an asset in USD at the given time using
// the latest daily close at or before it. Unknown series value at zero
// rather than failing the whole rebuild.
func (b *SnapshotBuilder) assetUSDPrice(ctx context.Context, asset string, at time.Time) (decimal.Decimal, error) {
	if types.USDQuoteAssets[asset] {
		return decimal.NewFromInt(1), nil
	}

	price, err := b.prices.CloseAt(ctx, asset+"USDT", types.Interval1d, at)
	if err != nil {
		if errors.Is(err, storage.ErrNoPriceBar) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("failed to price %s: %w", asset, err)
	}
	return price, nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
