package service

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/binance"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// External ID prefixes keep identifiers from different endpoints disjoint
// inside the shared uniqueness constraint.
const (
	externalIDTrade          = "trade"
	externalIDDeposit        = "dep"
	externalIDWithdrawal     = "wd"
	externalIDFiatDeposit    = "fiat-dep"
	externalIDFiatWithdrawal = "fiat-wd"
	externalIDConvert        = "conv"
	externalIDInterest       = "int"
)

func rawJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func usdPtr(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// mapTrade converts one fill into a buy or sell transaction. USD-quoted
// markets get their valuation immediately; others are enriched later from
// daily closes.
func mapTrade(accountID uuid.UUID, symbol string, t *binance.Trade) (models.Transaction, error) {
	base, quote, ok := splitSymbol(symbol)
	if !ok {
		return models.Transaction{}, fmt.Errorf("cannot split symbol %q into base and quote", symbol)
	}

	kind := types.KindSell
	if t.IsBuyer {
		kind = types.KindBuy
	}

	tradeID := t.ID
	tx := models.Transaction{
		AccountID:  accountID,
		ExternalID: fmt.Sprintf("%s:%s:%d", externalIDTrade, symbol, t.ID),
		Kind:       kind,
		BaseAsset:  base,
		QuoteAsset: quote,
		Symbol:     symbol,
		TradeID:    &tradeID,
		Quantity:   t.Qty,
		Price:      t.Price,
		Fee:        t.Commission,
		FeeAsset:   t.CommissionAsset,
		ExecutedAt: time.UnixMilli(t.Time).UTC(),
		Raw:        rawJSON(t),
	}
	if types.USDQuoteAssets[quote] {
		tx.USDValue = usdPtr(t.QuoteQty)
	}
	return tx, nil
}

// mapDeposit converts a credited crypto deposit. Stablecoin amounts value
// themselves; everything else is enriched later.
func mapDeposit(accountID uuid.UUID, d *binance.Deposit) models.Transaction {
	id := d.ID
	if id == "" {
		id = d.TxID
	}

	tx := models.Transaction{
		AccountID:  accountID,
		ExternalID: fmt.Sprintf("%s:%s", externalIDDeposit, id),
		Kind:       types.KindDeposit,
		BaseAsset:  d.Coin,
		Quantity:   d.Amount,
		ExecutedAt: time.UnixMilli(d.InsertTime).UTC(),
		Raw:        rawJSON(d),
	}
	if types.USDQuoteAssets[d.Coin] {
		tx.USDValue = usdPtr(d.Amount)
	}
	return tx
}

// mapWithdrawal converts a completed crypto withdrawal. The network fee is
// carried in the withdrawn asset.
func mapWithdrawal(accountID uuid.UUID, w *binance.Withdrawal) (models.Transaction, error) {
	executedAt, err := parseWithdrawalTime(w)
	if err != nil {
		return models.Transaction{}, err
	}

	tx := models.Transaction{
		AccountID:  accountID,
		ExternalID: fmt.Sprintf("%s:%s", externalIDWithdrawal, w.ID),
		Kind:       types.KindWithdrawal,
		BaseAsset:  w.Coin,
		Quantity:   w.Amount,
		Fee:        w.TransactionFee,
		FeeAsset:   w.Coin,
		ExecutedAt: executedAt,
		Raw:        rawJSON(w),
	}
	if types.USDQuoteAssets[w.Coin] {
		tx.USDValue = usdPtr(w.Amount)
	}
	return tx, nil
}

// parseWithdrawalTime prefers the completion time; applyTime is the fallback
// for records the exchange never stamped as complete.
func parseWithdrawalTime(w *binance.Withdrawal) (time.Time, error) {
	for _, raw := range []string{w.CompleteTime, w.ApplyTime} {
		if raw == "" {
			continue
		}
		if ts, err := time.ParseInLocation("2006-01-02 15:04:05", raw, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("withdrawal %s has no parseable timestamp", w.ID)
}

// mapFiatOrder converts a successful fiat order into a cash deposit or
// withdrawal. USD orders value themselves; other currencies are enriched
// from daily closes.
func mapFiatOrder(accountID uuid.UUID, txType string, o *binance.FiatOrder) models.Transaction {
	kind := types.KindDeposit
	prefix := externalIDFiatDeposit
	if txType == binance.FiatTxTypeWithdrawal {
		kind = types.KindWithdrawal
		prefix = externalIDFiatWithdrawal
	}

	tx := models.Transaction{
		AccountID:  accountID,
		ExternalID: fmt.Sprintf("%s:%s", prefix, o.OrderNo),
		Kind:       kind,
		BaseAsset:  o.FiatCurrency,
		Quantity:   o.Amount,
		Fee:        o.TotalFee,
		FeeAsset:   o.FiatCurrency,
		ExecutedAt: time.UnixMilli(o.CreateTime).UTC(),
		Raw:        rawJSON(o),
	}
	if types.USDQuoteAssets[o.FiatCurrency] {
		tx.USDValue = usdPtr(o.Amount)
	}
	return tx
}

// mapConvert folds a conversion into one transaction: the received asset is
// the base, the spent asset the quote, priced at spent/received.
func mapConvert(accountID uuid.UUID, cv *binance.Convert) models.Transaction {
	id := cv.QuoteID
	if id == "" {
		id = strconv.FormatInt(cv.OrderID, 10)
	}

	price := decimal.Zero
	if cv.ToAmount.IsPositive() {
		price = cv.FromAmount.Div(cv.ToAmount)
	}

	tx := models.Transaction{
		AccountID:  accountID,
		ExternalID: fmt.Sprintf("%s:%s", externalIDConvert, id),
		Kind:       types.KindConvert,
		BaseAsset:  cv.ToAsset,
		QuoteAsset: cv.FromAsset,
		Quantity:   cv.ToAmount,
		Price:      price,
		ExecutedAt: time.UnixMilli(cv.CreateTime).UTC(),
		Raw:        rawJSON(cv),
	}
	switch {
	case types.USDQuoteAssets[cv.FromAsset]:
		tx.USDValue = usdPtr(cv.FromAmount)
	case types.USDQuoteAssets[cv.ToAsset]:
		tx.USDValue = usdPtr(cv.ToAmount)
	}
	return tx
}

// mapInterest converts one earn payout. The exchange assigns no identifier,
// so asset and timestamp form the idempotency key.
func mapInterest(accountID uuid.UUID, r *binance.InterestReward) models.Transaction {
	return models.Transaction{
		AccountID:  accountID,
		ExternalID: fmt.Sprintf("%s:%s:%d", externalIDInterest, r.Asset, r.Time),
		Kind:       types.KindInterest,
		BaseAsset:  r.Asset,
		Quantity:   r.Rewards,
		ExecutedAt: time.UnixMilli(r.Time).UTC(),
		Raw:        rawJSON(r),
	}
}

// mapKlines converts candles into price bars for one symbol and interval.
func mapKlines(symbol string, interval types.PriceInterval, klines []binance.Kline) []models.PriceBar {
	bars := make([]models.PriceBar, 0, len(klines))
	for i := range klines {
		k := &klines[i]
		bars = append(bars, models.PriceBar{
			Symbol:   symbol,
			Interval: interval,
			OpenAt:   time.UnixMilli(k.OpenTime).UTC(),
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		})
	}
	return bars
}
