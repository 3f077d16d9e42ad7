// Package analytics provides pure portfolio metrics: average entry price,
// return ratios, drawdown and money-weighted return.
package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
)

// VWAP returns the volume-weighted average USD price across the given
// transactions. Rows without a USD valuation or quantity are skipped.
// Returns zero when nothing is weighable.
func VWAP(txns []models.Transaction) decimal.Decimal {
	totalQty := decimal.Zero
	totalValue := decimal.Zero
	for i := range txns {
		tx := &txns[i]
		if tx.USDValue == nil || !tx.Quantity.IsPositive() {
			continue
		}
		totalQty = totalQty.Add(tx.Quantity)
		totalValue = totalValue.Add(*tx.USDValue)
	}
	if totalQty.IsZero() {
		return decimal.Zero
	}
	return totalValue.Div(totalQty)
}

// ROI returns (current − invested) / invested, or nil when invested capital
// is zero so callers can distinguish "no return" from "0% return".
func ROI(current, invested decimal.Decimal) *decimal.Decimal {
	if invested.IsZero() {
		return nil
	}
	r := current.Sub(invested).Div(invested)
	return &r
}
