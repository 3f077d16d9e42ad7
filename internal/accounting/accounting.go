// Package accounting implements the cost-basis fold: replaying an account's
// transaction history into open lots and realized disposals. The fold is
// pure; callers persist or discard the result.
package accounting

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// Lot is a remaining slice of an acquisition.
type Lot struct {
	Asset       string
	Quantity    decimal.Decimal
	UnitCostUSD decimal.Decimal
	UnitCostEUR decimal.Decimal
	AcquiredAt  time.Time
}

// Disposal is the realized outcome of consuming lots for a sell or
// withdrawal. Cost carries the consumed lots' basis, Proceeds the disposal's
// valuation net of cash fees.
type Disposal struct {
	Asset          string
	Quantity       decimal.Decimal
	ProceedsUSD    decimal.Decimal
	CostUSD        decimal.Decimal
	RealizedPnLUSD decimal.Decimal
	DisposedAt     time.Time
}

// Result is the outcome of replaying a transaction history.
type Result struct {
	// OpenLots holds the remaining lots per asset in acquisition order.
	OpenLots map[string][]Lot

	Disposals []Disposal

	// NegativePositions counts disposals that exceeded the open position.
	// The excess is clamped; a nonzero count means history is incomplete
	// and the account needs a backfill.
	NegativePositions int

	// MissingValuations counts transactions processed without a USD value.
	MissingValuations int
}

// RealizedPnLUSD sums realized profit across all disposals.
func (r *Result) RealizedPnLUSD() decimal.Decimal {
	total := decimal.Zero
	for _, d := range r.Disposals {
		total = total.Add(d.RealizedPnLUSD)
	}
	return total
}

// DisposalsInYear returns the disposals realized in the given calendar year.
// Lots consumed may originate in any earlier year.
func (r *Result) DisposalsInYear(year int) []Disposal {
	var out []Disposal
	for _, d := range r.Disposals {
		if d.DisposedAt.UTC().Year() == year {
			out = append(out, d)
		}
	}
	return out
}

// RateFunc returns the USD value of one EUR at the given time. A nil func
// or a zero rate leaves EUR costs at zero.
type RateFunc func(at time.Time) decimal.Decimal

// Compute replays transactions in execution order and returns open lots and
// realized disposals. Fiat and stablecoin positions are not lot-tracked;
// they enter invested-capital math elsewhere.
func Compute(txns []models.Transaction, method types.CostBasisMethod, eurUSD RateFunc) *Result {
	ordered := make([]models.Transaction, len(txns))
	copy(ordered, txns)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].ExecutedAt.Equal(ordered[j].ExecutedAt) {
			return ordered[i].ExternalID < ordered[j].ExternalID
		}
		return ordered[i].ExecutedAt.Before(ordered[j].ExecutedAt)
	})

	result := &Result{OpenLots: make(map[string][]Lot)}

	for i := range ordered {
		tx := &ordered[i]

		// A convert carries two legs: the spent asset is disposed and the
		// received asset acquired, both at the conversion's valuation.
		if tx.Kind == types.KindConvert {
			convert(result, tx, method, eurUSD)
			continue
		}

		if types.IsCashAsset(tx.BaseAsset) {
			continue
		}

		switch {
		case tx.IsAcquisition():
			acquire(result, tx, eurUSD)
		case tx.IsDisposal():
			dispose(result, tx, method)
		}
	}

	return result
}

func convert(result *Result, tx *models.Transaction, method types.CostBasisMethod, eurUSD RateFunc) {
	valueUSD := decimal.Zero
	if tx.USDValue != nil {
		valueUSD = *tx.USDValue
	} else {
		result.MissingValuations++
	}

	if tx.QuoteAsset != "" && !types.IsCashAsset(tx.QuoteAsset) {
		consumeLots(result, tx.QuoteAsset, tx.QuoteAmount(), valueUSD, tx.ExecutedAt, method)
	}
	if !types.IsCashAsset(tx.BaseAsset) {
		openLot(result, tx.BaseAsset, tx.Quantity, valueUSD, tx.ExecutedAt, eurUSD)
	}
}

func acquire(result *Result, tx *models.Transaction, eurUSD RateFunc) {
	costUSD := decimal.Zero
	if tx.USDValue != nil {
		costUSD = *tx.USDValue
	} else {
		result.MissingValuations++
	}
	// Cash fees on a buy raise the basis.
	if types.IsCashAsset(tx.FeeAsset) && tx.Fee.IsPositive() {
		costUSD = costUSD.Add(tx.Fee)
	}

	openLot(result, tx.BaseAsset, tx.Quantity, costUSD, tx.ExecutedAt, eurUSD)
}

func openLot(result *Result, asset string, quantity, costUSD decimal.Decimal, at time.Time, eurUSD RateFunc) {
	if quantity.IsZero() {
		return
	}

	unitCostUSD := costUSD.Div(quantity)

	unitCostEUR := decimal.Zero
	if eurUSD != nil {
		if rate := eurUSD(at); rate.IsPositive() {
			unitCostEUR = unitCostUSD.Div(rate)
		}
	}

	result.OpenLots[asset] = append(result.OpenLots[asset], Lot{
		Asset:       asset,
		Quantity:    quantity,
		UnitCostUSD: unitCostUSD,
		UnitCostEUR: unitCostEUR,
		AcquiredAt:  at,
	})
}

func dispose(result *Result, tx *models.Transaction, method types.CostBasisMethod) {
	proceedsUSD := decimal.Zero
	if tx.USDValue != nil {
		proceedsUSD = *tx.USDValue
	} else {
		result.MissingValuations++
	}
	if types.IsCashAsset(tx.FeeAsset) && tx.Fee.IsPositive() {
		proceedsUSD = proceedsUSD.Sub(tx.Fee)
	}

	consumeLots(result, tx.BaseAsset, tx.Quantity, proceedsUSD, tx.ExecutedAt, method)
}

func consumeLots(result *Result, asset string, quantity, proceedsUSD decimal.Decimal, at time.Time, method types.CostBasisMethod) {
	remaining := quantity
	if remaining.IsZero() {
		return
	}
	unitProceeds := proceedsUSD.Div(quantity)

	lots := result.OpenLots[asset]
	costUSD := decimal.Zero
	disposed := decimal.Zero

	for remaining.IsPositive() && len(lots) > 0 {
		idx := 0
		if method == types.MethodLIFO {
			idx = len(lots) - 1
		}
		lot := &lots[idx]

		take := decimal.Min(lot.Quantity, remaining)
		costUSD = costUSD.Add(take.Mul(lot.UnitCostUSD))
		disposed = disposed.Add(take)
		remaining = remaining.Sub(take)

		lot.Quantity = lot.Quantity.Sub(take)
		if lot.Quantity.IsZero() {
			if method == types.MethodLIFO {
				lots = lots[:idx]
			} else {
				lots = lots[1:]
			}
		}
	}
	result.OpenLots[asset] = lots

	// Disposing more than the open position means earlier history is
	// missing. The excess is dropped, not given a negative lot.
	if remaining.IsPositive() {
		result.NegativePositions++
	}

	if disposed.IsZero() {
		return
	}

	proceeds := unitProceeds.Mul(disposed)
	result.Disposals = append(result.Disposals, Disposal{
		Asset:          asset,
		Quantity:       disposed,
		ProceedsUSD:    proceeds,
		CostUSD:        costUSD,
		RealizedPnLUSD: proceeds.Sub(costUSD),
		DisposedAt:     at,
	})
}

// Position returns the total open quantity of an asset.
func (r *Result) Position(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range r.OpenLots[asset] {
		total = total.Add(lot.Quantity)
	}
	return total
}

// CostBasisUSD returns the total open cost basis of an asset.
func (r *Result) CostBasisUSD(asset string) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range r.OpenLots[asset] {
		total = total.Add(lot.Quantity.Mul(lot.UnitCostUSD))
	}
	return total
}
