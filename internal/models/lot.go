package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Lot is an open cost-basis lot: a remaining slice of an acquisition that
// has not yet been consumed by a disposal. The lots table is a cache of the
// accounting fold and can always be rebuilt from transactions.
type Lot struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	AccountID   uuid.UUID       `json:"accountId" db:"account_id"`
	Asset       string          `json:"asset" db:"asset"`
	Quantity    decimal.Decimal `json:"quantity" db:"quantity"`
	UnitCostUSD decimal.Decimal `json:"unitCostUsd" db:"unit_cost_usd"`
	UnitCostEUR decimal.Decimal `json:"unitCostEur" db:"unit_cost_eur"`
	AcquiredAt  time.Time       `json:"acquiredAt" db:"acquired_at"`
}
