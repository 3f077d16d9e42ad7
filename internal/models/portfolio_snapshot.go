package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AssetHolding is one asset's position inside a snapshot.
type AssetHolding struct {
	Asset    string          `json:"asset"`
	Quantity decimal.Decimal `json:"quantity"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
	ValueEUR decimal.Decimal `json:"valueEur"`
}

// PortfolioSnapshot is the end-of-day valuation of an account. Snapshots are
// derived data: rebuilding a date range replaces the rows for those dates.
type PortfolioSnapshot struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	AccountID      uuid.UUID       `json:"accountId" db:"account_id"`
	SnapshotDate   time.Time       `json:"snapshotDate" db:"snapshot_date"`
	TotalValueUSD  decimal.Decimal `json:"totalValueUsd" db:"total_value_usd"`
	TotalValueEUR  decimal.Decimal `json:"totalValueEur" db:"total_value_eur"`
	InvestedUSD    decimal.Decimal `json:"investedUsd" db:"invested_usd"`
	RealizedPnLUSD decimal.Decimal `json:"realizedPnlUsd" db:"realized_pnl_usd"`
	Holdings       []AssetHolding  `json:"holdings" db:"holdings"`
	CreatedAt      time.Time       `json:"createdAt" db:"created_at"`
}
