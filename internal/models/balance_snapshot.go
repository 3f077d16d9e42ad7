package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceSnapshot is the exchange-reported balance of one asset at sync
// time, kept for reconciliation against the ledger-derived position.
type BalanceSnapshot struct {
	ID         uuid.UUID       `json:"id" db:"id"`
	AccountID  uuid.UUID       `json:"accountId" db:"account_id"`
	Asset      string          `json:"asset" db:"asset"`
	Free       decimal.Decimal `json:"free" db:"free"`
	Locked     decimal.Decimal `json:"locked" db:"locked"`
	CapturedAt time.Time       `json:"capturedAt" db:"captured_at"`
}
