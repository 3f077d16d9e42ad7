package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/types"
)

// Transaction is one row of normalized account activity: a trade side, a
// transfer, a conversion or an interest payout. ExternalID is the exchange's
// identifier and makes re-ingestion idempotent per account.
type Transaction struct {
	ID         uuid.UUID             `json:"id" db:"id"`
	AccountID  uuid.UUID             `json:"accountId" db:"account_id"`
	ExternalID string                `json:"externalId" db:"external_id"`
	Kind       types.TransactionKind `json:"kind" db:"kind"`

	// BaseAsset is the asset whose position changes; QuoteAsset is what was
	// paid or received in exchange. Transfers carry only a base asset.
	BaseAsset  string `json:"baseAsset" db:"base_asset"`
	QuoteAsset string `json:"quoteAsset,omitempty" db:"quote_asset"`

	// Symbol and TradeID are set on trade rows only. TradeID backs the
	// per-symbol ingestion cursor.
	Symbol  string `json:"symbol,omitempty" db:"symbol"`
	TradeID *int64 `json:"tradeId,omitempty" db:"trade_id"`

	Quantity decimal.Decimal `json:"quantity" db:"quantity"`
	Price    decimal.Decimal `json:"price" db:"price"`
	Fee      decimal.Decimal `json:"fee" db:"fee"`
	FeeAsset string          `json:"feeAsset,omitempty" db:"fee_asset"`

	// USDValue is the trade's quote amount re-expressed in USD. Rows from
	// non-USD markets are inserted with a nil value and enriched later.
	USDValue *decimal.Decimal `json:"usdValue,omitempty" db:"usd_value"`

	ExecutedAt time.Time `json:"executedAt" db:"executed_at"`
	Raw        []byte    `json:"-" db:"raw"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
}

// QuoteAmount returns the total quote-asset amount of the transaction.
func (t *Transaction) QuoteAmount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}

// IsAcquisition reports whether the transaction opens base-asset lots.
func (t *Transaction) IsAcquisition() bool {
	switch t.Kind {
	case types.KindBuy, types.KindDeposit, types.KindConvert, types.KindInterest:
		return true
	}
	return false
}

// IsDisposal reports whether the transaction consumes base-asset lots.
func (t *Transaction) IsDisposal() bool {
	return t.Kind == types.KindSell || t.Kind == types.KindWithdrawal
}
