// Package types provides common type definitions for the portfolio ledger system.
package types

// TransactionKind represents the kind of account activity a transaction records
type TransactionKind string

const (
	// KindBuy represents a spot trade acquiring the base asset
	KindBuy TransactionKind = "buy"
	// KindSell represents a spot trade disposing of the base asset
	KindSell TransactionKind = "sell"
	// KindDeposit represents a crypto or fiat deposit into the account
	KindDeposit TransactionKind = "deposit"
	// KindWithdrawal represents a crypto or fiat withdrawal out of the account
	KindWithdrawal TransactionKind = "withdrawal"
	// KindConvert represents a direct asset-to-asset conversion
	KindConvert TransactionKind = "convert"
	// KindInterest represents an earn/staking interest payout
	KindInterest TransactionKind = "interest"
)

// Valid reports whether the kind is one of the known transaction kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindBuy, KindSell, KindDeposit, KindWithdrawal, KindConvert, KindInterest:
		return true
	}
	return false
}

// SyncStatus represents the synchronization state of an account
type SyncStatus string

const (
	// SyncIdle means no sync is running and the last run succeeded
	SyncIdle SyncStatus = "idle"
	// SyncRunning means a sync run is in progress
	SyncRunning SyncStatus = "syncing"
	// SyncError means the last run failed (bad credentials or exhausted retries)
	SyncError SyncStatus = "error"
)

// CostBasisMethod selects the lot consumption order for disposals
type CostBasisMethod string

const (
	// MethodFIFO consumes the oldest open lots first
	MethodFIFO CostBasisMethod = "fifo"
	// MethodLIFO consumes the newest open lots first
	MethodLIFO CostBasisMethod = "lifo"
)

// PriceInterval represents the granularity of a price bar
type PriceInterval string

const (
	// Interval1d is one daily candle per bar
	Interval1d PriceInterval = "1d"
	// Interval1w is one weekly candle per bar
	Interval1w PriceInterval = "1w"
	// Interval1M is one monthly candle per bar
	Interval1M PriceInterval = "1M"
)

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}

// FiatAndStablecoins are assets treated as cash when computing invested
// capital and IRR cash flows.
var FiatAndStablecoins = map[string]bool{
	"EUR":   true,
	"USD":   true,
	"GBP":   true,
	"CHF":   true,
	"USDT":  true,
	"USDC":  true,
	"BUSD":  true,
	"FDUSD": true,
	"DAI":   true,
	"TUSD":  true,
	"USDP":  true,
}

// IsCashAsset reports whether the asset is fiat or a USD stablecoin.
func IsCashAsset(asset string) bool {
	return FiatAndStablecoins[asset]
}

// USDQuoteAssets are quote currencies whose prices are already denominated
// in USD (or a 1:1 USD stablecoin).
var USDQuoteAssets = map[string]bool{
	"USDT":  true,
	"BUSD":  true,
	"FDUSD": true,
	"USD":   true,
	"USDC":  true,
}
