package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/types"
)

// PriceBar is one OHLCV candle for a market symbol. Bars are unique per
// (symbol, interval, open time).
type PriceBar struct {
	Symbol   string              `json:"symbol" db:"symbol"`
	Interval types.PriceInterval `json:"interval" db:"interval"`
	OpenAt   time.Time           `json:"openAt" db:"open_at"`
	Open     decimal.Decimal     `json:"open" db:"open"`
	High     decimal.Decimal     `json:"high" db:"high"`
	Low      decimal.Decimal     `json:"low" db:"low"`
	Close    decimal.Decimal     `json:"close" db:"close"`
	Volume   decimal.Decimal     `json:"volume" db:"volume"`
}
