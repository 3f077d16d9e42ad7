package binance

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Request weights per endpoint, per the exchange's published limits.
const (
	weightAccount     = 20
	weightMyTrades    = 20
	weightDeposits    = 1
	weightWithdrawals = 18
	weightFiatOrders  = 1
	weightConverts    = 100
	weightInterest    = 150
	weightKlines      = 2
	weightTicker      = 2
)

// APIError is the error envelope the exchange returns on non-2xx responses.
type APIError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`

	// HTTPStatus is the status the response carried, set by the client.
	HTTPStatus int `json:"-"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("exchange API error %d (http %d): %s", e.Code, e.HTTPStatus, e.Msg)
}

// Balance is one asset balance inside AccountInfo.
type Balance struct {
	Asset  string          `json:"asset"`
	Free   decimal.Decimal `json:"free"`
	Locked decimal.Decimal `json:"locked"`
}

// AccountInfo is the /api/v3/account response.
type AccountInfo struct {
	AccountType string    `json:"accountType"`
	CanTrade    bool      `json:"canTrade"`
	UpdateTime  int64     `json:"updateTime"`
	Balances    []Balance `json:"balances"`
}

// Trade is one fill from /api/v3/myTrades.
type Trade struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"orderId"`
	Symbol          string          `json:"symbol"`
	Price           decimal.Decimal `json:"price"`
	Qty             decimal.Decimal `json:"qty"`
	QuoteQty        decimal.Decimal `json:"quoteQty"`
	Commission      decimal.Decimal `json:"commission"`
	CommissionAsset string          `json:"commissionAsset"`
	Time            int64           `json:"time"`
	IsBuyer         bool            `json:"isBuyer"`
	IsMaker         bool            `json:"isMaker"`
}

// Deposit is one record from /sapi/v1/capital/deposit/hisrec.
type Deposit struct {
	ID         string          `json:"id"`
	TxID       string          `json:"txId"`
	Coin       string          `json:"coin"`
	Amount     decimal.Decimal `json:"amount"`
	Network    string          `json:"network"`
	Status     int             `json:"status"`
	InsertTime int64           `json:"insertTime"`
}

// DepositStatusCredited means the funds are available in the account.
const DepositStatusCredited = 1

// Withdrawal is one record from /sapi/v1/capital/withdraw/history.
type Withdrawal struct {
	ID             string          `json:"id"`
	TxID           string          `json:"txId"`
	Coin           string          `json:"coin"`
	Amount         decimal.Decimal `json:"amount"`
	TransactionFee decimal.Decimal `json:"transactionFee"`
	Network        string          `json:"network"`
	Status         int             `json:"status"`
	ApplyTime      string          `json:"applyTime"`
	CompleteTime   string          `json:"completeTime"`
}

// WithdrawalStatusCompleted means the withdrawal left the account.
const WithdrawalStatusCompleted = 6

// FiatOrder is one record from /sapi/v1/fiat/orders (deposits or
// withdrawals depending on the transactionType parameter).
type FiatOrder struct {
	OrderNo         string          `json:"orderNo"`
	FiatCurrency    string          `json:"fiatCurrency"`
	IndicatedAmount decimal.Decimal `json:"indicatedAmount"`
	Amount          decimal.Decimal `json:"amount"`
	TotalFee        decimal.Decimal `json:"totalFee"`
	Method          string          `json:"method"`
	Status          string          `json:"status"`
	CreateTime      int64           `json:"createTime"`
	UpdateTime      int64           `json:"updateTime"`
}

// FiatOrderStatusSuccessful is the only status that moves money.
const FiatOrderStatusSuccessful = "Successful"

// Fiat order transaction types.
const (
	FiatTxTypeDeposit    = "0"
	FiatTxTypeWithdrawal = "1"
)

type fiatOrdersResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Data    []FiatOrder `json:"data"`
	Total   int         `json:"total"`
	Success bool        `json:"success"`
}

// Convert is one record from /sapi/v1/convert/tradeFlow.
type Convert struct {
	QuoteID     string          `json:"quoteId"`
	OrderID     int64           `json:"orderId"`
	OrderStatus string          `json:"orderStatus"`
	FromAsset   string          `json:"fromAsset"`
	FromAmount  decimal.Decimal `json:"fromAmount"`
	ToAsset     string          `json:"toAsset"`
	ToAmount    decimal.Decimal `json:"toAmount"`
	Ratio       decimal.Decimal `json:"ratio"`
	CreateTime  int64           `json:"createTime"`
}

// ConvertStatusSuccess is the only convert status that settles.
const ConvertStatusSuccess = "SUCCESS"

type convertTradeFlowResponse struct {
	List      []Convert `json:"list"`
	StartTime int64     `json:"startTime"`
	EndTime   int64     `json:"endTime"`
	Limit     int       `json:"limit"`
	MoreData  bool      `json:"moreData"`
}

// InterestReward is one record from /sapi/v1/simple-earn/flexible/history/rewardsRecord.
type InterestReward struct {
	Asset   string          `json:"asset"`
	Rewards decimal.Decimal `json:"rewards"`
	Type    string          `json:"type"`
	Time    int64           `json:"time"`
}

type interestRewardsResponse struct {
	Rows  []InterestReward `json:"rows"`
	Total int              `json:"total"`
}

// Kline is one OHLCV candle from /api/v3/klines. The wire format is a
// positional JSON array.
type Kline struct {
	OpenTime  int64
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	CloseTime int64
}

// UnmarshalJSON decodes the positional candle array.
func (k *Kline) UnmarshalJSON(data []byte) error {
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) < 7 {
		return fmt.Errorf("kline array has %d fields, want at least 7", len(raw))
	}

	openTime, ok := raw[0].(float64)
	if !ok {
		return fmt.Errorf("kline open time is not a number")
	}
	closeTime, ok := raw[6].(float64)
	if !ok {
		return fmt.Errorf("kline close time is not a number")
	}
	k.OpenTime = int64(openTime)
	k.CloseTime = int64(closeTime)

	fields := []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume}
	for i, dst := range fields {
		s, ok := raw[i+1].(string)
		if !ok {
			return fmt.Errorf("kline field %d is not a string", i+1)
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return fmt.Errorf("failed to parse kline field %d: %w", i+1, err)
		}
		*dst = d
	}
	return nil
}

// TickerPrice is the /api/v3/ticker/price response for one symbol.
type TickerPrice struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}
