package binance

import (
	"context"
	"net/url"
	"strconv"
)

// Page size limits the exchange enforces per endpoint.
const (
	maxTradesPerPage     = 1000
	maxFiatRowsPerPage   = 500
	maxConvertsPerPage   = 1000
	maxInterestPerPage   = 100
	maxKlinesPerPage     = 1000
	defaultKlinesPerPage = 500
)

// GetAccount fetches current balances. Doubles as the credential check: a
// 401 here means the account's keys are invalid.
func (c *Client) GetAccount(ctx context.Context) (*AccountInfo, error) {
	var info AccountInfo
	params := url.Values{}
	params.Set("omitZeroBalances", "true")
	if err := c.get(ctx, "/api/v3/account", params, true, weightAccount, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetTrades fetches up to limit fills for a symbol. When fromID is positive
// it wins over startTime and pagination proceeds by trade ID; otherwise the
// server returns trades from startTime onward without a 24h window cap.
func (c *Client) GetTrades(ctx context.Context, symbol string, fromID int64, startTime int64, limit int) ([]Trade, error) {
	if limit <= 0 || limit > maxTradesPerPage {
		limit = maxTradesPerPage
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	if fromID > 0 {
		params.Set("fromId", strconv.FormatInt(fromID, 10))
	} else if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}

	var trades []Trade
	if err := c.get(ctx, "/api/v3/myTrades", params, true, weightMyTrades, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// GetDeposits fetches crypto deposits inside [startTime, endTime]. The
// server caps the span at 90 days.
func (c *Client) GetDeposits(ctx context.Context, startTime, endTime int64) ([]Deposit, error) {
	params := url.Values{}
	params.Set("startTime", strconv.FormatInt(startTime, 10))
	params.Set("endTime", strconv.FormatInt(endTime, 10))

	var deposits []Deposit
	if err := c.get(ctx, "/sapi/v1/capital/deposit/hisrec", params, true, weightDeposits, &deposits); err != nil {
		return nil, err
	}
	return deposits, nil
}

// GetWithdrawals fetches crypto withdrawals inside [startTime, endTime].
// The server caps the span at 90 days.
func (c *Client) GetWithdrawals(ctx context.Context, startTime, endTime int64) ([]Withdrawal, error) {
	params := url.Values{}
	params.Set("startTime", strconv.FormatInt(startTime, 10))
	params.Set("endTime", strconv.FormatInt(endTime, 10))

	var withdrawals []Withdrawal
	if err := c.get(ctx, "/sapi/v1/capital/withdraw/history", params, true, weightWithdrawals, &withdrawals); err != nil {
		return nil, err
	}
	return withdrawals, nil
}

// GetFiatOrders fetches one page of fiat deposit or withdrawal orders.
// txType selects the direction; pages are 1-based.
func (c *Client) GetFiatOrders(ctx context.Context, txType string, beginTime, endTime int64, page int) ([]FiatOrder, error) {
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	params.Set("transactionType", txType)
	params.Set("beginTime", strconv.FormatInt(beginTime, 10))
	params.Set("endTime", strconv.FormatInt(endTime, 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("rows", strconv.Itoa(maxFiatRowsPerPage))

	var resp fiatOrdersResponse
	if err := c.get(ctx, "/sapi/v1/fiat/orders", params, true, weightFiatOrders, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// GetConverts fetches convert trades inside [startTime, endTime]. The
// server caps the span at 30 days.
func (c *Client) GetConverts(ctx context.Context, startTime, endTime int64) ([]Convert, error) {
	params := url.Values{}
	params.Set("startTime", strconv.FormatInt(startTime, 10))
	params.Set("endTime", strconv.FormatInt(endTime, 10))
	params.Set("limit", strconv.Itoa(maxConvertsPerPage))

	var resp convertTradeFlowResponse
	if err := c.get(ctx, "/sapi/v1/convert/tradeFlow", params, true, weightConverts, &resp); err != nil {
		return nil, err
	}
	return resp.List, nil
}

// GetInterestHistory fetches one page of flexible-earn reward records
// inside [startTime, endTime]. Pages are 1-based.
func (c *Client) GetInterestHistory(ctx context.Context, startTime, endTime int64, page int) ([]InterestReward, error) {
	if page < 1 {
		page = 1
	}

	params := url.Values{}
	params.Set("type", "REALTIME")
	params.Set("startTime", strconv.FormatInt(startTime, 10))
	params.Set("endTime", strconv.FormatInt(endTime, 10))
	params.Set("current", strconv.Itoa(page))
	params.Set("size", strconv.Itoa(maxInterestPerPage))

	var resp interestRewardsResponse
	if err := c.get(ctx, "/sapi/v1/simple-earn/flexible/history/rewardsRecord", params, true, weightInterest, &resp); err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// GetKlines fetches OHLCV candles for a symbol. Unsigned endpoint.
func (c *Client) GetKlines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]Kline, error) {
	if limit <= 0 {
		limit = defaultKlinesPerPage
	}
	if limit > maxKlinesPerPage {
		limit = maxKlinesPerPage
	}

	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))
	if startTime > 0 {
		params.Set("startTime", strconv.FormatInt(startTime, 10))
	}
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}

	var klines []Kline
	if err := c.get(ctx, "/api/v3/klines", params, false, weightKlines, &klines); err != nil {
		return nil, err
	}
	return klines, nil
}

// GetTickerPrice fetches the current price for a symbol. Unsigned endpoint.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (*TickerPrice, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var ticker TickerPrice
	if err := c.get(ctx, "/api/v3/ticker/price", params, false, weightTicker, &ticker); err != nil {
		return nil, err
	}
	return &ticker, nil
}
