package binance

import (
	"context"
	"time"
)

// Window sizes the exchange enforces on time-ranged endpoints.
const (
	transferWindowMs = 90 * 24 * int64(time.Hour/time.Millisecond)
	convertWindowMs  = 30 * 24 * int64(time.Hour/time.Millisecond)
)

// AllTrades drains every fill for a symbol with an ID newer than fromID,
// paginating by trade ID. A short page means the history is exhausted.
func (c *Client) AllTrades(ctx context.Context, symbol string, fromID int64) ([]Trade, error) {
	var all []Trade
	cursor := fromID
	for {
		batch, err := c.GetTrades(ctx, symbol, cursor, 0, maxTradesPerPage)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < maxTradesPerPage {
			return all, nil
		}
		cursor = batch[len(batch)-1].ID + 1
	}
}

// AllTradesByTime drains every fill for a symbol executed at or after
// startTime, paginating by execution time. Used when no trade-ID cursor
// exists yet; passing only startTime avoids the server's 24h range cap.
func (c *Client) AllTradesByTime(ctx context.Context, symbol string, startTime int64) ([]Trade, error) {
	var all []Trade
	cursor := startTime
	seen := make(map[int64]bool)
	for {
		batch, err := c.GetTrades(ctx, symbol, 0, cursor, maxTradesPerPage)
		if err != nil {
			return nil, err
		}
		for _, t := range batch {
			// Trades sharing the boundary millisecond appear in two pages.
			if !seen[t.ID] {
				seen[t.ID] = true
				all = append(all, t)
			}
		}
		if len(batch) < maxTradesPerPage {
			return all, nil
		}
		cursor = batch[len(batch)-1].Time + 1
	}
}

// AllDeposits drains crypto deposits between startTime and endTime, walking
// the range in 90-day windows.
func (c *Client) AllDeposits(ctx context.Context, startTime, endTime int64) ([]Deposit, error) {
	var all []Deposit
	err := walkWindows(startTime, endTime, transferWindowMs, func(from, to int64) error {
		batch, err := c.GetDeposits(ctx, from, to)
		if err != nil {
			return err
		}
		all = append(all, batch...)
		return nil
	})
	return all, err
}

// AllWithdrawals drains crypto withdrawals between startTime and endTime,
// walking the range in 90-day windows.
func (c *Client) AllWithdrawals(ctx context.Context, startTime, endTime int64) ([]Withdrawal, error) {
	var all []Withdrawal
	err := walkWindows(startTime, endTime, transferWindowMs, func(from, to int64) error {
		batch, err := c.GetWithdrawals(ctx, from, to)
		if err != nil {
			return err
		}
		all = append(all, batch...)
		return nil
	})
	return all, err
}

// AllFiatOrders drains fiat orders of one direction between beginTime and
// endTime, walking pages until a short one.
func (c *Client) AllFiatOrders(ctx context.Context, txType string, beginTime, endTime int64) ([]FiatOrder, error) {
	var all []FiatOrder
	for page := 1; ; page++ {
		batch, err := c.GetFiatOrders(ctx, txType, beginTime, endTime, page)
		if err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < maxFiatRowsPerPage {
			return all, nil
		}
	}
}

// AllConverts drains convert trades between startTime and endTime, walking
// the range in 30-day windows.
func (c *Client) AllConverts(ctx context.Context, startTime, endTime int64) ([]Convert, error) {
	var all []Convert
	err := walkWindows(startTime, endTime, convertWindowMs, func(from, to int64) error {
		batch, err := c.GetConverts(ctx, from, to)
		if err != nil {
			return err
		}
		all = append(all, batch...)
		return nil
	})
	return all, err
}

// AllInterest drains earn reward records between startTime and endTime,
// walking 90-day windows and pages inside each window.
func (c *Client) AllInterest(ctx context.Context, startTime, endTime int64) ([]InterestReward, error) {
	var all []InterestReward
	err := walkWindows(startTime, endTime, transferWindowMs, func(from, to int64) error {
		for page := 1; ; page++ {
			batch, err := c.GetInterestHistory(ctx, from, to, page)
			if err != nil {
				return err
			}
			all = append(all, batch...)
			if len(batch) < maxInterestPerPage {
				return nil
			}
		}
	})
	return all, err
}

// walkWindows invokes fn over [start, end] split into inclusive windows of
// at most windowMs milliseconds.
func walkWindows(start, end, windowMs int64, fn func(from, to int64) error) error {
	if start > end {
		return nil
	}
	for from := start; from <= end; from += windowMs {
		to := from + windowMs - 1
		if to > end {
			to = end
		}
		if err := fn(from, to); err != nil {
			return err
		}
	}
	return nil
}
