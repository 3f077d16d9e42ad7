package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/binance"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
)

// In-memory store fakes backing the pipeline tests.

type memAccounts struct {
	mu sync.Mutex
	m  map[uuid.UUID]*models.Account
}

func newMemAccounts(accounts ...*models.Account) *memAccounts {
	m := make(map[uuid.UUID]*models.Account)
	for _, a := range accounts {
		m[a.ID] = a
	}
	return &memAccounts{m: m}
}

func (s *memAccounts) GetByID(_ context.Context, id uuid.UUID) (*models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[id]
	if !ok {
		return nil, storage.ErrAccountNotFound
	}
	copy := *a
	return &copy, nil
}

func (s *memAccounts) List(_ context.Context) ([]models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Account
	for _, a := range s.m {
		out = append(out, *a)
	}
	return out, nil
}

func (s *memAccounts) UpdateSyncStatus(_ context.Context, id uuid.UUID, status types.SyncStatus, syncErr *string, lastSyncAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[id]
	if !ok {
		return storage.ErrAccountNotFound
	}
	a.SyncStatus = status
	a.SyncError = syncErr
	if lastSyncAt != nil {
		a.LastSyncAt = lastSyncAt
	}
	return nil
}

func (s *memAccounts) SetNeedsBackfill(_ context.Context, id uuid.UUID, needs bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.m[id]
	if !ok {
		return storage.ErrAccountNotFound
	}
	a.NeedsBackfill = needs
	return nil
}

type memTransactions struct {
	mu   sync.Mutex
	rows []models.Transaction
}

func (s *memTransactions) Upsert(_ context.Context, txns []models.Transaction) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool)
	for i := range s.rows {
		seen[s.rows[i].AccountID.String()+"/"+s.rows[i].ExternalID] = true
	}

	inserted := 0
	for i := range txns {
		tx := txns[i]
		key := tx.AccountID.String() + "/" + tx.ExternalID
		if seen[key] {
			continue
		}
		seen[key] = true
		if tx.ID == uuid.Nil {
			tx.ID = uuid.New()
		}
		s.rows = append(s.rows, tx)
		inserted++
	}
	return inserted, nil
}

func (s *memTransactions) ListByAccount(_ context.Context, accountID uuid.UUID) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for i := range s.rows {
		if s.rows[i].AccountID == accountID {
			out = append(out, s.rows[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ExternalID < out[j].ExternalID
		}
		return out[i].ExecutedAt.Before(out[j].ExecutedAt)
	})
	return out, nil
}

func (s *memTransactions) LastTradeID(_ context.Context, accountID uuid.UUID, symbol string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last int64
	for i := range s.rows {
		r := &s.rows[i]
		if r.AccountID == accountID && r.Symbol == symbol && r.TradeID != nil && *r.TradeID > last {
			last = *r.TradeID
		}
	}
	return last, nil
}

func (s *memTransactions) LastExecutedAt(_ context.Context, accountID uuid.UUID, kinds []types.TransactionKind) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kindSet := make(map[types.TransactionKind]bool)
	for _, k := range kinds {
		kindSet[k] = true
	}
	var last time.Time
	for i := range s.rows {
		r := &s.rows[i]
		if r.AccountID == accountID && kindSet[r.Kind] && r.ExecutedAt.After(last) {
			last = r.ExecutedAt
		}
	}
	return last, nil
}

func (s *memTransactions) ListUnvalued(_ context.Context, accountID uuid.UUID) ([]models.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Transaction
	for i := range s.rows {
		if s.rows[i].AccountID == accountID && s.rows[i].USDValue == nil {
			out = append(out, s.rows[i])
		}
	}
	return out, nil
}

func (s *memTransactions) SetUSDValue(_ context.Context, id uuid.UUID, value decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rows {
		if s.rows[i].ID == id {
			v := value
			s.rows[i].USDValue = &v
			return nil
		}
	}
	return errors.New("transaction not found")
}

type memPrices struct {
	mu   sync.Mutex
	bars map[string][]models.PriceBar
}

func newMemPrices() *memPrices {
	return &memPrices{bars: make(map[string][]models.PriceBar)}
}

func priceKey(symbol string, interval types.PriceInterval) string {
	return symbol + "/" + string(interval)
}

func (s *memPrices) Upsert(_ context.Context, bars []models.PriceBar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bar := range bars {
		key := priceKey(bar.Symbol, bar.Interval)
		replaced := false
		for i := range s.bars[key] {
			if s.bars[key][i].OpenAt.Equal(bar.OpenAt) {
				s.bars[key][i] = bar
				replaced = true
				break
			}
		}
		if !replaced {
			s.bars[key] = append(s.bars[key], bar)
		}
	}
	for key := range s.bars {
		sort.Slice(s.bars[key], func(i, j int) bool {
			return s.bars[key][i].OpenAt.Before(s.bars[key][j].OpenAt)
		})
	}
	return nil
}

func (s *memPrices) Range(_ context.Context, symbol string, interval types.PriceInterval, from, to time.Time) ([]models.PriceBar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PriceBar
	for _, bar := range s.bars[priceKey(symbol, interval)] {
		if !bar.OpenAt.Before(from) && !bar.OpenAt.After(to) {
			out = append(out, bar)
		}
	}
	return out, nil
}

func (s *memPrices) CloseAt(_ context.Context, symbol string, interval types.PriceInterval, at time.Time) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := s.bars[priceKey(symbol, interval)]
	for i := len(bars) - 1; i >= 0; i-- {
		if !bars[i].OpenAt.After(at) {
			return bars[i].Close, nil
		}
	}
	return decimal.Zero, storage.ErrNoPriceBar
}

func (s *memPrices) LatestOpenAt(_ context.Context, symbol string, interval types.PriceInterval) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bars := s.bars[priceKey(symbol, interval)]
	if len(bars) == 0 {
		return time.Time{}, nil
	}
	return bars[len(bars)-1].OpenAt, nil
}

type memLots struct {
	mu sync.Mutex
	m  map[uuid.UUID][]models.Lot
}

func newMemLots() *memLots { return &memLots{m: make(map[uuid.UUID][]models.Lot)} }

func (s *memLots) ReplaceForAccount(_ context.Context, accountID uuid.UUID, lots []models.Lot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[accountID] = append([]models.Lot(nil), lots...)
	return nil
}

func (s *memLots) ListByAccount(_ context.Context, accountID uuid.UUID) ([]models.Lot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Lot(nil), s.m[accountID]...), nil
}

type memSnapshots struct {
	mu sync.Mutex
	m  map[uuid.UUID][]models.PortfolioSnapshot
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{m: make(map[uuid.UUID][]models.PortfolioSnapshot)}
}

func (s *memSnapshots) ReplaceRange(_ context.Context, accountID uuid.UUID, from, to time.Time, snapshots []models.PortfolioSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.PortfolioSnapshot
	for _, snap := range s.m[accountID] {
		if snap.SnapshotDate.Before(from) || snap.SnapshotDate.After(to) {
			kept = append(kept, snap)
		}
	}
	kept = append(kept, snapshots...)
	sort.Slice(kept, func(i, j int) bool { return kept[i].SnapshotDate.Before(kept[j].SnapshotDate) })
	s.m[accountID] = kept
	return nil
}

func (s *memSnapshots) Range(_ context.Context, accountID uuid.UUID, from, to time.Time) ([]models.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PortfolioSnapshot
	for _, snap := range s.m[accountID] {
		if !snap.SnapshotDate.Before(from) && !snap.SnapshotDate.After(to) {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (s *memSnapshots) Latest(_ context.Context, accountID uuid.UUID) (*models.PortfolioSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.m[accountID]
	if len(snaps) == 0 {
		return nil, storage.ErrNoSnapshot
	}
	copy := snaps[len(snaps)-1]
	return &copy, nil
}

type memSyncLogs struct {
	mu   sync.Mutex
	rows []*models.SyncLog
}

func (s *memSyncLogs) Create(_ context.Context, log *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	copy := *log
	s.rows = append(s.rows, &copy)
	return nil
}

func (s *memSyncLogs) Finish(_ context.Context, id uuid.UUID, status types.SyncStatus, steps []models.SyncStepResult, runErr *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.ID == id {
			now := time.Now().UTC()
			row.FinishedAt = &now
			row.Status = status
			row.Steps = steps
			row.Error = runErr
			return nil
		}
	}
	return storage.ErrNoSyncLog
}

func (s *memSyncLogs) Latest(_ context.Context, accountID uuid.UUID) (*models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.rows) - 1; i >= 0; i-- {
		if s.rows[i].AccountID == accountID {
			copy := *s.rows[i]
			return &copy, nil
		}
	}
	return nil, storage.ErrNoSyncLog
}

type memBalances struct {
	mu sync.Mutex
	m  map[uuid.UUID][]models.BalanceSnapshot
}

func newMemBalances() *memBalances {
	return &memBalances{m: make(map[uuid.UUID][]models.BalanceSnapshot)}
}

func (s *memBalances) ReplaceForAccount(_ context.Context, accountID uuid.UUID, balances []models.BalanceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[accountID] = append([]models.BalanceSnapshot(nil), balances...)
	return nil
}

func (s *memBalances) ListByAccount(_ context.Context, accountID uuid.UUID) ([]models.BalanceSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.BalanceSnapshot(nil), s.m[accountID]...), nil
}

type memCache struct {
	mu          sync.Mutex
	prices      map[string]decimal.Decimal
	invalidated int
}

func newMemCache() *memCache { return &memCache{prices: make(map[string]decimal.Decimal)} }

func (c *memCache) SetSpotPrice(_ context.Context, symbol string, price decimal.Decimal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[symbol] = price
	return nil
}

func (c *memCache) GetSpotPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, ok := c.prices[symbol]
	if !ok {
		return decimal.Zero, storage.ErrCacheMiss
	}
	return price, nil
}

func (c *memCache) InvalidateOverview(_ context.Context, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	return nil
}

// fakeExchange serves canned exchange data and injects per-method errors.
type fakeExchange struct {
	mu    sync.Mutex
	calls map[string]int
	errs  map[string]error

	accountInfo binance.AccountInfo
	trades      map[string][]binance.Trade
	deposits    []binance.Deposit
	withdrawals []binance.Withdrawal
	fiatOrders  map[string][]binance.FiatOrder
	converts    []binance.Convert
	interest    []binance.InterestReward
	klines      map[string][]binance.Kline
	tickers     map[string]decimal.Decimal
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		calls:      make(map[string]int),
		errs:       make(map[string]error),
		trades:     make(map[string][]binance.Trade),
		fiatOrders: make(map[string][]binance.FiatOrder),
		klines:     make(map[string][]binance.Kline),
		tickers:    make(map[string]decimal.Decimal),
	}
}

func (f *fakeExchange) called(method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
	return f.errs[method]
}

func (f *fakeExchange) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeExchange) GetAccount(context.Context) (*binance.AccountInfo, error) {
	if err := f.called("GetAccount"); err != nil {
		return nil, err
	}
	info := f.accountInfo
	return &info, nil
}

func (f *fakeExchange) AllTrades(_ context.Context, symbol string, fromID int64) ([]binance.Trade, error) {
	if err := f.called("AllTrades"); err != nil {
		return nil, err
	}
	var out []binance.Trade
	for _, t := range f.trades[symbol] {
		if t.ID >= fromID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeExchange) AllTradesByTime(_ context.Context, symbol string, startTime int64) ([]binance.Trade, error) {
	if err := f.called("AllTradesByTime"); err != nil {
		return nil, err
	}
	var out []binance.Trade
	for _, t := range f.trades[symbol] {
		if t.Time >= startTime {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeExchange) AllDeposits(_ context.Context, startTime, endTime int64) ([]binance.Deposit, error) {
	if err := f.called("AllDeposits"); err != nil {
		return nil, err
	}
	var out []binance.Deposit
	for _, d := range f.deposits {
		if d.InsertTime >= startTime && d.InsertTime <= endTime {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeExchange) AllWithdrawals(_ context.Context, _, _ int64) ([]binance.Withdrawal, error) {
	if err := f.called("AllWithdrawals"); err != nil {
		return nil, err
	}
	return append([]binance.Withdrawal(nil), f.withdrawals...), nil
}

func (f *fakeExchange) AllFiatOrders(_ context.Context, txType string, beginTime, endTime int64) ([]binance.FiatOrder, error) {
	if err := f.called("AllFiatOrders"); err != nil {
		return nil, err
	}
	var out []binance.FiatOrder
	for _, o := range f.fiatOrders[txType] {
		if o.CreateTime >= beginTime && o.CreateTime <= endTime {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeExchange) AllConverts(_ context.Context, startTime, endTime int64) ([]binance.Convert, error) {
	if err := f.called("AllConverts"); err != nil {
		return nil, err
	}
	var out []binance.Convert
	for _, c := range f.converts {
		if c.CreateTime >= startTime && c.CreateTime <= endTime {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeExchange) AllInterest(_ context.Context, startTime, endTime int64) ([]binance.InterestReward, error) {
	if err := f.called("AllInterest"); err != nil {
		return nil, err
	}
	var out []binance.InterestReward
	for _, r := range f.interest {
		if r.Time >= startTime && r.Time <= endTime {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeExchange) GetKlines(_ context.Context, symbol, _ string, startTime, _ int64, limit int) ([]binance.Kline, error) {
	if err := f.called("GetKlines"); err != nil {
		return nil, err
	}
	var out []binance.Kline
	for _, k := range f.klines[symbol] {
		if k.OpenTime >= startTime {
			out = append(out, k)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeExchange) GetTickerPrice(_ context.Context, symbol string) (*binance.TickerPrice, error) {
	if err := f.called("GetTickerPrice"); err != nil {
		return nil, err
	}
	return &binance.TickerPrice{Symbol: symbol, Price: f.tickers[symbol]}, nil
}
