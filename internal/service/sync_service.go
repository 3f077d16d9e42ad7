package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/accounting"
	"github.com/portfolio-ledger/internal/binance"
	"github.com/portfolio-ledger/internal/config"
	"github.com/portfolio-ledger/internal/logging"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
)

// ErrSyncInProgress is returned when a trigger overlaps a running sync for
// the same account. The running sync already covers the request.
var ErrSyncInProgress = errors.New("sync already in progress for account")

// cursorOverlap is re-fetched behind each time cursor. Overlap costs a few
// duplicate rows, which the idempotent upsert drops; a gap costs data.
const cursorOverlap = 24 * time.Hour

// SyncReport summarizes one sync run.
type SyncReport struct {
	AccountID  uuid.UUID               `json:"accountId"`
	StartedAt  time.Time               `json:"startedAt"`
	FinishedAt time.Time               `json:"finishedAt"`
	Status     types.SyncStatus        `json:"status"`
	Steps      []models.SyncStepResult `json:"steps"`
	Inserted   int                     `json:"inserted"`
}

// SyncDeps wires the pipeline's dependencies.
type SyncDeps struct {
	Accounts     AccountStore
	Transactions TransactionStore
	Prices       PriceStore
	Lots         LotStore
	Snapshots    SnapshotStore
	SyncLogs     SyncLogStore
	Balances     BalanceStore
	Cache        SpotCache
	NewExchange  ExchangeFactory
	Config       config.SyncConfig

	// Now is an injectable clock for tests. Default: time.Now.
	Now func() time.Time
}

// SyncService runs the incremental ingestion pipeline for accounts. Runs
// for the same account are coalesced: a trigger during a running sync is
// rejected with ErrSyncInProgress.
type SyncService struct {
	deps    SyncDeps
	builder *SnapshotBuilder
	now     func() time.Time

	mu      sync.Mutex
	running map[uuid.UUID]bool
}

// NewSyncService creates the ingestion pipeline.
func NewSyncService(deps SyncDeps) *SyncService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &SyncService{
		deps:    deps,
		builder: NewSnapshotBuilder(deps.Prices, types.MethodFIFO),
		now:     now,
		running: make(map[uuid.UUID]bool),
	}
}

func (s *SyncService) tryAcquire(accountID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[accountID] {
		return false
	}
	s.running[accountID] = true
	return true
}

func (s *SyncService) release(accountID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, accountID)
}

// SyncAll runs the pipeline for every account, continuing past failures.
func (s *SyncService) SyncAll(ctx context.Context) error {
	accounts, err := s.deps.Accounts.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}

	logger := logging.FromContext(ctx)
	for i := range accounts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := s.SyncAccount(ctx, accounts[i].ID); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logger.WithError(err).WithField("accountId", accounts[i].ID.String()).Error("Account sync failed")
		}
	}
	return nil
}

// SyncAccount runs one full sync for the account: every entity step, then
// USD enrichment, then the lot and snapshot rebuild. A failed step leaves
// its cursor untouched and later steps still run; the run is reported as
// errored. Invalid credentials abort the remaining steps.
func (s *SyncService) SyncAccount(ctx context.Context, accountID uuid.UUID) (*SyncReport, error) {
	if !s.tryAcquire(accountID) {
		return nil, ErrSyncInProgress
	}
	defer s.release(accountID)

	account, err := s.deps.Accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	logger := logging.FromContext(ctx).WithField("accountId", accountID.String())
	ctx = logging.WithLogger(ctx, logger)

	startedAt := s.now().UTC()
	syncLog := &models.SyncLog{AccountID: accountID, StartedAt: startedAt, Status: types.SyncRunning}
	if err := s.deps.SyncLogs.Create(ctx, syncLog); err != nil {
		return nil, err
	}
	if err := s.deps.Accounts.UpdateSyncStatus(ctx, accountID, types.SyncRunning, nil, nil); err != nil {
		return nil, err
	}

	report := &SyncReport{AccountID: accountID, StartedAt: startedAt}
	run := &syncRun{service: s, account: account, report: report}

	if exchange, err := s.deps.NewExchange(account); err != nil {
		run.record("exchange", 0, err)
	} else {
		run.exchange = exchange
		run.execute(ctx)
	}

	report.FinishedAt = s.now().UTC()
	report.Status = types.SyncIdle
	var runErr *string
	if msg := run.errorSummary(); msg != "" {
		report.Status = types.SyncError
		runErr = &msg
	}

	var lastSyncAt *time.Time
	if report.Status == types.SyncIdle {
		lastSyncAt = &report.FinishedAt
	}
	if err := s.deps.Accounts.UpdateSyncStatus(ctx, accountID, report.Status, runErr, lastSyncAt); err != nil {
		logger.WithError(err).Error("Failed to persist sync status")
	}
	if err := s.deps.SyncLogs.Finish(ctx, syncLog.ID, report.Status, report.Steps, runErr); err != nil {
		logger.WithError(err).Error("Failed to finish sync log")
	}
	if s.deps.Cache != nil {
		if err := s.deps.Cache.InvalidateOverview(ctx, accountID.String()); err != nil {
			logger.WithError(err).Warn("Failed to invalidate overview cache")
		}
	}

	logger.WithFields(map[string]interface{}{
		"status":   string(report.Status),
		"inserted": report.Inserted,
		"duration": report.FinishedAt.Sub(report.StartedAt).String(),
	}).Info("Sync run finished")

	return report, nil
}

// syncRun carries the mutable state of one pipeline execution.
type syncRun struct {
	service  *SyncService
	account  *models.Account
	exchange Exchange
	report   *SyncReport

	// minAffected is the earliest execution time among newly inserted
	// rows; the snapshot rebuild starts there.
	minAffected time.Time
	aborted     bool
}

func (r *syncRun) record(step string, inserted int, err error) {
	result := models.SyncStepResult{Step: step, Inserted: inserted}
	if err != nil {
		result.Error = err.Error()
		if types.IsUnauthorized(err) {
			r.aborted = true
		}
	}
	r.report.Steps = append(r.report.Steps, result)
	r.report.Inserted += inserted
}

func (r *syncRun) errorSummary() string {
	var msgs []string
	for _, step := range r.report.Steps {
		if step.Error != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s", step.Step, step.Error))
		}
	}
	return strings.Join(msgs, "; ")
}

func (r *syncRun) execute(ctx context.Context) {
	steps := []struct {
		name string
		fn   func(context.Context) (int, error)
	}{
		{"balances", r.syncBalances},
		{"prices", r.syncPrices},
		{"trades", r.syncTrades},
		{"deposits", r.syncDeposits},
		{"withdrawals", r.syncWithdrawals},
		{"fiat_deposits", r.syncFiatDeposits},
		{"fiat_withdrawals", r.syncFiatWithdrawals},
		{"converts", r.syncConverts},
		{"interest", r.syncInterest},
		{"usd_enrichment", r.enrichUSDValues},
		{"rebuild", r.rebuild},
	}

	for _, step := range steps {
		if r.aborted || ctx.Err() != nil {
			return
		}
		inserted, err := step.fn(ctx)
		r.record(step.name, inserted, err)
	}
}

func (r *syncRun) deps() *SyncDeps { return &r.service.deps }

func (r *syncRun) historyStart() time.Time {
	return time.UnixMilli(r.deps().Config.HistoryStartMs).UTC()
}

// timeCursor returns the start of the fetch window for the given kinds:
// just behind the newest ingested row, or the start of history.
func (r *syncRun) timeCursor(ctx context.Context, kinds []types.TransactionKind) (int64, error) {
	last, err := r.deps().Transactions.LastExecutedAt(ctx, r.account.ID, kinds)
	if err != nil {
		return 0, err
	}
	if last.IsZero() {
		return r.deps().Config.HistoryStartMs, nil
	}
	start := last.Add(-cursorOverlap)
	if earliest := r.historyStart(); start.Before(earliest) {
		start = earliest
	}
	return start.UnixMilli(), nil
}

// noteAffected widens the snapshot rebuild window to cover the batch.
func (r *syncRun) noteAffected(txns []models.Transaction) {
	for i := range txns {
		at := txns[i].ExecutedAt
		if r.minAffected.IsZero() || at.Before(r.minAffected) {
			r.minAffected = at
		}
	}
}

// upsert stores a batch and tracks the rebuild window when rows landed.
func (r *syncRun) upsert(ctx context.Context, txns []models.Transaction) (int, error) {
	inserted, err := r.deps().Transactions.Upsert(ctx, txns)
	if err != nil {
		return inserted, err
	}
	if inserted > 0 {
		r.noteAffected(txns)
	}
	return inserted, nil
}

func (r *syncRun) syncBalances(ctx context.Context) (int, error) {
	info, err := r.exchange.GetAccount(ctx)
	if err != nil {
		return 0, err
	}

	capturedAt := r.service.now().UTC()
	balances := make([]models.BalanceSnapshot, 0, len(info.Balances))
	for _, b := range info.Balances {
		if b.Free.IsZero() && b.Locked.IsZero() {
			continue
		}
		balances = append(balances, models.BalanceSnapshot{
			AccountID:  r.account.ID,
			Asset:      b.Asset,
			Free:       b.Free,
			Locked:     b.Locked,
			CapturedAt: capturedAt,
		})
	}

	if err := r.deps().Balances.ReplaceForAccount(ctx, r.account.ID, balances); err != nil {
		return 0, err
	}
	return len(balances), nil
}

func (r *syncRun) syncPrices(ctx context.Context) (int, error) {
	total := 0
	for _, symbol := range r.deps().Config.PriceSymbols {
		n, err := r.syncSymbolKlines(ctx, symbol)
		total += n
		if err != nil {
			return total, fmt.Errorf("klines %s: %w", symbol, err)
		}

		ticker, err := r.exchange.GetTickerPrice(ctx, symbol)
		if err != nil {
			return total, fmt.Errorf("ticker %s: %w", symbol, err)
		}
		if r.deps().Cache != nil {
			if err := r.deps().Cache.SetSpotPrice(ctx, symbol, ticker.Price); err != nil {
				logging.FromContext(ctx).WithError(err).Warn("Failed to cache spot price")
			}
		}
	}
	return total, nil
}

// syncSymbolKlines extends one daily series from its newest stored bar. The
// newest bar is re-fetched: its candle was still open last time.
func (r *syncRun) syncSymbolKlines(ctx context.Context, symbol string) (int, error) {
	latest, err := r.deps().Prices.LatestOpenAt(ctx, symbol, types.Interval1d)
	if err != nil {
		return 0, err
	}

	start := r.deps().Config.HistoryStartMs
	if !latest.IsZero() {
		start = latest.UnixMilli()
	}

	total := 0
	for {
		klines, err := r.exchange.GetKlines(ctx, symbol, string(types.Interval1d), start, 0, 1000)
		if err != nil {
			return total, err
		}
		if len(klines) == 0 {
			return total, nil
		}

		if err := r.deps().Prices.Upsert(ctx, mapKlines(symbol, types.Interval1d, klines)); err != nil {
			return total, err
		}
		total += len(klines)

		if len(klines) < 1000 {
			return total, nil
		}
		start = klines[len(klines)-1].OpenTime + 1
	}
}

func (r *syncRun) syncTrades(ctx context.Context) (int, error) {
	total := 0
	for _, symbol := range r.deps().Config.TradeSymbols {
		lastID, err := r.deps().Transactions.LastTradeID(ctx, r.account.ID, symbol)
		if err != nil {
			return total, err
		}

		var fills []binance.Trade
		if lastID > 0 {
			fills, err = r.exchange.AllTrades(ctx, symbol, lastID+1)
		} else {
			fills, err = r.exchange.AllTradesByTime(ctx, symbol, r.deps().Config.HistoryStartMs)
		}
		if err != nil {
			return total, fmt.Errorf("trades %s: %w", symbol, err)
		}

		txns := make([]models.Transaction, 0, len(fills))
		for i := range fills {
			tx, err := mapTrade(r.account.ID, symbol, &fills[i])
			if err != nil {
				return total, err
			}
			txns = append(txns, tx)
		}

		inserted, err := r.upsert(ctx, txns)
		total += inserted
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (r *syncRun) syncDeposits(ctx context.Context) (int, error) {
	start, err := r.timeCursor(ctx, []types.TransactionKind{types.KindDeposit})
	if err != nil {
		return 0, err
	}

	deposits, err := r.exchange.AllDeposits(ctx, start, r.service.now().UnixMilli())
	if err != nil {
		return 0, err
	}

	var txns []models.Transaction
	for i := range deposits {
		if deposits[i].Status != binance.DepositStatusCredited {
			continue
		}
		txns = append(txns, mapDeposit(r.account.ID, &deposits[i]))
	}
	return r.upsert(ctx, txns)
}

func (r *syncRun) syncWithdrawals(ctx context.Context) (int, error) {
	start, err := r.timeCursor(ctx, []types.TransactionKind{types.KindWithdrawal})
	if err != nil {
		return 0, err
	}

	withdrawals, err := r.exchange.AllWithdrawals(ctx, start, r.service.now().UnixMilli())
	if err != nil {
		return 0, err
	}

	var txns []models.Transaction
	for i := range withdrawals {
		if withdrawals[i].Status != binance.WithdrawalStatusCompleted {
			continue
		}
		tx, err := mapWithdrawal(r.account.ID, &withdrawals[i])
		if err != nil {
			logging.FromContext(ctx).WithError(err).Warn("Skipping malformed withdrawal record")
			continue
		}
		txns = append(txns, tx)
	}
	return r.upsert(ctx, txns)
}

func (r *syncRun) syncFiatDeposits(ctx context.Context) (int, error) {
	return r.syncFiat(ctx, binance.FiatTxTypeDeposit, types.KindDeposit)
}

func (r *syncRun) syncFiatWithdrawals(ctx context.Context) (int, error) {
	return r.syncFiat(ctx, binance.FiatTxTypeWithdrawal, types.KindWithdrawal)
}

func (r *syncRun) syncFiat(ctx context.Context, txType string, kind types.TransactionKind) (int, error) {
	start, err := r.timeCursor(ctx, []types.TransactionKind{kind})
	if err != nil {
		return 0, err
	}

	orders, err := r.exchange.AllFiatOrders(ctx, txType, start, r.service.now().UnixMilli())
	if err != nil {
		return 0, err
	}

	var txns []models.Transaction
	for i := range orders {
		if orders[i].Status != binance.FiatOrderStatusSuccessful {
			continue
		}
		txns = append(txns, mapFiatOrder(r.account.ID, txType, &orders[i]))
	}
	return r.upsert(ctx, txns)
}

func (r *syncRun) syncConverts(ctx context.Context) (int, error) {
	start, err := r.timeCursor(ctx, []types.TransactionKind{types.KindConvert})
	if err != nil {
		return 0, err
	}

	converts, err := r.exchange.AllConverts(ctx, start, r.service.now().UnixMilli())
	if err != nil {
		return 0, err
	}

	var txns []models.Transaction
	for i := range converts {
		if converts[i].OrderStatus != binance.ConvertStatusSuccess {
			continue
		}
		txns = append(txns, mapConvert(r.account.ID, &converts[i]))
	}
	return r.upsert(ctx, txns)
}

func (r *syncRun) syncInterest(ctx context.Context) (int, error) {
	start, err := r.timeCursor(ctx, []types.TransactionKind{types.KindInterest})
	if err != nil {
		return 0, err
	}

	rewards, err := r.exchange.AllInterest(ctx, start, r.service.now().UnixMilli())
	if err != nil {
		return 0, err
	}

	txns := make([]models.Transaction, 0, len(rewards))
	for i := range rewards {
		txns = append(txns, mapInterest(r.account.ID, &rewards[i]))
	}
	return r.upsert(ctx, txns)
}

// enrichUSDValues backfills valuations for rows from non-USD markets using
// daily closes. Rows whose series has no candle yet stay unvalued and are
// retried next run.
func (r *syncRun) enrichUSDValues(ctx context.Context) (int, error) {
	unvalued, err := r.deps().Transactions.ListUnvalued(ctx, r.account.ID)
	if err != nil {
		return 0, err
	}

	enriched := 0
	for i := range unvalued {
		tx := &unvalued[i]
		value, ok, err := r.valueInUSD(ctx, tx)
		if err != nil {
			return enriched, err
		}
		if !ok {
			continue
		}
		if err := r.deps().Transactions.SetUSDValue(ctx, tx.ID, value); err != nil {
			return enriched, err
		}
		enriched++
	}
	if enriched > 0 {
		r.noteAffected(unvalued)
	}
	return enriched, nil
}

// valueInUSD prices one transaction from daily closes. A cash quote leg
// (EUR trades) converts through its own USD series; everything else goes
// through the base asset's series.
func (r *syncRun) valueInUSD(ctx context.Context, tx *models.Transaction) (decimal.Decimal, bool, error) {
	symbol := tx.BaseAsset + "USDT"
	amount := tx.Quantity
	if tx.QuoteAsset != "" && types.IsCashAsset(tx.QuoteAsset) && !types.USDQuoteAssets[tx.QuoteAsset] {
		symbol = tx.QuoteAsset + "USDT"
		amount = tx.QuoteAmount()
	}

	close, err := r.deps().Prices.CloseAt(ctx, symbol, types.Interval1d, tx.ExecutedAt)
	if err != nil {
		if errors.Is(err, storage.ErrNoPriceBar) {
			return decimal.Zero, false, nil
		}
		return decimal.Zero, false, err
	}
	return amount.Mul(close), true, nil
}

// rebuild replays the full history into the lot cache and recomputes daily
// snapshots from the earliest affected day through today.
func (r *syncRun) rebuild(ctx context.Context) (int, error) {
	txns, err := r.deps().Transactions.ListByAccount(ctx, r.account.ID)
	if err != nil {
		return 0, err
	}

	eurUSD := func(at time.Time) decimal.Decimal {
		rate, err := r.deps().Prices.CloseAt(ctx, "EURUSDT", types.Interval1d, at)
		if err != nil {
			return decimal.Zero
		}
		return rate
	}

	result := accounting.Compute(txns, types.MethodFIFO, eurUSD)

	var lots []models.Lot
	for _, assetLots := range result.OpenLots {
		for _, lot := range assetLots {
			lots = append(lots, models.Lot{
				AccountID:   r.account.ID,
				Asset:       lot.Asset,
				Quantity:    lot.Quantity,
				UnitCostUSD: lot.UnitCostUSD,
				UnitCostEUR: lot.UnitCostEUR,
				AcquiredAt:  lot.AcquiredAt,
			})
		}
	}
	if err := r.deps().Lots.ReplaceForAccount(ctx, r.account.ID, lots); err != nil {
		return 0, err
	}

	if result.NegativePositions > 0 {
		logging.FromContext(ctx).WithField("oversells", result.NegativePositions).
			Warn("Replay hit disposals exceeding open positions; history looks incomplete")
		if err := r.deps().Accounts.SetNeedsBackfill(ctx, r.account.ID, true); err != nil {
			return 0, err
		}
	}

	today := truncateDay(r.service.now().UTC())
	from := today
	if !r.minAffected.IsZero() && r.minAffected.Before(from) {
		from = truncateDay(r.minAffected)
	}

	snapshots, err := r.service.builder.BuildRange(ctx, r.account.ID, txns, from, today)
	if err != nil {
		return 0, err
	}
	if err := r.deps().Snapshots.ReplaceRange(ctx, r.account.ID, from, today, snapshots); err != nil {
		return 0, err
	}
	return len(snapshots), nil
}
