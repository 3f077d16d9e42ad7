package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/accounting"
	"github.com/portfolio-ledger/internal/analytics"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/storage"
	"github.com/portfolio-ledger/internal/types"
)

// Overview is the dashboard headline: current value against deployed
// capital, in both reporting currencies.
type Overview struct {
	AccountID        uuid.UUID        `json:"accountId"`
	TotalValueUSD    decimal.Decimal  `json:"totalValueUsd"`
	TotalValueEUR    decimal.Decimal  `json:"totalValueEur"`
	InvestedUSD      decimal.Decimal  `json:"investedUsd"`
	RealizedPnLUSD   decimal.Decimal  `json:"realizedPnlUsd"`
	UnrealizedPnLUSD decimal.Decimal  `json:"unrealizedPnlUsd"`
	ROI              *decimal.Decimal `json:"roi,omitempty"`
	XIRR             *float64         `json:"xirr,omitempty"`
	SnapshotDate     *time.Time       `json:"snapshotDate,omitempty"`
	LastSyncAt       *time.Time       `json:"lastSyncAt,omitempty"`
	SyncStatus       types.SyncStatus `json:"syncStatus"`
	NeedsBackfill    bool             `json:"needsBackfill"`
}

// AssetMetrics is one asset's position with entry and market pricing.
type AssetMetrics struct {
	Asset            string          `json:"asset"`
	Quantity         decimal.Decimal `json:"quantity"`
	AvgEntryUSD      decimal.Decimal `json:"avgEntryUsd"`
	CurrentPriceUSD  decimal.Decimal `json:"currentPriceUsd"`
	ValueUSD         decimal.Decimal `json:"valueUsd"`
	CostBasisUSD     decimal.Decimal `json:"costBasisUsd"`
	UnrealizedPnLUSD decimal.Decimal `json:"unrealizedPnlUsd"`
}

// PerformancePoint is one day of the value series.
type PerformancePoint struct {
	Date           time.Time       `json:"date"`
	TotalValueUSD  decimal.Decimal `json:"totalValueUsd"`
	TotalValueEUR  decimal.Decimal `json:"totalValueEur"`
	InvestedUSD    decimal.Decimal `json:"investedUsd"`
	RealizedPnLUSD decimal.Decimal `json:"realizedPnlUsd"`
}

// Performance is the value series plus summary risk and return figures.
type Performance struct {
	AccountID   uuid.UUID          `json:"accountId"`
	From        time.Time          `json:"from"`
	To          time.Time          `json:"to"`
	Series      []PerformancePoint `json:"series"`
	MaxDrawdown analytics.Drawdown `json:"maxDrawdown"`
	XIRR        *float64           `json:"xirr,omitempty"`
}

// DCABuyEvent is one buy with the accumulation totals running up to it.
type DCABuyEvent struct {
	ExecutedAt         time.Time       `json:"executedAt"`
	Quantity           decimal.Decimal `json:"quantity"`
	CostUSD            decimal.Decimal `json:"costUsd"`
	CumulativeQuantity decimal.Decimal `json:"cumulativeQuantity"`
	CumulativeCostUSD  decimal.Decimal `json:"cumulativeCostUsd"`
	VWAPUSD            decimal.Decimal `json:"vwapUsd"`
}

// DCAAnalysis summarizes accumulation of one asset: the per-buy calendar
// with its running VWAP curve plus the aggregate entry figures.
type DCAAnalysis struct {
	Asset            string           `json:"asset"`
	BuyCount         int              `json:"buyCount"`
	TotalQuantity    decimal.Decimal  `json:"totalQuantity"`
	TotalInvestedUSD decimal.Decimal  `json:"totalInvestedUsd"`
	AvgEntryUSD      decimal.Decimal  `json:"avgEntryUsd"`
	CurrentPriceUSD  decimal.Decimal  `json:"currentPriceUsd"`
	ROI              *decimal.Decimal `json:"roi,omitempty"`
	Events           []DCABuyEvent    `json:"events"`
	FirstBuyAt       *time.Time       `json:"firstBuyAt,omitempty"`
	LastBuyAt        *time.Time       `json:"lastBuyAt,omitempty"`
}

// FiscalDisposal is one taxable disposal event.
type FiscalDisposal struct {
	Asset          string          `json:"asset"`
	Quantity       decimal.Decimal `json:"quantity"`
	ProceedsUSD    decimal.Decimal `json:"proceedsUsd"`
	CostUSD        decimal.Decimal `json:"costUsd"`
	RealizedPnLUSD decimal.Decimal `json:"realizedPnlUsd"`
	DisposedAt     time.Time       `json:"disposedAt"`
}

// FiscalReport is the realized result of one calendar year. Lots opened in
// any earlier year participate; only disposals of the year count.
type FiscalReport struct {
	Year           int                   `json:"year"`
	Method         types.CostBasisMethod `json:"method"`
	Disposals      []FiscalDisposal      `json:"disposals"`
	ProceedsUSD    decimal.Decimal       `json:"proceedsUsd"`
	CostUSD        decimal.Decimal       `json:"costUsd"`
	RealizedPnLUSD decimal.Decimal       `json:"realizedPnlUsd"`
}

// SyncState reports the account's sync status plus the latest run.
type SyncState struct {
	AccountID  uuid.UUID        `json:"accountId"`
	Status     types.SyncStatus `json:"status"`
	Error      *string          `json:"error,omitempty"`
	LastSyncAt *time.Time       `json:"lastSyncAt,omitempty"`
	LastRun    *models.SyncLog  `json:"lastRun,omitempty"`
}

// PortfolioService answers the read-side queries from stored data.
type PortfolioService struct {
	accounts  AccountStore
	txns      TransactionStore
	prices    PriceStore
	lots      LotStore
	snapshots SnapshotStore
	syncLogs  SyncLogStore
	cache     SpotCache
	now       func() time.Time
}

// PortfolioDeps wires the read services' dependencies.
type PortfolioDeps struct {
	Accounts     AccountStore
	Transactions TransactionStore
	Prices       PriceStore
	Lots         LotStore
	Snapshots    SnapshotStore
	SyncLogs     SyncLogStore
	Cache        SpotCache
	Now          func() time.Time
}

// NewPortfolioService creates the read-side service.
func NewPortfolioService(deps PortfolioDeps) *PortfolioService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &PortfolioService{
		accounts:  deps.Accounts,
		txns:      deps.Transactions,
		prices:    deps.Prices,
		lots:      deps.Lots,
		snapshots: deps.Snapshots,
		syncLogs:  deps.SyncLogs,
		cache:     deps.Cache,
		now:       now,
	}
}

// currentPriceUSD resolves an asset's live USD price: cached ticker first,
// latest stored daily close as fallback, zero when no series exists.
func (s *PortfolioService) currentPriceUSD(ctx context.Context, asset string) decimal.Decimal {
	if types.USDQuoteAssets[asset] {
		return decimal.NewFromInt(1)
	}

	symbol := asset + "USDT"
	if s.cache != nil {
		if price, err := s.cache.GetSpotPrice(ctx, symbol); err == nil {
			return price
		}
	}

	price, err := s.prices.CloseAt(ctx, symbol, types.Interval1d, s.now().UTC())
	if err != nil {
		return decimal.Zero
	}
	return price
}

// GetOverview builds the dashboard headline from the latest snapshot and
// account state.
func (s *PortfolioService) GetOverview(ctx context.Context, accountID uuid.UUID) (*Overview, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	overview := &Overview{
		AccountID:     accountID,
		SyncStatus:    account.SyncStatus,
		LastSyncAt:    account.LastSyncAt,
		NeedsBackfill: account.NeedsBackfill,
	}

	snapshot, err := s.snapshots.Latest(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNoSnapshot) {
			return overview, nil
		}
		return nil, err
	}

	overview.TotalValueUSD = snapshot.TotalValueUSD
	overview.TotalValueEUR = snapshot.TotalValueEUR
	overview.InvestedUSD = snapshot.InvestedUSD
	overview.RealizedPnLUSD = snapshot.RealizedPnLUSD
	overview.SnapshotDate = &snapshot.SnapshotDate

	// Unrealized P&L compares market value against the open cost basis.
	lots, err := s.lots.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	costBasis := decimal.Zero
	for i := range lots {
		costBasis = costBasis.Add(lots[i].Quantity.Mul(lots[i].UnitCostUSD))
	}
	overview.UnrealizedPnLUSD = snapshot.TotalValueUSD.Sub(costBasis)
	// Sale proceeds already sit in the valued cash positions, so realized
	// P&L must not be added on top of the total.
	overview.ROI = analytics.ROI(snapshot.TotalValueUSD, snapshot.InvestedUSD)

	if rate, ok := s.computeXIRR(ctx, accountID, []models.PortfolioSnapshot{*snapshot}); ok {
		overview.XIRR = &rate
	}

	return overview, nil
}

// ListAssets returns per-asset positions derived from the lot cache,
// priced at current market.
func (s *PortfolioService) ListAssets(ctx context.Context, accountID uuid.UUID) ([]AssetMetrics, error) {
	lots, err := s.lots.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	type position struct {
		quantity decimal.Decimal
		cost     decimal.Decimal
	}
	positions := make(map[string]*position)
	for i := range lots {
		lot := &lots[i]
		p, ok := positions[lot.Asset]
		if !ok {
			p = &position{quantity: decimal.Zero, cost: decimal.Zero}
			positions[lot.Asset] = p
		}
		p.quantity = p.quantity.Add(lot.Quantity)
		p.cost = p.cost.Add(lot.Quantity.Mul(lot.UnitCostUSD))
	}

	assets := make([]string, 0, len(positions))
	for asset := range positions {
		assets = append(assets, asset)
	}
	sort.Strings(assets)

	metrics := make([]AssetMetrics, 0, len(assets))
	for _, asset := range assets {
		p := positions[asset]
		if !p.quantity.IsPositive() {
			continue
		}

		price := s.currentPriceUSD(ctx, asset)
		value := p.quantity.Mul(price)
		metrics = append(metrics, AssetMetrics{
			Asset:            asset,
			Quantity:         p.quantity,
			AvgEntryUSD:      p.cost.Div(p.quantity),
			CurrentPriceUSD:  price,
			ValueUSD:         value,
			CostBasisUSD:     p.cost,
			UnrealizedPnLUSD: value.Sub(p.cost),
		})
	}
	return metrics, nil
}

// GetPerformance returns the daily value series for [from, to] with max
// drawdown and the money-weighted annual return.
func (s *PortfolioService) GetPerformance(ctx context.Context, accountID uuid.UUID, from, to time.Time) (*Performance, error) {
	if to.IsZero() {
		to = s.now().UTC()
	}
	if from.IsZero() {
		from = to.AddDate(-1, 0, 0)
	}
	if from.After(to) {
		return nil, &types.ServiceError{Code: "invalid_range", Message: "from must not be after to"}
	}

	snapshots, err := s.snapshots.Range(ctx, accountID, truncateDay(from), truncateDay(to))
	if err != nil {
		return nil, err
	}

	perf := &Performance{AccountID: accountID, From: truncateDay(from), To: truncateDay(to)}
	values := make([]analytics.ValuePoint, 0, len(snapshots))
	for i := range snapshots {
		snap := &snapshots[i]
		perf.Series = append(perf.Series, PerformancePoint{
			Date:           snap.SnapshotDate,
			TotalValueUSD:  snap.TotalValueUSD,
			TotalValueEUR:  snap.TotalValueEUR,
			InvestedUSD:    snap.InvestedUSD,
			RealizedPnLUSD: snap.RealizedPnLUSD,
		})
		values = append(values, analytics.ValuePoint{At: snap.SnapshotDate, Value: snap.TotalValueUSD})
	}
	perf.MaxDrawdown = analytics.MaxDrawdown(values)

	if rate, ok := s.computeXIRR(ctx, accountID, snapshots); ok {
		perf.XIRR = &rate
	}
	return perf, nil
}

// computeXIRR builds cash flows from cash movements (contributions
// negative, withdrawals positive) plus the final value as terminal flow.
func (s *PortfolioService) computeXIRR(ctx context.Context, accountID uuid.UUID, snapshots []models.PortfolioSnapshot) (float64, bool) {
	if len(snapshots) == 0 {
		return 0, false
	}

	txns, err := s.txns.ListByAccount(ctx, accountID)
	if err != nil {
		return 0, false
	}

	last := &snapshots[len(snapshots)-1]
	cutoff := last.SnapshotDate.AddDate(0, 0, 1)

	var flows []analytics.CashFlow
	for i := range txns {
		tx := &txns[i]
		if !tx.ExecutedAt.Before(cutoff) {
			continue
		}
		flow := cashFlowUSD(tx)
		if flow.IsZero() {
			continue
		}
		amount, _ := flow.Float64()
		flows = append(flows, analytics.CashFlow{At: tx.ExecutedAt, Amount: -amount})
	}

	final, _ := last.TotalValueUSD.Float64()
	flows = append(flows, analytics.CashFlow{At: last.SnapshotDate, Amount: final})

	return analytics.XIRR(flows)
}

// GetDCAAnalysis summarizes the buy history of one asset.
func (s *PortfolioService) GetDCAAnalysis(ctx context.Context, accountID uuid.UUID, asset string) (*DCAAnalysis, error) {
	txns, err := s.txns.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	analysis := &DCAAnalysis{Asset: asset}
	var buys []models.Transaction
	for i := range txns {
		tx := &txns[i]
		if tx.Kind != types.KindBuy || tx.BaseAsset != asset {
			continue
		}
		buys = append(buys, *tx)

		analysis.BuyCount++
		analysis.TotalQuantity = analysis.TotalQuantity.Add(tx.Quantity)
		if tx.USDValue != nil {
			analysis.TotalInvestedUSD = analysis.TotalInvestedUSD.Add(*tx.USDValue)
		}
		at := tx.ExecutedAt
		if analysis.FirstBuyAt == nil || at.Before(*analysis.FirstBuyAt) {
			t := at
			analysis.FirstBuyAt = &t
		}
		if analysis.LastBuyAt == nil || at.After(*analysis.LastBuyAt) {
			t := at
			analysis.LastBuyAt = &t
		}

		// Buys arrive in execution order, so the running totals trace the
		// VWAP curve over the accumulation calendar.
		event := DCABuyEvent{
			ExecutedAt: at,
			Quantity:   tx.Quantity,
		}
		if tx.USDValue != nil {
			event.CostUSD = *tx.USDValue
		}
		cum := analysis.TotalQuantity
		cumCost := analysis.TotalInvestedUSD
		event.CumulativeQuantity = cum
		event.CumulativeCostUSD = cumCost
		if cum.IsPositive() {
			event.VWAPUSD = cumCost.Div(cum)
		}
		analysis.Events = append(analysis.Events, event)
	}

	analysis.AvgEntryUSD = analytics.VWAP(buys)
	analysis.CurrentPriceUSD = s.currentPriceUSD(ctx, asset)
	if analysis.AvgEntryUSD.IsPositive() {
		analysis.ROI = analytics.ROI(analysis.CurrentPriceUSD, analysis.AvgEntryUSD)
	}
	return analysis, nil
}

// GetFiscalReport replays the full history with the requested method and
// reports the disposals realized in the given calendar year.
func (s *PortfolioService) GetFiscalReport(ctx context.Context, accountID uuid.UUID, year int, method types.CostBasisMethod) (*FiscalReport, error) {
	if method == "" {
		method = types.MethodFIFO
	}
	if method != types.MethodFIFO && method != types.MethodLIFO {
		return nil, &types.ServiceError{
			Code:    "invalid_method",
			Message: fmt.Sprintf("unknown cost basis method %q", method),
		}
	}

	txns, err := s.txns.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := accounting.Compute(txns, method, nil)

	report := &FiscalReport{Year: year, Method: method}
	for _, d := range result.DisposalsInYear(year) {
		report.Disposals = append(report.Disposals, FiscalDisposal{
			Asset:          d.Asset,
			Quantity:       d.Quantity,
			ProceedsUSD:    d.ProceedsUSD,
			CostUSD:        d.CostUSD,
			RealizedPnLUSD: d.RealizedPnLUSD,
			DisposedAt:     d.DisposedAt,
		})
		report.ProceedsUSD = report.ProceedsUSD.Add(d.ProceedsUSD)
		report.CostUSD = report.CostUSD.Add(d.CostUSD)
		report.RealizedPnLUSD = report.RealizedPnLUSD.Add(d.RealizedPnLUSD)
	}
	return report, nil
}

// GetSyncState reports the account's sync status and its latest run.
func (s *PortfolioService) GetSyncState(ctx context.Context, accountID uuid.UUID) (*SyncState, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	state := &SyncState{
		AccountID:  accountID,
		Status:     account.SyncStatus,
		Error:      account.SyncError,
		LastSyncAt: account.LastSyncAt,
	}

	lastRun, err := s.syncLogs.Latest(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNoSyncLog) {
			return state, nil
		}
		return nil, err
	}
	state.LastRun = lastRun
	return state, nil
}
