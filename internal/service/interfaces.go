// Package service contains the ingestion pipeline and the portfolio read
// services. Dependencies are narrow interfaces so the pipeline is testable
// against fakes.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/binance"
	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// Exchange is the slice of the exchange client the pipeline consumes.
// *binance.Client satisfies it.
type Exchange interface {
	GetAccount(ctx context.Context) (*binance.AccountInfo, error)
	AllTrades(ctx context.Context, symbol string, fromID int64) ([]binance.Trade, error)
	AllTradesByTime(ctx context.Context, symbol string, startTime int64) ([]binance.Trade, error)
	AllDeposits(ctx context.Context, startTime, endTime int64) ([]binance.Deposit, error)
	AllWithdrawals(ctx context.Context, startTime, endTime int64) ([]binance.Withdrawal, error)
	AllFiatOrders(ctx context.Context, txType string, beginTime, endTime int64) ([]binance.FiatOrder, error)
	AllConverts(ctx context.Context, startTime, endTime int64) ([]binance.Convert, error)
	AllInterest(ctx context.Context, startTime, endTime int64) ([]binance.InterestReward, error)
	GetKlines(ctx context.Context, symbol, interval string, startTime, endTime int64, limit int) ([]binance.Kline, error)
	GetTickerPrice(ctx context.Context, symbol string) (*binance.TickerPrice, error)
}

// ExchangeFactory builds an exchange client from an account's credentials.
type ExchangeFactory func(account *models.Account) (Exchange, error)

// AccountStore is the account persistence the services need.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
	UpdateSyncStatus(ctx context.Context, id uuid.UUID, status types.SyncStatus, syncErr *string, lastSyncAt *time.Time) error
	SetNeedsBackfill(ctx context.Context, id uuid.UUID, needs bool) error
}

// TransactionStore is the transaction persistence the services need.
type TransactionStore interface {
	Upsert(ctx context.Context, txns []models.Transaction) (int, error)
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Transaction, error)
	LastTradeID(ctx context.Context, accountID uuid.UUID, symbol string) (int64, error)
	LastExecutedAt(ctx context.Context, accountID uuid.UUID, kinds []types.TransactionKind) (time.Time, error)
	ListUnvalued(ctx context.Context, accountID uuid.UUID) ([]models.Transaction, error)
	SetUSDValue(ctx context.Context, id uuid.UUID, value decimal.Decimal) error
}

// PriceStore is the candle persistence the services need.
type PriceStore interface {
	Upsert(ctx context.Context, bars []models.PriceBar) error
	Range(ctx context.Context, symbol string, interval types.PriceInterval, from, to time.Time) ([]models.PriceBar, error)
	CloseAt(ctx context.Context, symbol string, interval types.PriceInterval, at time.Time) (decimal.Decimal, error)
	LatestOpenAt(ctx context.Context, symbol string, interval types.PriceInterval) (time.Time, error)
}

// LotStore caches the fold's open lots.
type LotStore interface {
	ReplaceForAccount(ctx context.Context, accountID uuid.UUID, lots []models.Lot) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Lot, error)
}

// SnapshotStore is the snapshot persistence the services need.
type SnapshotStore interface {
	ReplaceRange(ctx context.Context, accountID uuid.UUID, from, to time.Time, snapshots []models.PortfolioSnapshot) error
	Range(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]models.PortfolioSnapshot, error)
	Latest(ctx context.Context, accountID uuid.UUID) (*models.PortfolioSnapshot, error)
}

// SyncLogStore records sync runs.
type SyncLogStore interface {
	Create(ctx context.Context, log *models.SyncLog) error
	Finish(ctx context.Context, id uuid.UUID, status types.SyncStatus, steps []models.SyncStepResult, runErr *string) error
	Latest(ctx context.Context, accountID uuid.UUID) (*models.SyncLog, error)
}

// BalanceStore keeps the latest exchange-reported balances.
type BalanceStore interface {
	ReplaceForAccount(ctx context.Context, accountID uuid.UUID, balances []models.BalanceSnapshot) error
	ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.BalanceSnapshot, error)
}

// SpotCache caches current prices and invalidates rendered dashboards.
type SpotCache interface {
	SetSpotPrice(ctx context.Context, symbol string, price decimal.Decimal) error
	GetSpotPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	InvalidateOverview(ctx context.Context, accountID string) error
}
