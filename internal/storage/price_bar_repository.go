package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// ErrNoPriceBar is returned when no bar covers the requested time.
var ErrNoPriceBar = errors.New("no price bar found")

// PriceBarRepository handles OHLCV candle persistence
type PriceBarRepository struct {
	db *PostgresDB
}

// NewPriceBarRepository creates a new price bar repository
func NewPriceBarRepository(db *PostgresDB) *PriceBarRepository {
	return &PriceBarRepository{db: db}
}

// Upsert inserts bars, replacing any existing candle for the same
// (symbol, interval, open time). Re-ingested candles win: the exchange may
// revise the still-open bar of the current period.
func (r *PriceBarRepository) Upsert(ctx context.Context, bars []models.PriceBar) error {
	if len(bars) == 0 {
		return nil
	}

	query := `
		INSERT INTO price_bars (symbol, interval, open_at, open, high, low, close, volume)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (symbol, interval, open_at) DO UPDATE SET
			open = EXCLUDED.open, high = EXCLUDED.high,
			low = EXCLUDED.low, close = EXCLUDED.close,
			volume = EXCLUDED.volume
	`

	batch := &pgx.Batch{}
	for i := range bars {
		b := &bars[i]
		batch.Queue(query, b.Symbol, b.Interval, b.OpenAt, b.Open, b.High, b.Low, b.Close, b.Volume)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	for range bars {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("failed to upsert price bar: %w", err)
		}
	}
	return nil
}

// Range retrieves bars with open times inside [from, to] in ascending order.
func (r *PriceBarRepository) Range(ctx context.Context, symbol string, interval types.PriceInterval, from, to time.Time) ([]models.PriceBar, error) {
	query := `
		SELECT symbol, interval, open_at, open, high, low, close, volume
		FROM price_bars
		WHERE symbol = $1 AND interval = $2 AND open_at BETWEEN $3 AND $4
		ORDER BY open_at
	`

	rows, err := r.db.Pool().Query(ctx, query, symbol, interval, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query price bars: %w", err)
	}
	defer rows.Close()

	var bars []models.PriceBar
	for rows.Next() {
		var b models.PriceBar
		if err := rows.Scan(&b.Symbol, &b.Interval, &b.OpenAt, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan price bar: %w", err)
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// CloseAt returns the close of the latest bar opening at or before the
// given time. Historical valuations read daily closes through this.
func (r *PriceBarRepository) CloseAt(ctx context.Context, symbol string, interval types.PriceInterval, at time.Time) (decimal.Decimal, error) {
	query := `
		SELECT close FROM price_bars
		WHERE symbol = $1 AND interval = $2 AND open_at <= $3
		ORDER BY open_at DESC LIMIT 1
	`

	var close decimal.Decimal
	err := r.db.Pool().QueryRow(ctx, query, symbol, interval, at).Scan(&close)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrNoPriceBar
		}
		return decimal.Zero, fmt.Errorf("failed to get close price: %w", err)
	}
	return close, nil
}

// LatestOpenAt returns the open time of the newest stored bar, or the zero
// time when the series is empty. This is the price ingestion cursor.
func (r *PriceBarRepository) LatestOpenAt(ctx context.Context, symbol string, interval types.PriceInterval) (time.Time, error) {
	query := `SELECT MAX(open_at) FROM price_bars WHERE symbol = $1 AND interval = $2`

	var latest *time.Time
	if err := r.db.Pool().QueryRow(ctx, query, symbol, interval).Scan(&latest); err != nil {
		return time.Time{}, fmt.Errorf("failed to get latest bar time: %w", err)
	}
	if latest == nil {
		return time.Time{}, nil
	}
	return *latest, nil
}
