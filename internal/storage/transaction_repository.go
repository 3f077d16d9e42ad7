package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// TransactionRepository handles transaction persistence
type TransactionRepository struct {
	db *PostgresDB
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *PostgresDB) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `id, account_id, external_id, kind, base_asset, quote_asset,
	symbol, trade_id, quantity, price, fee, fee_asset, usd_value, executed_at, raw, created_at`

// Upsert inserts transactions, skipping rows whose (account, external id)
// pair already exists. Re-ingesting an overlapping window is a no-op.
// Returns the number of rows actually inserted.
func (r *TransactionRepository) Upsert(ctx context.Context, txns []models.Transaction) (int, error) {
	if len(txns) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO transactions (
			id, account_id, external_id, kind, base_asset, quote_asset,
			symbol, trade_id, quantity, price, fee, fee_asset, usd_value,
			executed_at, raw
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (account_id, external_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for i := range txns {
		tx := &txns[i]
		if tx.ID == uuid.Nil {
			tx.ID = uuid.New()
		}
		batch.Queue(query,
			tx.ID, tx.AccountID, tx.ExternalID, tx.Kind, tx.BaseAsset, tx.QuoteAsset,
			tx.Symbol, tx.TradeID, tx.Quantity, tx.Price, tx.Fee, tx.FeeAsset,
			tx.USDValue, tx.ExecutedAt, tx.Raw,
		)
	}

	results := r.db.Pool().SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range txns {
		tag, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("failed to upsert transaction: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *TransactionRepository) scanRows(rows pgx.Rows) ([]models.Transaction, error) {
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err := rows.Scan(
			&tx.ID, &tx.AccountID, &tx.ExternalID, &tx.Kind, &tx.BaseAsset, &tx.QuoteAsset,
			&tx.Symbol, &tx.TradeID, &tx.Quantity, &tx.Price, &tx.Fee, &tx.FeeAsset,
			&tx.USDValue, &tx.ExecutedAt, &tx.Raw, &tx.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		txns = append(txns, tx)
	}
	return txns, rows.Err()
}

// ListByAccount retrieves an account's transactions in execution order.
func (r *TransactionRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = $1 ORDER BY executed_at, external_id`

	rows, err := r.db.Pool().Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return r.scanRows(rows)
}

// ListByAccountUntil retrieves transactions executed strictly before the cutoff.
func (r *TransactionRepository) ListByAccountUntil(ctx context.Context, accountID uuid.UUID, until time.Time) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = $1 AND executed_at < $2 ORDER BY executed_at, external_id`

	rows, err := r.db.Pool().Query(ctx, query, accountID, until)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	return r.scanRows(rows)
}

// LastTradeID returns the highest ingested trade ID for a symbol, or zero
// when the symbol has no trades yet. This is the per-symbol sync cursor.
func (r *TransactionRepository) LastTradeID(ctx context.Context, accountID uuid.UUID, symbol string) (int64, error) {
	query := `SELECT COALESCE(MAX(trade_id), 0) FROM transactions
		WHERE account_id = $1 AND symbol = $2 AND trade_id IS NOT NULL`

	var lastID int64
	if err := r.db.Pool().QueryRow(ctx, query, accountID, symbol).Scan(&lastID); err != nil {
		return 0, fmt.Errorf("failed to get last trade id: %w", err)
	}
	return lastID, nil
}

// LastExecutedAt returns the most recent execution time among the given
// kinds, or the zero time when none exist. This is the time-based cursor
// for transfer-style entities.
func (r *TransactionRepository) LastExecutedAt(ctx context.Context, accountID uuid.UUID, kinds []types.TransactionKind) (time.Time, error) {
	query := `SELECT MAX(executed_at) FROM transactions
		WHERE account_id = $1 AND kind = ANY($2)`

	var last *time.Time
	if err := r.db.Pool().QueryRow(ctx, query, accountID, kinds).Scan(&last); err != nil {
		return time.Time{}, fmt.Errorf("failed to get last executed_at: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// ListUnvalued retrieves transactions that still lack a USD valuation.
func (r *TransactionRepository) ListUnvalued(ctx context.Context, accountID uuid.UUID) ([]models.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE account_id = $1 AND usd_value IS NULL ORDER BY executed_at`

	rows, err := r.db.Pool().Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list unvalued transactions: %w", err)
	}
	return r.scanRows(rows)
}

// SetUSDValue backfills the USD valuation of one transaction.
func (r *TransactionRepository) SetUSDValue(ctx context.Context, id uuid.UUID, value decimal.Decimal) error {
	query := `UPDATE transactions SET usd_value = $2 WHERE id = $1`
	tag, err := r.db.Pool().Exec(ctx, query, id, value)
	if err != nil {
		return fmt.Errorf("failed to set usd value: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("transaction not found")
	}
	return nil
}
