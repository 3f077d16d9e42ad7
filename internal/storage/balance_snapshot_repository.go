package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/portfolio-ledger/internal/models"
)

// BalanceSnapshotRepository stores the exchange-reported balances captured
// at sync time. Only the latest capture per account is kept.
type BalanceSnapshotRepository struct {
	db *PostgresDB
}

// NewBalanceSnapshotRepository creates a new balance snapshot repository
func NewBalanceSnapshotRepository(db *PostgresDB) *BalanceSnapshotRepository {
	return &BalanceSnapshotRepository{db: db}
}

// ReplaceForAccount swaps the account's balance rows in one transaction.
func (r *BalanceSnapshotRepository) ReplaceForAccount(ctx context.Context, accountID uuid.UUID, balances []models.BalanceSnapshot) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM balance_snapshots WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to clear balances: %w", err)
	}

	if len(balances) > 0 {
		rows := make([][]interface{}, 0, len(balances))
		for i := range balances {
			b := &balances[i]
			if b.ID == uuid.Nil {
				b.ID = uuid.New()
			}
			rows = append(rows, []interface{}{b.ID, accountID, b.Asset, b.Free, b.Locked, b.CapturedAt})
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"balance_snapshots"},
			[]string{"id", "account_id", "asset", "free", "locked", "captured_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy balances: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit balances: %w", err)
	}
	return nil
}

// ListByAccount retrieves the account's latest captured balances.
func (r *BalanceSnapshotRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.BalanceSnapshot, error) {
	query := `
		SELECT id, account_id, asset, free, locked, captured_at
		FROM balance_snapshots WHERE account_id = $1 ORDER BY asset
	`

	rows, err := r.db.Pool().Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list balances: %w", err)
	}
	defer rows.Close()

	var balances []models.BalanceSnapshot
	for rows.Next() {
		var b models.BalanceSnapshot
		if err := rows.Scan(&b.ID, &b.AccountID, &b.Asset, &b.Free, &b.Locked, &b.CapturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan balance: %w", err)
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}
