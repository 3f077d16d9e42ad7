package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/portfolio-ledger/internal/models"
)

// LotRepository caches the open lots produced by the accounting fold. The
// table is derived data: a replace rewrites the account's rows atomically.
type LotRepository struct {
	db *PostgresDB
}

// NewLotRepository creates a new lot repository
func NewLotRepository(db *PostgresDB) *LotRepository {
	return &LotRepository{db: db}
}

// ReplaceForAccount swaps the account's cached lots inside one transaction.
func (r *LotRepository) ReplaceForAccount(ctx context.Context, accountID uuid.UUID, lots []models.Lot) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.Exec(ctx, `DELETE FROM lots WHERE account_id = $1`, accountID); err != nil {
		return fmt.Errorf("failed to clear lots: %w", err)
	}

	if len(lots) > 0 {
		rows := make([][]interface{}, 0, len(lots))
		for i := range lots {
			lot := &lots[i]
			if lot.ID == uuid.Nil {
				lot.ID = uuid.New()
			}
			rows = append(rows, []interface{}{
				lot.ID, accountID, lot.Asset, lot.Quantity,
				lot.UnitCostUSD, lot.UnitCostEUR, lot.AcquiredAt,
			})
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"lots"},
			[]string{"id", "account_id", "asset", "quantity", "unit_cost_usd", "unit_cost_eur", "acquired_at"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("failed to copy lots: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit lots: %w", err)
	}
	return nil
}

// ListByAccount retrieves the account's open lots in acquisition order.
func (r *LotRepository) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]models.Lot, error) {
	query := `
		SELECT id, account_id, asset, quantity, unit_cost_usd, unit_cost_eur, acquired_at
		FROM lots WHERE account_id = $1 ORDER BY asset, acquired_at
	`

	rows, err := r.db.Pool().Query(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list lots: %w", err)
	}
	defer rows.Close()

	var lots []models.Lot
	for rows.Next() {
		var lot models.Lot
		if err := rows.Scan(&lot.ID, &lot.AccountID, &lot.Asset, &lot.Quantity,
			&lot.UnitCostUSD, &lot.UnitCostEUR, &lot.AcquiredAt); err != nil {
			return nil, fmt.Errorf("failed to scan lot: %w", err)
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}
