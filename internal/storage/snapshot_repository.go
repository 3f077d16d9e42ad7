package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/portfolio-ledger/internal/models"
)

// ErrNoSnapshot is returned when an account has no snapshots yet.
var ErrNoSnapshot = errors.New("no snapshot found")

// SnapshotRepository handles daily portfolio snapshot persistence
type SnapshotRepository struct {
	db *PostgresDB
}

// NewSnapshotRepository creates a new snapshot repository
func NewSnapshotRepository(db *PostgresDB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// ReplaceRange rewrites the account's snapshots for [from, to] in one
// transaction. Rebuilds hand in the full recomputed range.
func (r *SnapshotRepository) ReplaceRange(ctx context.Context, accountID uuid.UUID, from, to time.Time, snapshots []models.PortfolioSnapshot) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // rollback after commit is a no-op

	_, err = tx.Exec(ctx,
		`DELETE FROM portfolio_snapshots WHERE account_id = $1 AND snapshot_date BETWEEN $2 AND $3`,
		accountID, from, to,
	)
	if err != nil {
		return fmt.Errorf("failed to clear snapshot range: %w", err)
	}

	query := `
		INSERT INTO portfolio_snapshots (
			id, account_id, snapshot_date, total_value_usd, total_value_eur,
			invested_usd, realized_pnl_usd, holdings
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	batch := &pgx.Batch{}
	for i := range snapshots {
		s := &snapshots[i]
		if s.ID == uuid.Nil {
			s.ID = uuid.New()
		}
		holdings, err := json.Marshal(s.Holdings)
		if err != nil {
			return fmt.Errorf("failed to marshal holdings: %w", err)
		}
		batch.Queue(query, s.ID, accountID, s.SnapshotDate, s.TotalValueUSD,
			s.TotalValueEUR, s.InvestedUSD, s.RealizedPnLUSD, holdings)
	}

	results := tx.SendBatch(ctx, batch)
	for range snapshots {
		if _, err := results.Exec(); err != nil {
			results.Close() // nolint:errcheck
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshots: %w", err)
	}
	return nil
}

const snapshotColumns = `id, account_id, snapshot_date, total_value_usd, total_value_eur,
	invested_usd, realized_pnl_usd, holdings, created_at`

func scanSnapshot(row pgx.Row) (*models.PortfolioSnapshot, error) {
	var s models.PortfolioSnapshot
	var holdings []byte
	if err := row.Scan(&s.ID, &s.AccountID, &s.SnapshotDate, &s.TotalValueUSD,
		&s.TotalValueEUR, &s.InvestedUSD, &s.RealizedPnLUSD, &holdings, &s.CreatedAt); err != nil {
		return nil, err
	}
	if len(holdings) > 0 {
		if err := json.Unmarshal(holdings, &s.Holdings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal holdings: %w", err)
		}
	}
	return &s, nil
}

// Range retrieves snapshots with dates inside [from, to] in ascending order.
func (r *SnapshotRepository) Range(ctx context.Context, accountID uuid.UUID, from, to time.Time) ([]models.PortfolioSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM portfolio_snapshots
		WHERE account_id = $1 AND snapshot_date BETWEEN $2 AND $3
		ORDER BY snapshot_date`

	rows, err := r.db.Pool().Query(ctx, query, accountID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.PortfolioSnapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

// Latest retrieves the account's most recent snapshot.
func (r *SnapshotRepository) Latest(ctx context.Context, accountID uuid.UUID) (*models.PortfolioSnapshot, error) {
	query := `SELECT ` + snapshotColumns + ` FROM portfolio_snapshots
		WHERE account_id = $1 ORDER BY snapshot_date DESC LIMIT 1`

	s, err := scanSnapshot(r.db.Pool().QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}
	return s, nil
}

// EarliestDate returns the date of the oldest snapshot, or the zero time
// when none exist.
func (r *SnapshotRepository) EarliestDate(ctx context.Context, accountID uuid.UUID) (time.Time, error) {
	query := `SELECT MIN(snapshot_date) FROM portfolio_snapshots WHERE account_id = $1`

	var earliest *time.Time
	if err := r.db.Pool().QueryRow(ctx, query, accountID).Scan(&earliest); err != nil {
		return time.Time{}, fmt.Errorf("failed to get earliest snapshot date: %w", err)
	}
	if earliest == nil {
		return time.Time{}, nil
	}
	return *earliest, nil
}
