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
	"github.com/portfolio-ledger/internal/types"
)

// ErrNoSyncLog is returned when an account has no sync history.
var ErrNoSyncLog = errors.New("no sync log found")

// SyncLogRepository handles the append-only sync run log.
type SyncLogRepository struct {
	db *PostgresDB
}

// NewSyncLogRepository creates a new sync log repository
func NewSyncLogRepository(db *PostgresDB) *SyncLogRepository {
	return &SyncLogRepository{db: db}
}

// Create records the start of a sync run.
func (r *SyncLogRepository) Create(ctx context.Context, log *models.SyncLog) error {
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now().UTC()
	}

	query := `INSERT INTO sync_logs (id, account_id, started_at, status) VALUES ($1, $2, $3, $4)`
	_, err := r.db.Pool().Exec(ctx, query, log.ID, log.AccountID, log.StartedAt, log.Status)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

// Finish records the outcome of a sync run.
func (r *SyncLogRepository) Finish(ctx context.Context, id uuid.UUID, status types.SyncStatus, steps []models.SyncStepResult, runErr *string) error {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return fmt.Errorf("failed to marshal sync steps: %w", err)
	}

	query := `
		UPDATE sync_logs
		SET finished_at = NOW(), status = $2, steps = $3, error = $4
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, status, stepsJSON, runErr)
	if err != nil {
		return fmt.Errorf("failed to finish sync log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoSyncLog
	}
	return nil
}

const syncLogColumns = `id, account_id, started_at, finished_at, status, steps, error`

func scanSyncLog(row pgx.Row) (*models.SyncLog, error) {
	var log models.SyncLog
	var steps []byte
	if err := row.Scan(&log.ID, &log.AccountID, &log.StartedAt, &log.FinishedAt,
		&log.Status, &steps, &log.Error); err != nil {
		return nil, err
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &log.Steps); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sync steps: %w", err)
		}
	}
	return &log, nil
}

// Latest retrieves the account's most recent sync run.
func (r *SyncLogRepository) Latest(ctx context.Context, accountID uuid.UUID) (*models.SyncLog, error) {
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs
		WHERE account_id = $1 ORDER BY started_at DESC LIMIT 1`

	log, err := scanSyncLog(r.db.Pool().QueryRow(ctx, query, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSyncLog
		}
		return nil, fmt.Errorf("failed to get latest sync log: %w", err)
	}
	return log, nil
}

// ListRecent retrieves the account's most recent runs, newest first.
func (r *SyncLogRepository) ListRecent(ctx context.Context, accountID uuid.UUID, limit int) ([]models.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + syncLogColumns + ` FROM sync_logs
		WHERE account_id = $1 ORDER BY started_at DESC LIMIT $2`

	rows, err := r.db.Pool().Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []models.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log: %w", err)
		}
		logs = append(logs, *log)
	}
	return logs, rows.Err()
}
