package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/portfolio-ledger/internal/models"
	"github.com/portfolio-ledger/internal/types"
)

// ErrAccountNotFound is returned when an account lookup finds no row.
var ErrAccountNotFound = errors.New("account not found")

// AccountRepository handles account persistence
type AccountRepository struct {
	db *PostgresDB
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *PostgresDB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, name, api_key, api_secret, sync_status, sync_error,
	last_sync_at, needs_backfill, created_at, updated_at`

// Create inserts a new account
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	if account.SyncStatus == "" {
		account.SyncStatus = types.SyncIdle
	}

	query := `
		INSERT INTO accounts (id, name, api_key, api_secret, sync_status, needs_backfill)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Pool().Exec(ctx, query,
		account.ID, account.Name, account.APIKey, account.APISecret,
		account.SyncStatus, account.NeedsBackfill,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by its ID
func (r *AccountRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	var account models.Account
	err := r.db.Pool().QueryRow(ctx, query, id).Scan(
		&account.ID, &account.Name, &account.APIKey, &account.APISecret,
		&account.SyncStatus, &account.SyncError, &account.LastSyncAt,
		&account.NeedsBackfill, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// List retrieves all accounts ordered by creation time
func (r *AccountRepository) List(ctx context.Context) ([]models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts ORDER BY created_at`

	rows, err := r.db.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var account models.Account
		if err := rows.Scan(
			&account.ID, &account.Name, &account.APIKey, &account.APISecret,
			&account.SyncStatus, &account.SyncError, &account.LastSyncAt,
			&account.NeedsBackfill, &account.CreatedAt, &account.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// UpdateSyncStatus updates the account's sync state after a run.
func (r *AccountRepository) UpdateSyncStatus(ctx context.Context, id uuid.UUID, status types.SyncStatus, syncErr *string, lastSyncAt *time.Time) error {
	query := `
		UPDATE accounts
		SET sync_status = $2, sync_error = $3,
			last_sync_at = COALESCE($4, last_sync_at),
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query, id, status, syncErr, lastSyncAt)
	if err != nil {
		return fmt.Errorf("failed to update sync status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// SetNeedsBackfill flags the account when replay detects missing history.
func (r *AccountRepository) SetNeedsBackfill(ctx context.Context, id uuid.UUID, needs bool) error {
	query := `UPDATE accounts SET needs_backfill = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Pool().Exec(ctx, query, id, needs)
	if err != nil {
		return fmt.Errorf("failed to set needs_backfill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
