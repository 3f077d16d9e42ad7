package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-ledger/internal/types"
)

// Account represents an exchange account whose activity is mirrored into the
// ledger. API credentials are stored per account and are never serialized.
type Account struct {
	ID            uuid.UUID        `json:"id" db:"id"`
	Name          string           `json:"name" db:"name"`
	APIKey        string           `json:"-" db:"api_key"`
	APISecret     string           `json:"-" db:"api_secret"`
	SyncStatus    types.SyncStatus `json:"syncStatus" db:"sync_status"`
	SyncError     *string          `json:"syncError,omitempty" db:"sync_error"`
	LastSyncAt    *time.Time       `json:"lastSyncAt,omitempty" db:"last_sync_at"`
	NeedsBackfill bool             `json:"needsBackfill" db:"needs_backfill"`
	CreatedAt     time.Time        `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time        `json:"updatedAt" db:"updated_at"`
}
