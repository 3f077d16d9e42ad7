package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/portfolio-ledger/internal/types"
)

// SyncStepResult records the outcome of one step of a sync run. A failed
// step carries its error; later steps still run.
type SyncStepResult struct {
	Step     string `json:"step"`
	Inserted int    `json:"inserted"`
	Error    string `json:"error,omitempty"`
}

// SyncLog is the append-only record of one sync run against an account.
type SyncLog struct {
	ID         uuid.UUID        `json:"id" db:"id"`
	AccountID  uuid.UUID        `json:"accountId" db:"account_id"`
	StartedAt  time.Time        `json:"startedAt" db:"started_at"`
	FinishedAt *time.Time       `json:"finishedAt,omitempty" db:"finished_at"`
	Status     types.SyncStatus `json:"status" db:"status"`
	Steps      []SyncStepResult `json:"steps" db:"steps"`
	Error      *string          `json:"error,omitempty" db:"error"`
}
