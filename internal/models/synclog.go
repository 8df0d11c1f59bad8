package models

import (
	"encoding/json"
	"time"
)

const (
	SyncStatusInProgress = "in_progress"
	SyncStatusSuccess    = "success"
	SyncStatusPartial    = "partially_successful"
	SyncStatusFailed     = "failed"
)

// SyncLog is the run record for one invocation of a resource sync. Summary
// holds live progress while the run is in flight and the final counts once
// completed_at is set; the row is never mutated after that.
type SyncLog struct {
	ID           string          `json:"id" db:"id"`
	ConnectionID string          `json:"connection_id" db:"connection_id"`
	SyncType     string          `json:"sync_type" db:"sync_type"`
	Status       string          `json:"status" db:"status"`
	Summary      json.RawMessage `json:"summary,omitempty" db:"summary"`
	Logs         json.RawMessage `json:"logs,omitempty" db:"logs"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
