package models

import (
	"encoding/json"
	"time"
)

const (
	FrequencyDaily    = "daily"
	FrequencyEvery6h  = "every_6h"
	FrequencyEvery12h = "every_12h"
	FrequencyWeekly   = "weekly"
)

// SyncSchedule configures the recurring full sync for one connection. At
// most one schedule exists per connection. NextRunAt is recomputed after
// every run, scheduled or manual.
type SyncSchedule struct {
	ID             string          `json:"id" db:"id"`
	ConnectionID   string          `json:"connection_id" db:"connection_id"`
	Enabled        bool            `json:"enabled" db:"enabled"`
	Frequency      string          `json:"frequency" db:"frequency"`
	Hour           int             `json:"hour" db:"hour"`
	Minute         int             `json:"minute" db:"minute"`
	DayOfWeek      int             `json:"day_of_week" db:"day_of_week"` // 0=Sunday, used when frequency=weekly
	SyncTypes      []string        `json:"sync_types" db:"-"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty" db:"last_run_at"`
	LastRunStatus  *string         `json:"last_run_status,omitempty" db:"last_run_status"`
	LastRunSummary json.RawMessage `json:"last_run_summary,omitempty" db:"last_run_summary"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty" db:"next_run_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}
