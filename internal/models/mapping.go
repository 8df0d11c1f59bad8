package models

import (
	"encoding/json"
	"time"
)

// ResourceMapping links one production resource to its staging counterpart.
// At most one row exists per (connection, resource type, production id).
type ResourceMapping struct {
	ID            string          `json:"id" db:"id"`
	ConnectionID  string          `json:"connection_id" db:"connection_id"`
	ResourceType  string          `json:"resource_type" db:"resource_type"`
	ProductionID  string          `json:"production_id" db:"production_id"`
	StagingID     string          `json:"staging_id" db:"staging_id"`
	ProductionGID string          `json:"production_gid" db:"production_gid"`
	StagingGID    string          `json:"staging_gid" db:"staging_gid"`
	MatchKey      string          `json:"match_key" db:"match_key"`
	MatchValue    string          `json:"match_value" db:"match_value"`
	SyncID        *string         `json:"sync_id,omitempty" db:"sync_id"`
	Title         *string         `json:"title,omitempty" db:"title"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	LastSyncedAt  time.Time       `json:"last_synced_at" db:"last_synced_at"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// UnmappedReference records a production gid that could not be resolved
// during translation. Purely diagnostic; never blocks a sync.
type UnmappedReference struct {
	ID              string     `json:"id" db:"id"`
	ConnectionID    string     `json:"connection_id" db:"connection_id"`
	ResourceType    string     `json:"resource_type" db:"resource_type"`
	ProductionID    string     `json:"production_id" db:"production_id"`
	ProductionGID   string     `json:"production_gid" db:"production_gid"`
	Context         string     `json:"context" db:"context"`
	FoundInSyncType string     `json:"found_in_sync_type" db:"found_in_sync_type"`
	AttemptedAt     time.Time  `json:"attempted_at" db:"attempted_at"`
	Resolved        bool       `json:"resolved" db:"resolved"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty" db:"resolved_at"`
}

type MappingStat struct {
	ResourceType string    `json:"resource_type" db:"resource_type"`
	Count        int       `json:"count" db:"count"`
	LastSyncedAt time.Time `json:"last_synced_at" db:"last_synced_at"`
}
