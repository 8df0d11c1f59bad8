package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

type MappingRepository interface {
	Upsert(ctx context.Context, m *models.ResourceMapping) (created bool, err error)
	GetByProductionID(ctx context.Context, connectionID, resourceType, productionID string) (*models.ResourceMapping, error)
	List(ctx context.Context, connectionID, resourceType string, limit, offset int, orderBy string) ([]*models.ResourceMapping, error)
	Count(ctx context.Context, connectionID, resourceType string) (int, error)
	Stats(ctx context.Context, connectionID string) ([]*models.MappingStat, error)
	DeleteByConnection(ctx context.Context, connectionID string) (int64, error)
	UpsertUnmapped(ctx context.Context, ref *models.UnmappedReference) error
	ListUnmapped(ctx context.Context, connectionID string, includeResolved bool, limit, offset int) ([]*models.UnmappedReference, error)
	MarkUnmappedResolved(ctx context.Context, id string) error
}

type mappingRepository struct {
	db *sql.DB
}

func NewMappingRepository(db *sql.DB) MappingRepository {
	return &mappingRepository{db: db}
}

const mappingColumns = "id, connection_id, resource_type, production_id, staging_id, production_gid, staging_gid, match_key, match_value, sync_id, title, metadata, last_synced_at, created_at"

// Upsert inserts or refreshes the single row for (connection, resource type,
// production id). The xmax check tells an insert apart from a conflict
// update so batch callers can report created vs updated counts.
func (r *mappingRepository) Upsert(ctx context.Context, m *models.ResourceMapping) (bool, error) {
	const query = `
		INSERT INTO sync.resource_mappings
			(connection_id, resource_type, production_id, staging_id, production_gid, staging_gid, match_key, match_value, sync_id, title, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (connection_id, resource_type, production_id) DO UPDATE SET
			staging_id = EXCLUDED.staging_id,
			production_gid = EXCLUDED.production_gid,
			staging_gid = EXCLUDED.staging_gid,
			match_key = EXCLUDED.match_key,
			match_value = EXCLUDED.match_value,
			sync_id = COALESCE(EXCLUDED.sync_id, sync.resource_mappings.sync_id),
			title = COALESCE(EXCLUDED.title, sync.resource_mappings.title),
			metadata = COALESCE(EXCLUDED.metadata, sync.resource_mappings.metadata),
			last_synced_at = NOW()
		RETURNING id, last_synced_at, created_at, (xmax = 0) AS inserted
	`
	var inserted bool
	err := r.db.QueryRowContext(ctx, query,
		m.ConnectionID, m.ResourceType, m.ProductionID, m.StagingID, m.ProductionGID, m.StagingGID,
		m.MatchKey, m.MatchValue, m.SyncID, m.Title, nullableJSON(m.Metadata),
	).Scan(&m.ID, &m.LastSyncedAt, &m.CreatedAt, &inserted)
	if err != nil {
		return false, err
	}
	return inserted, nil
}

func (r *mappingRepository) GetByProductionID(ctx context.Context, connectionID, resourceType, productionID string) (*models.ResourceMapping, error) {
	query := fmt.Sprintf("SELECT %s FROM sync.resource_mappings WHERE connection_id = $1 AND resource_type = $2 AND production_id = $3", mappingColumns)
	row := r.db.QueryRowContext(ctx, query, connectionID, resourceType, productionID)
	m, err := scanMapping(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return m, nil
}

// orderColumns whitelists sortable columns so the orderBy parameter can come
// straight from a query string.
var orderColumns = map[string]string{
	"last_synced_at": "last_synced_at DESC",
	"created_at":     "created_at DESC",
	"resource_type":  "resource_type ASC",
	"match_value":    "match_value ASC",
}

func (r *mappingRepository) List(ctx context.Context, connectionID, resourceType string, limit, offset int, orderBy string) ([]*models.ResourceMapping, error) {
	order, ok := orderColumns[orderBy]
	if !ok {
		order = orderColumns["last_synced_at"]
	}
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM sync.resource_mappings WHERE connection_id = $1", mappingColumns)
	args := []interface{}{connectionID}
	if resourceType != "" && resourceType != "all" {
		query += " AND resource_type = $2"
		args = append(args, resourceType)
	}
	query += fmt.Sprintf(" ORDER BY %s LIMIT %d OFFSET %d", order, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var mappings []*models.ResourceMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, m)
	}
	return mappings, rows.Err()
}

func (r *mappingRepository) Count(ctx context.Context, connectionID, resourceType string) (int, error) {
	query := "SELECT COUNT(*) FROM sync.resource_mappings WHERE connection_id = $1"
	args := []interface{}{connectionID}
	if resourceType != "" && resourceType != "all" {
		query += " AND resource_type = $2"
		args = append(args, resourceType)
	}
	var count int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (r *mappingRepository) Stats(ctx context.Context, connectionID string) ([]*models.MappingStat, error) {
	const query = `
		SELECT resource_type, COUNT(*), MAX(last_synced_at)
		FROM sync.resource_mappings
		WHERE connection_id = $1
		GROUP BY resource_type
		ORDER BY resource_type
	`
	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*models.MappingStat
	for rows.Next() {
		s := &models.MappingStat{}
		if err := rows.Scan(&s.ResourceType, &s.Count, &s.LastSyncedAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

func (r *mappingRepository) DeleteByConnection(ctx context.Context, connectionID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sync.resource_mappings WHERE connection_id = $1", connectionID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpsertUnmapped records an unresolved reference, refreshing attempted_at
// when the same (connection, gid, context) shows up again.
func (r *mappingRepository) UpsertUnmapped(ctx context.Context, ref *models.UnmappedReference) error {
	const query = `
		INSERT INTO sync.unmapped_references
			(connection_id, resource_type, production_id, production_gid, context, found_in_sync_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (connection_id, production_gid, context) DO UPDATE SET
			attempted_at = NOW(),
			found_in_sync_type = EXCLUDED.found_in_sync_type,
			resolved = FALSE,
			resolved_at = NULL
		RETURNING id, attempted_at
	`
	return r.db.QueryRowContext(ctx, query,
		ref.ConnectionID, ref.ResourceType, ref.ProductionID, ref.ProductionGID, ref.Context, ref.FoundInSyncType,
	).Scan(&ref.ID, &ref.AttemptedAt)
}

func (r *mappingRepository) ListUnmapped(ctx context.Context, connectionID string, includeResolved bool, limit, offset int) ([]*models.UnmappedReference, error) {
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, connection_id, resource_type, production_id, production_gid, context, found_in_sync_type, attempted_at, resolved, resolved_at
		FROM sync.unmapped_references
		WHERE connection_id = $1
	`
	if !includeResolved {
		query += " AND resolved = FALSE"
	}
	query += fmt.Sprintf(" ORDER BY attempted_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.db.QueryContext(ctx, query, connectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []*models.UnmappedReference
	for rows.Next() {
		ref := &models.UnmappedReference{}
		var resolvedAt sql.NullTime
		if err := rows.Scan(&ref.ID, &ref.ConnectionID, &ref.ResourceType, &ref.ProductionID, &ref.ProductionGID, &ref.Context, &ref.FoundInSyncType, &ref.AttemptedAt, &ref.Resolved, &resolvedAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			t := resolvedAt.Time
			ref.ResolvedAt = &t
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

func (r *mappingRepository) MarkUnmappedResolved(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE sync.unmapped_references SET resolved = TRUE, resolved_at = NOW() WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanMapping(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.ResourceMapping, error) {
	m := &models.ResourceMapping{}
	var (
		syncID   sql.NullString
		title    sql.NullString
		metadata []byte
	)
	if err := scanner.Scan(
		&m.ID, &m.ConnectionID, &m.ResourceType, &m.ProductionID, &m.StagingID,
		&m.ProductionGID, &m.StagingGID, &m.MatchKey, &m.MatchValue,
		&syncID, &title, &metadata, &m.LastSyncedAt, &m.CreatedAt,
	); err != nil {
		return nil, err
	}
	if syncID.Valid {
		v := syncID.String
		m.SyncID = &v
	}
	if title.Valid {
		v := title.String
		m.Title = &v
	}
	if len(metadata) > 0 {
		m.Metadata = metadata
	}
	return m, nil
}

func nullableJSON(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
