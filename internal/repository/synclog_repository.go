package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

type SyncLogRepository interface {
	Create(ctx context.Context, log *models.SyncLog) (*models.SyncLog, error)
	Get(ctx context.Context, id string) (*models.SyncLog, error)
	List(ctx context.Context, connectionID string, limit, offset int) ([]*models.SyncLog, error)
	UpdateProgress(ctx context.Context, id string, summary, logs []byte) error
	Finalize(ctx context.Context, id, status string, summary, logs []byte) error
	FailStale(ctx context.Context, cutoff time.Time, summary []byte) (int64, error)
}

type syncLogRepository struct {
	db *sql.DB
}

func NewSyncLogRepository(db *sql.DB) SyncLogRepository {
	return &syncLogRepository{db: db}
}

func (r *syncLogRepository) Create(ctx context.Context, log *models.SyncLog) (*models.SyncLog, error) {
	const query = `
		INSERT INTO sync.sync_logs (id, connection_id, sync_type, status)
		VALUES ($1, $2, $3, $4)
		RETURNING started_at
	`
	log.Status = models.SyncStatusInProgress
	err := r.db.QueryRowContext(ctx, query, log.ID, log.ConnectionID, log.SyncType, log.Status).Scan(&log.StartedAt)
	if err != nil {
		return nil, err
	}
	return log, nil
}

func (r *syncLogRepository) Get(ctx context.Context, id string) (*models.SyncLog, error) {
	const query = `
		SELECT id, connection_id, sync_type, status, summary, logs, started_at, completed_at
		FROM sync.sync_logs
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, query, id)
	log, err := scanSyncLog(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return log, nil
}

func (r *syncLogRepository) List(ctx context.Context, connectionID string, limit, offset int) ([]*models.SyncLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT id, connection_id, sync_type, status, summary, logs, started_at, completed_at
		FROM sync.sync_logs
	`
	args := []interface{}{}
	if connectionID != "" {
		query += " WHERE connection_id = $1"
		args = append(args, connectionID)
	}
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT %d OFFSET %d", limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

// UpdateProgress replaces the live summary (and optionally the log entries)
// of a run that has not completed. Finalized rows are left untouched.
func (r *syncLogRepository) UpdateProgress(ctx context.Context, id string, summary, logs []byte) error {
	const query = `
		UPDATE sync.sync_logs
		SET summary = $2, logs = COALESCE($3, logs)
		WHERE id = $1 AND completed_at IS NULL
	`
	_, err := r.db.ExecContext(ctx, query, id, nullableJSON(summary), nullableJSON(logs))
	return err
}

// Finalize writes the terminal status exactly once. A second call finds no
// row with completed_at unset and reports it.
func (r *syncLogRepository) Finalize(ctx context.Context, id, status string, summary, logs []byte) error {
	const query = `
		UPDATE sync.sync_logs
		SET status = $2, summary = $3, logs = $4, completed_at = NOW()
		WHERE id = $1 AND completed_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, id, status, nullableJSON(summary), nullableJSON(logs))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sync log %s is already finalized or missing", id)
	}
	return nil
}

// FailStale finalizes runs left at in_progress by a dead process.
func (r *syncLogRepository) FailStale(ctx context.Context, cutoff time.Time, summary []byte) (int64, error) {
	const query = `
		UPDATE sync.sync_logs
		SET status = $1, summary = $2, completed_at = NOW()
		WHERE status = $3 AND started_at < $4
	`
	res, err := r.db.ExecContext(ctx, query, models.SyncStatusFailed, nullableJSON(summary), models.SyncStatusInProgress, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanSyncLog(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.SyncLog, error) {
	log := &models.SyncLog{}
	var (
		summary     []byte
		logEntries  []byte
		completedAt sql.NullTime
	)
	if err := scanner.Scan(&log.ID, &log.ConnectionID, &log.SyncType, &log.Status, &summary, &logEntries, &log.StartedAt, &completedAt); err != nil {
		return nil, err
	}
	if len(summary) > 0 {
		log.Summary = summary
	}
	if len(logEntries) > 0 {
		log.Logs = logEntries
	}
	if completedAt.Valid {
		t := completedAt.Time
		log.CompletedAt = &t
	}
	return log, nil
}
