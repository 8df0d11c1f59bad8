package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

type ScheduleRepository interface {
	GetByConnection(ctx context.Context, connectionID string) (*models.SyncSchedule, error)
	ListEnabled(ctx context.Context) ([]*models.SyncSchedule, error)
	Upsert(ctx context.Context, schedule *models.SyncSchedule) (*models.SyncSchedule, error)
	UpdateRunOutcome(ctx context.Context, connectionID string, runAt time.Time, status string, summary []byte, nextRunAt time.Time) error
	UpdateNextRunAt(ctx context.Context, connectionID string, nextRunAt time.Time) error
	Delete(ctx context.Context, connectionID string) error
}

type scheduleRepository struct {
	db *sql.DB
}

func NewScheduleRepository(db *sql.DB) ScheduleRepository {
	return &scheduleRepository{db: db}
}

const scheduleColumns = "id, connection_id, enabled, frequency, hour, minute, day_of_week, sync_types, last_run_at, last_run_status, last_run_summary, next_run_at, created_at, updated_at"

func (r *scheduleRepository) GetByConnection(ctx context.Context, connectionID string) (*models.SyncSchedule, error) {
	query := fmt.Sprintf("SELECT %s FROM sync.sync_schedules WHERE connection_id = $1", scheduleColumns)
	row := r.db.QueryRowContext(ctx, query, connectionID)
	s, err := scanSchedule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Not found
		}
		return nil, err
	}
	return s, nil
}

func (r *scheduleRepository) ListEnabled(ctx context.Context) ([]*models.SyncSchedule, error) {
	query := fmt.Sprintf("SELECT %s FROM sync.sync_schedules WHERE enabled = TRUE", scheduleColumns)
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*models.SyncSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// Upsert keeps at most one schedule per connection.
func (r *scheduleRepository) Upsert(ctx context.Context, schedule *models.SyncSchedule) (*models.SyncSchedule, error) {
	syncTypes, err := json.Marshal(schedule.SyncTypes)
	if err != nil {
		return nil, fmt.Errorf("marshal sync types: %w", err)
	}
	var nextRunAt interface{}
	if schedule.NextRunAt != nil {
		nextRunAt = *schedule.NextRunAt
	}
	const query = `
		INSERT INTO sync.sync_schedules (connection_id, enabled, frequency, hour, minute, day_of_week, sync_types, next_run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (connection_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			frequency = EXCLUDED.frequency,
			hour = EXCLUDED.hour,
			minute = EXCLUDED.minute,
			day_of_week = EXCLUDED.day_of_week,
			sync_types = EXCLUDED.sync_types,
			next_run_at = EXCLUDED.next_run_at,
			updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		schedule.ConnectionID, schedule.Enabled, schedule.Frequency, schedule.Hour, schedule.Minute,
		schedule.DayOfWeek, syncTypes, nextRunAt,
	).Scan(&schedule.ID, &schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func (r *scheduleRepository) UpdateRunOutcome(ctx context.Context, connectionID string, runAt time.Time, status string, summary []byte, nextRunAt time.Time) error {
	const query = `
		UPDATE sync.sync_schedules
		SET last_run_at = $2, last_run_status = $3, last_run_summary = $4, next_run_at = $5, updated_at = NOW()
		WHERE connection_id = $1
	`
	_, err := r.db.ExecContext(ctx, query, connectionID, runAt, status, nullableJSON(summary), nextRunAt)
	return err
}

func (r *scheduleRepository) UpdateNextRunAt(ctx context.Context, connectionID string, nextRunAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE sync.sync_schedules SET next_run_at = $2, updated_at = NOW() WHERE connection_id = $1",
		connectionID, nextRunAt,
	)
	return err
}

func (r *scheduleRepository) Delete(ctx context.Context, connectionID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM sync.sync_schedules WHERE connection_id = $1", connectionID)
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

func scanSchedule(scanner interface {
	Scan(dest ...interface{}) error
}) (*models.SyncSchedule, error) {
	s := &models.SyncSchedule{}
	var (
		syncTypes      []byte
		lastRunAt      sql.NullTime
		lastRunStatus  sql.NullString
		lastRunSummary []byte
		nextRunAt      sql.NullTime
	)
	if err := scanner.Scan(
		&s.ID, &s.ConnectionID, &s.Enabled, &s.Frequency, &s.Hour, &s.Minute, &s.DayOfWeek,
		&syncTypes, &lastRunAt, &lastRunStatus, &lastRunSummary, &nextRunAt, &s.CreatedAt, &s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(syncTypes) > 0 {
		if err := json.Unmarshal(syncTypes, &s.SyncTypes); err != nil {
			return nil, fmt.Errorf("unmarshal sync types: %w", err)
		}
	}
	if lastRunAt.Valid {
		t := lastRunAt.Time
		s.LastRunAt = &t
	}
	if lastRunStatus.Valid {
		v := lastRunStatus.String
		s.LastRunStatus = &v
	}
	if len(lastRunSummary) > 0 {
		s.LastRunSummary = lastRunSummary
	}
	if nextRunAt.Valid {
		t := nextRunAt.Time
		s.NextRunAt = &t
	}
	return s, nil
}
