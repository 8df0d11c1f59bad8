package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error)
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type notificationRepository struct {
	db *sql.DB
}

type CreateNotificationParams struct {
	ConnectionID *string
	Event        models.NotificationEvent
	Severity     models.NotificationSeverity
	Title        string
	Message      string
	Metadata     map[string]interface{}
}

func NewNotificationRepository(db *sql.DB) NotificationRepository {
	return &notificationRepository{db: db}
}

func (r *notificationRepository) Create(ctx context.Context, params CreateNotificationParams) (models.Notification, error) {
	const query = `
		INSERT INTO sync.notifications (connection_id, event_type, severity, title, message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, connection_id, event_type, severity, title, message, metadata, created_at, read_at
	`

	var connectionID interface{}
	if params.ConnectionID != nil && strings.TrimSpace(*params.ConnectionID) != "" {
		connectionID = strings.TrimSpace(*params.ConnectionID)
	}

	var metadata interface{}
	if len(params.Metadata) > 0 {
		bytes, err := json.Marshal(params.Metadata)
		if err != nil {
			return models.Notification{}, fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = bytes
	}

	row := r.db.QueryRowContext(ctx, query, connectionID, params.Event, params.Severity, params.Title, params.Message, metadata)
	return scanNotification(row)
}

func (r *notificationRepository) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 25
	}

	const query = `
		SELECT id, connection_id, event_type, severity, title, message, metadata, created_at, read_at
		FROM sync.notifications
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []models.Notification
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		notifications = append(notifications, notif)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *notificationRepository) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	const query = `
		UPDATE sync.notifications
		SET read_at = NOW()
		WHERE id = $1
		RETURNING id, connection_id, event_type, severity, title, message, metadata, created_at, read_at
	`
	row := r.db.QueryRowContext(ctx, query, strings.TrimSpace(notificationID))
	return scanNotification(row)
}

func scanNotification(scanner interface {
	Scan(dest ...interface{}) error
}) (models.Notification, error) {
	var (
		notif        models.Notification
		connectionID sql.NullString
		metadataRaw  []byte
		readAt       sql.NullTime
	)

	if err := scanner.Scan(
		&notif.ID,
		&connectionID,
		&notif.EventType,
		&notif.Severity,
		&notif.Title,
		&notif.Message,
		&metadataRaw,
		&notif.CreatedAt,
		&readAt,
	); err != nil {
		return models.Notification{}, err
	}

	if connectionID.Valid {
		val := connectionID.String
		notif.ConnectionID = &val
	}
	if len(metadataRaw) > 0 {
		notif.Metadata = metadataRaw
	}
	if readAt.Valid {
		t := readAt.Time
		notif.ReadAt = &t
	}

	return notif, nil
}
