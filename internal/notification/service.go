package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/repository"
)

type Event struct {
	ConnectionID string
	Event        models.NotificationEvent
	Severity     models.NotificationSeverity
	Title        string
	Message      string
	Metadata     map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	NotifySyncCompleted(ctx context.Context, connectionID, syncType, logID, status string, created, updated, skipped, failed int) error
	NotifySyncFailed(ctx context.Context, connectionID, syncType, logID, reason string) error
	NotifyScheduleRunFailed(ctx context.Context, connectionID, reason string) error
	NotifyConnectionInvalid(ctx context.Context, connectionID, shop, reason string) error
	ListRecent(ctx context.Context, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, notificationID string) (models.Notification, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, fmt.Errorf("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	message := strings.TrimSpace(evt.Message)
	if title == "" {
		title = string(evt.Event)
	}
	params := repository.CreateNotificationParams{
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  message,
		Metadata: evt.Metadata,
	}
	if cid := strings.TrimSpace(evt.ConnectionID); cid != "" {
		params.ConnectionID = &cid
	}

	notif, err := s.repo.Create(ctx, params)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) NotifySyncCompleted(ctx context.Context, connectionID, syncType, logID, status string, created, updated, skipped, failed int) error {
	severity := models.NotificationSeverityInfo
	if status == models.SyncStatusPartial {
		severity = models.NotificationSeverityWarning
	}
	_, err := s.Publish(ctx, Event{
		ConnectionID: connectionID,
		Event:        models.NotificationEventSyncCompleted,
		Severity:     severity,
		Title:        fmt.Sprintf("Sync completed: %s", syncType),
		Message:      fmt.Sprintf("%s sync finished with status %s: %d created, %d updated, %d skipped, %d failed.", syncType, status, created, updated, skipped, failed),
		Metadata: map[string]interface{}{
			"sync_type": syncType,
			"log_id":    logID,
			"status":    status,
			"created":   created,
			"updated":   updated,
			"skipped":   skipped,
			"failed":    failed,
		},
	})
	return err
}

func (s *service) NotifySyncFailed(ctx context.Context, connectionID, syncType, logID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Unknown error"
	}
	_, err := s.Publish(ctx, Event{
		ConnectionID: connectionID,
		Event:        models.NotificationEventSyncFailed,
		Severity:     models.NotificationSeverityError,
		Title:        fmt.Sprintf("Sync failed: %s", syncType),
		Message:      fmt.Sprintf("%s sync failed: %s", syncType, reason),
		Metadata: map[string]interface{}{
			"sync_type": syncType,
			"log_id":    logID,
			"reason":    reason,
		},
	})
	return err
}

func (s *service) NotifyScheduleRunFailed(ctx context.Context, connectionID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "Unknown error"
	}
	_, err := s.Publish(ctx, Event{
		ConnectionID: connectionID,
		Event:        models.NotificationEventScheduleRunFailed,
		Severity:     models.NotificationSeverityError,
		Title:        "Scheduled sync failed",
		Message:      fmt.Sprintf("The scheduled sync could not run: %s", reason),
		Metadata: map[string]interface{}{
			"reason": reason,
		},
	})
	return err
}

func (s *service) NotifyConnectionInvalid(ctx context.Context, connectionID, shop, reason string) error {
	_, err := s.Publish(ctx, Event{
		ConnectionID: connectionID,
		Event:        models.NotificationEventConnectionInvalid,
		Severity:     models.NotificationSeverityError,
		Title:        "Connection credentials invalid",
		Message:      fmt.Sprintf("Access to %s was rejected: %s. Please re-enter the credentials.", shop, reason),
		Metadata: map[string]interface{}{
			"shop":   shop,
			"reason": reason,
		},
	})
	return err
}

func (s *service) ListRecent(ctx context.Context, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *service) MarkRead(ctx context.Context, notificationID string) (models.Notification, error) {
	return s.repo.MarkRead(ctx, notificationID)
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}
