package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/config"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

// WebhookNotifier posts notifications as JSON to a configured endpoint,
// typically a chat-ops incoming webhook.
type WebhookNotifier struct {
	enabled bool
	url     string
	client  *http.Client
	logger  zerolog.Logger
}

func NewWebhookNotifier(cfg config.WebhookConfig, logger zerolog.Logger) *WebhookNotifier {
	enabled := cfg.Enabled && cfg.URL != ""
	return &WebhookNotifier{
		enabled: enabled,
		url:     cfg.URL,
		client:  &http.Client{Timeout: 10 * time.Second},
		logger:  logger.With().Str("notifier", "webhook").Logger(),
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, notif models.Notification) error {
	if !n.enabled {
		return nil
	}

	payload, err := json.Marshal(map[string]interface{}{
		"event_type": notif.EventType,
		"severity":   notif.Severity,
		"title":      notif.Title,
		"message":    notif.Message,
		"metadata":   notif.Metadata,
		"created_at": notif.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Msg("webhook notification dispatched")
	return nil
}

func (n *WebhookNotifier) String() string {
	if !n.enabled {
		return "WebhookNotifier(disabled)"
	}
	return fmt.Sprintf("WebhookNotifier(url=%s)", n.url)
}
