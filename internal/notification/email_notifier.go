package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/config"
	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/models"
)

type EmailNotifier struct {
	mailer     Mailer
	recipients []string
	logger     zerolog.Logger
}

func NewEmailNotifier(cfg config.EmailConfig, logger zerolog.Logger) (*EmailNotifier, error) {
	recipients := sanitizeRecipients(cfg.AlertRecipients)
	mailer, err := NewSMTPMailer(cfg)
	if err != nil {
		return nil, err
	}

	return &EmailNotifier{
		mailer:     mailer,
		recipients: recipients,
		logger:     logger.With().Str("notifier", "email").Logger(),
	}, nil
}

func (n *EmailNotifier) Notify(_ context.Context, notif models.Notification) error {
	if len(n.recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("[Shop Sync] %s", strings.TrimSpace(notif.Title))
	if subject == "[Shop Sync] " {
		subject = "[Shop Sync] Notification"
	}

	body := strings.Builder{}
	body.WriteString(strings.TrimSpace(notif.Message))
	body.WriteString("\n\n")
	body.WriteString(fmt.Sprintf("Event: %s\n", notif.EventType))
	body.WriteString(fmt.Sprintf("Severity: %s\n", notif.Severity))
	body.WriteString(fmt.Sprintf("Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST")))
	if len(notif.Metadata) > 0 {
		body.WriteString(fmt.Sprintf("Metadata: %s\n", string(notif.Metadata)))
	}

	if err := n.mailer.Send(n.recipients, subject, body.String()); err != nil {
		return err
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Strs("recipients", n.recipients).
		Msg("email notification sent")
	return nil
}

func (n *EmailNotifier) String() string {
	return "EmailNotifier"
}
