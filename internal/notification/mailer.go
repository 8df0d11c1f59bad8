package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	"github.com/feraraujofilho/prod-staging-sync-app-sub000/internal/config"
)

// Mailer delivers plain-text mail. Split out from the notifier so the SMTP
// plumbing can be swapped in tests.
type Mailer interface {
	Send(recipients []string, subject, body string) error
}

// SMTPMailer sends mail through a configured SMTP relay.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

func NewSMTPMailer(cfg config.EmailConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return nil, fmt.Errorf("smtp_host is required")
	}
	if cfg.SMTPPort == 0 {
		cfg.SMTPPort = 587
	}
	if strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("email from address is required")
	}

	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		username: cfg.Username,
		password: cfg.Password,
		from:     cfg.From,
	}, nil
}

func (m *SMTPMailer) Send(recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return nil
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		m.from, strings.Join(recipients, ","), subject)

	message := []byte(headers + body)
	addr := fmt.Sprintf("%s:%d", m.host, m.port)

	var auth smtp.Auth
	if strings.TrimSpace(m.username) != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return smtp.SendMail(addr, auth, m.from, recipients, message)
}
