package adapter

import (
	"context"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

// SMTPConfig holds the email provider credentials.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// MailSender is the slice of gomail.Dialer the adapter needs.
type MailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

type EmailAdapter struct {
	sender MailSender
	from   string
	logger *logger.Logger
}

func NewEmailAdapter(cfg SMTPConfig, log *logger.Logger) *EmailAdapter {
	a := &EmailAdapter{from: cfg.From, logger: log}
	if cfg.Host != "" && cfg.From != "" {
		a.sender = gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	}
	return a
}

// NewEmailAdapterWithSender injects a sender directly, for tests.
func NewEmailAdapterWithSender(sender MailSender, from string, log *logger.Logger) *EmailAdapter {
	return &EmailAdapter{sender: sender, from: from, logger: log}
}

func (a *EmailAdapter) Channel() model.Channel {
	return model.ChannelEmail
}

func (a *EmailAdapter) IsConfigured() bool {
	return a.sender != nil && a.from != ""
}

func (a *EmailAdapter) Send(_ context.Context, p *model.NotificationPayload) error {
	if p.RecipientKind != "" && p.RecipientKind != model.RecipientKindEmail {
		return apperrors.NewValidation(p.Channel.String(), "recipient is not an email address")
	}
	if !strings.Contains(p.Recipient, "@") {
		return apperrors.NewValidation(p.Channel.String(), "recipient is not an email address")
	}

	body := p.Body()
	if body == "" {
		return apperrors.NewMissingContent(p.Channel.String(), "content")
	}

	subject := p.Subject
	if subject == "" {
		subject = p.Title
	}
	if subject == "" {
		subject = p.Type
	}

	m := gomail.NewMessage()
	m.SetHeader("From", a.from)
	m.SetHeader("To", p.Recipient)
	m.SetHeader("Subject", subject)
	if p.HasHTML() {
		m.SetBody("text/html", body)
	} else {
		m.SetBody("text/plain", body)
	}

	if err := a.sender.DialAndSend(m); err != nil {
		return apperrors.NewTransient(p.Channel.String(), err)
	}
	return nil
}
