package adapter

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
)

// inAppEnvelope is the message pushed onto the in-app topic; the
// realtime layer fans it out to connected clients.
type inAppEnvelope struct {
	ID            uuid.UUID              `json:"id"`
	UserID        uuid.UUID              `json:"user_id"`
	Type          string                 `json:"type"`
	Title         string                 `json:"title,omitempty"`
	Body          string                 `json:"body"`
	Data          map[string]interface{} `json:"data,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
	CreatedAt     time.Time              `json:"created_at"`
}

// inAppPublisher decouples the adapter from the broker implementation.
type inAppPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) error
}

type InAppAdapter struct {
	publisher inAppPublisher
	topic     string
	logger    *logger.Logger
}

func NewInAppAdapter(publisher inAppPublisher, topic string, log *logger.Logger) *InAppAdapter {
	return &InAppAdapter{publisher: publisher, topic: topic, logger: log}
}

func (a *InAppAdapter) Channel() model.Channel {
	return model.ChannelInApp
}

func (a *InAppAdapter) IsConfigured() bool {
	return a.publisher != nil
}

func (a *InAppAdapter) Send(ctx context.Context, p *model.NotificationPayload) error {
	body := p.Body()
	if body == "" {
		return apperrors.NewMissingContent(p.Channel.String(), "content")
	}

	env := &inAppEnvelope{
		ID:            uuid.New(),
		UserID:        p.UserID,
		Type:          p.Type,
		Title:         p.Title,
		Body:          body,
		Data:          p.Data,
		CorrelationID: p.CorrelationID,
		CreatedAt:     time.Now(),
	}
	if err := a.publisher.Publish(ctx, a.topic, env); err != nil {
		return apperrors.NewTransient(p.Channel.String(), err)
	}
	return nil
}
