package adapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"firebase.google.com/go/v4/errorutils"
	fcm "firebase.google.com/go/v4/messaging"

	"github.com/edusphere/notify-api/internal/model"
	apperrors "github.com/edusphere/notify-api/pkg/errors"
	"github.com/edusphere/notify-api/pkg/logger"
	"github.com/edusphere/notify-api/pkg/messaging"
)

// minDeviceTokenLength is the shape heuristic for FCM registration
// tokens; anything shorter (or email/phone shaped) is a misrouted
// recipient, not a transient failure. Payloads carrying an explicit
// RecipientKind bypass the heuristic.
const minDeviceTokenLength = 80

// PushClient is the slice of the FCM messaging client the adapter needs.
type PushClient interface {
	Send(ctx context.Context, message *fcm.Message) (string, error)
}

type PushAdapter struct {
	client PushClient
	broker messaging.Broker
	logger *logger.Logger

	// tokenRejected reports whether a provider error means the device
	// token is dead. The FCM SDK keeps its error types internal, so the
	// check is a predicate rather than a type assertion.
	tokenRejected func(error) bool
}

// NewPushAdapter wraps an FCM messaging client. client may be nil when
// push is not configured; broker carries token-invalidated events to the
// recipient registry.
func NewPushAdapter(client PushClient, broker messaging.Broker, log *logger.Logger) *PushAdapter {
	return &PushAdapter{
		client: client,
		broker: broker,
		logger: log,
		tokenRejected: func(err error) bool {
			return fcm.IsUnregistered(err) || errorutils.IsInvalidArgument(err)
		},
	}
}

func (a *PushAdapter) Channel() model.Channel {
	return model.ChannelPush
}

func (a *PushAdapter) IsConfigured() bool {
	return a.client != nil
}

func (a *PushAdapter) Send(ctx context.Context, p *model.NotificationPayload) error {
	if err := a.validateToken(p); err != nil {
		return err
	}

	title := p.Title
	if title == "" {
		title = p.DataString("title")
	}
	if title == "" {
		return apperrors.NewMissingContent(p.Channel.String(), "title")
	}
	body := p.Body()
	if body == "" {
		return apperrors.NewMissingContent(p.Channel.String(), "content")
	}

	msg := &fcm.Message{
		Token: p.Recipient,
		Notification: &fcm.Notification{
			Title: title,
			Body:  body,
		},
		Data: a.dataFields(p),
	}
	if sound := p.DataString("sound"); sound != "" {
		msg.Android = &fcm.AndroidConfig{
			Notification: &fcm.AndroidNotification{Sound: sound},
		}
	}

	if _, err := a.client.Send(ctx, msg); err != nil {
		return a.classify(ctx, p, err)
	}
	return nil
}

func (a *PushAdapter) validateToken(p *model.NotificationPayload) error {
	if p.RecipientKind != "" {
		if p.RecipientKind != model.RecipientKindDeviceToken {
			return apperrors.NewValidation(p.Channel.String(), "recipient is not a device token")
		}
		return nil
	}
	if len(p.Recipient) < minDeviceTokenLength || strings.Contains(p.Recipient, "@") {
		return apperrors.NewValidation(p.Channel.String(),
			fmt.Sprintf("recipient does not look like a device token (len=%d)", len(p.Recipient)))
	}
	return nil
}

func (a *PushAdapter) dataFields(p *model.NotificationPayload) map[string]string {
	fields := make(map[string]string)
	for _, key := range []string{"deepLink", "ttl", "type"} {
		if v := p.DataString(key); v != "" {
			fields[key] = v
		}
	}
	if p.CorrelationID != "" {
		fields["correlationId"] = p.CorrelationID
	}
	if len(fields) == 0 {
		return nil
	}
	return fields
}

// classify maps FCM errors into the taxonomy. An unregistered or
// invalid token is terminal: retrying cannot fix it, so the adapter
// emits a token-invalidated event for the recipient registry instead.
func (a *PushAdapter) classify(ctx context.Context, p *model.NotificationPayload, err error) error {
	if a.tokenRejected(err) {
		a.emitTokenInvalidated(ctx, p, err)
		return apperrors.NewInvalidRecipient(p.Channel.String(), "provider reports token not registered", err)
	}
	return apperrors.NewTransient(p.Channel.String(), err)
}

func (a *PushAdapter) emitTokenInvalidated(ctx context.Context, p *model.NotificationPayload, cause error) {
	if a.broker == nil {
		return
	}
	event := &model.TokenInvalidatedEvent{
		UserID:        p.UserID,
		Token:         p.Recipient,
		Reason:        cause.Error(),
		CorrelationID: p.CorrelationID,
		OccurredAt:    time.Now(),
	}
	if err := a.broker.Publish(ctx, messaging.TopicTokenInvalidated, event); err != nil {
		a.logger.Error(err, "failed to publish token invalidated event",
			"user_id", p.UserID.String())
	}
}
