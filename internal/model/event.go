package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NotificationEvent is the domain event that triggers a fan-out. The
// producer supplies the recipients (or a selector resolved upstream),
// the preference group and the rendered content map shared by every
// channel payload built from the event.
type NotificationEvent struct {
	ID            uuid.UUID              `json:"id"`
	Type          string                 `json:"type"`
	Group         string                 `json:"group"`
	CorrelationID string                 `json:"correlation_id"`
	Recipients    []EventRecipient       `json:"recipients"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Locale        string                 `json:"locale,omitempty"`
	Subject       string                 `json:"subject,omitempty"`
	Title         string                 `json:"title,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// EventRecipient maps one target user to the channel-specific addresses
// the event may be delivered to. Only channels present in Addresses are
// considered for delivery.
type EventRecipient struct {
	UserID      uuid.UUID          `json:"user_id"`
	ProfileType *string            `json:"profile_type,omitempty"`
	ProfileID   *uuid.UUID         `json:"profile_id,omitempty"`
	Addresses   map[Channel]string `json:"addresses"`
	// Kinds optionally tags the shape of each address, overriding the
	// adapters' recipient heuristics.
	Kinds map[Channel]RecipientKind `json:"kinds,omitempty"`
}

func (e *NotificationEvent) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("event type is required")
	}
	if e.Group == "" {
		return fmt.Errorf("event group is required")
	}
	if e.CorrelationID == "" {
		return fmt.Errorf("correlation ID is required")
	}
	if len(e.Recipients) == 0 {
		return fmt.Errorf("at least one recipient is required")
	}
	for i, r := range e.Recipients {
		if r.UserID == uuid.Nil {
			return fmt.Errorf("recipient %d: user ID is required", i)
		}
		for c := range r.Addresses {
			if !c.Valid() {
				return fmt.Errorf("recipient %d: unsupported channel %q", i, c)
			}
		}
	}
	return nil
}

// TokenInvalidatedEvent is published when a push provider reports a
// recipient device token as unregistered, so the owning registry can
// purge it.
type TokenInvalidatedEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	Token         string    `json:"token"`
	Reason        string    `json:"reason"`
	CorrelationID string    `json:"correlation_id"`
	OccurredAt    time.Time `json:"occurred_at"`
}
