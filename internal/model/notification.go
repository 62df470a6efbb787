package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelWhatsApp Channel = "WHATSAPP"
	ChannelPush     Channel = "PUSH"
	ChannelInApp    Channel = "IN_APP"
)

// AllChannels lists every supported channel.
var AllChannels = []Channel{ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush, ChannelInApp}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelWhatsApp, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

func (c Channel) String() string {
	return string(c)
}

// RecipientKind tags the shape of a payload recipient. When set it is
// authoritative and the adapters skip their shape heuristics.
type RecipientKind string

const (
	RecipientKindEmail       RecipientKind = "email"
	RecipientKindPhone       RecipientKind = "phone"
	RecipientKindDeviceToken RecipientKind = "device_token"
	RecipientKindUserID      RecipientKind = "user_id"
)

type NotificationStatus string

const (
	NotificationStatusPending  NotificationStatus = "pending"
	NotificationStatusSent     NotificationStatus = "sent"
	NotificationStatusFailed   NotificationStatus = "failed"
	NotificationStatusRetrying NotificationStatus = "retrying"
	NotificationStatusSkipped  NotificationStatus = "skipped"
	NotificationStatusDeduped  NotificationStatus = "deduped"
)

// NotificationPayload is the transient, per-attempt unit handed to the
// dispatcher. One payload targets exactly one (recipient, channel) pair.
type NotificationPayload struct {
	Recipient     string                 `json:"recipient"`
	RecipientKind RecipientKind          `json:"recipient_kind,omitempty"`
	Channel       Channel                `json:"channel"`
	Type          string                 `json:"type"`
	Group         string                 `json:"group"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Locale        string                 `json:"locale,omitempty"`
	UserID        uuid.UUID              `json:"user_id"`
	ProfileType   *string                `json:"profile_type,omitempty"`
	ProfileID     *uuid.UUID             `json:"profile_id,omitempty"`
	CorrelationID string                 `json:"correlation_id"`
	Subject       string                 `json:"subject,omitempty"`
	Title         string                 `json:"title,omitempty"`
}

// DataString returns the string value under key, or "" when absent or
// not a string.
func (p *NotificationPayload) DataString(key string) string {
	if p.Data == nil {
		return ""
	}
	v, ok := p.Data[key].(string)
	if !ok {
		return ""
	}
	return v
}

// Body resolves the message body: data.content first, then data.html,
// then data.message.
func (p *NotificationPayload) Body() string {
	if s := strings.TrimSpace(p.DataString("content")); s != "" {
		return s
	}
	if s := strings.TrimSpace(p.DataString("html")); s != "" {
		return s
	}
	return strings.TrimSpace(p.DataString("message"))
}

// HasHTML reports whether the payload carries a rendered HTML body.
func (p *NotificationPayload) HasHTML() bool {
	return strings.TrimSpace(p.DataString("html")) != ""
}

func (p *NotificationPayload) Validate() error {
	if !p.Channel.Valid() {
		return fmt.Errorf("unsupported channel: %s", p.Channel)
	}
	if p.Recipient == "" {
		return fmt.Errorf("recipient is required")
	}
	if p.Type == "" {
		return fmt.Errorf("type is required")
	}
	if p.CorrelationID == "" {
		return fmt.Errorf("correlation ID is required")
	}
	return nil
}

// NotificationLog is one row per (recipient, channel) delivery, created
// at dispatch start and updated once at the terminal outcome.
type NotificationLog struct {
	ID            uuid.UUID          `db:"id" json:"id"`
	UserID        uuid.UUID          `db:"user_id" json:"user_id"`
	Channel       Channel            `db:"channel" json:"channel"`
	Type          string             `db:"type" json:"type"`
	Recipient     string             `db:"recipient" json:"recipient"`
	Status        NotificationStatus `db:"status" json:"status"`
	AttemptCount  int                `db:"attempt_count" json:"attempt_count"`
	LatencyMS     int64              `db:"latency_ms" json:"latency_ms"`
	CorrelationID string             `db:"correlation_id" json:"correlation_id"`
	Template      string             `db:"template" json:"template,omitempty"`
	Content       string             `db:"content" json:"content,omitempty"`
	LastError     *string            `db:"last_error" json:"last_error,omitempty"`
	SentAt        *time.Time         `db:"sent_at" json:"sent_at,omitempty"`
	CreatedAt     time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updated_at"`
}

// NotificationLogFilter narrows history queries.
type NotificationLogFilter struct {
	UserID  *uuid.UUID
	Channel *Channel
	Status  *NotificationStatus
	From    *time.Time
	To      *time.Time
	Limit   int
	Offset  int
}
