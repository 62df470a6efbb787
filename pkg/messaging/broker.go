package messaging

import (
	"context"
)

// Topics carried on the broker.
const (
	TopicNotificationEvents = "notifications.events"
	TopicInApp              = "notifications.in_app"
	TopicTokenInvalidated   = "notifications.push.token_invalidated"
)

// Broker is the transport the delivery engine publishes and consumes
// notification traffic on. Implementations live in the redis and
// rabbitmq subpackages.
type Broker interface {
	Publish(ctx context.Context, channel string, message interface{}) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	Close() error
}

// Publisher is the write-only slice of Broker for components that only
// emit, like the in-app adapter.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

type MessageBroker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, handler func([]byte) error) error
	Close() error
}
