package messaging

import (
	"context"
	"encoding/json"
)

// BrokerAdapter bridges a Broker to byte-level consumers. The worker
// binary uses it to pump raw notification events into a handler without
// caring which broker backend is configured.
type BrokerAdapter struct {
	broker Broker
}

func NewBrokerAdapter(broker Broker) MessageBroker {
	return &BrokerAdapter{broker: broker}
}

// Publish re-encodes the raw payload through the broker's own codec so
// both backends put the same JSON shape on the wire.
func (a *BrokerAdapter) Publish(ctx context.Context, topic string, payload []byte) error {
	var msg interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	return a.broker.Publish(ctx, topic, msg)
}

func (a *BrokerAdapter) Close() error {
	return a.broker.Close()
}

// Subscribe drains the topic into handler until the broker closes the
// channel. A handler error drops that event; one malformed notification
// must not stall the consumer.
func (a *BrokerAdapter) Subscribe(ctx context.Context, topic string, handler func([]byte) error) error {
	msgChan, err := a.broker.Subscribe(ctx, topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range msgChan {
			if err := handler(msg); err != nil {
				continue
			}
		}
	}()

	return nil
}
