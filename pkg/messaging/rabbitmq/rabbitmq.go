// Package rabbitmq provides an AMQP-backed implementation of
// messaging.Broker for deployments that already run RabbitMQ instead of
// Redis pub/sub. Topics map to routing keys on a durable topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/edusphere/notify-api/pkg/messaging"
)

type Config struct {
	URL          string
	Exchange     string
	DialAttempts int
	DialDelay    time.Duration
}

var _ messaging.Broker = (*RabbitBroker)(nil)

type RabbitBroker struct {
	conn     *amqp091.Connection
	ch       *amqp091.Channel
	exchange string
	logger   *zerolog.Logger
}

func NewRabbitBroker(ctx context.Context, cfg Config, logger *zerolog.Logger) (*RabbitBroker, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = "notifications"
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 5
	}
	if cfg.DialDelay <= 0 {
		cfg.DialDelay = 2 * time.Second
	}

	conn, err := dialWithRetry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &RabbitBroker{
		conn:     conn,
		ch:       ch,
		exchange: cfg.Exchange,
		logger:   logger,
	}, nil
}

func dialWithRetry(ctx context.Context, cfg Config, logger *zerolog.Logger) (*amqp091.Connection, error) {
	var lastErr error
	delay := cfg.DialDelay
	for i := 1; i <= cfg.DialAttempts; i++ {
		conn, err := amqp091.Dial(cfg.URL)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		logger.Warn().Err(err).Int("attempt", i).Dur("sleep", delay).Msg("rabbit dial failed")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial cancelled: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > time.Minute {
			delay = time.Minute
		}
	}
	return nil, fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", cfg.DialAttempts, lastErr)
}

func (b *RabbitBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	return ch.PublishWithContext(ctx, b.exchange, channel, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (b *RabbitBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	q, err := b.ch.QueueDeclare("notify."+channel, true, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := b.ch.QueueBind(q.Name, channel, b.exchange, false, nil); err != nil {
		return nil, fmt.Errorf("failed to bind queue: %w", err)
	}
	if err := b.ch.Qos(10, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := b.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume: %w", err)
	}

	msgChan := make(chan []byte, 100)
	go func() {
		defer close(msgChan)
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case msgChan <- d.Body:
					d.Ack(false)
				case <-ctx.Done():
					d.Nack(false, true)
					return
				}
			}
		}
	}()

	return msgChan, nil
}

func (b *RabbitBroker) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}
