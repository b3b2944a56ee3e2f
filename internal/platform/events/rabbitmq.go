package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/hanko-field/orders/internal/services"
)

type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// RabbitMQPublisher publishes order events to a durable topic exchange. The routing key is the
// event type (order.created, order.cancelled, ...), so consumers can bind to order.#.
type RabbitMQPublisher struct {
	ch       amqpChannel
	exchange string
	conn     *amqp.Connection
}

// DialRabbitMQ connects to url and declares the exchange.
func DialRabbitMQ(url, exchange string) (*RabbitMQPublisher, error) {
	if exchange == "" {
		return nil, errors.New("rabbitmq publisher: exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("rabbitmq publisher: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq publisher: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq publisher: declare exchange %s: %w", exchange, err)
	}
	publisher := newRabbitMQPublisher(ch, exchange)
	publisher.conn = conn
	return publisher, nil
}

func newRabbitMQPublisher(ch amqpChannel, exchange string) *RabbitMQPublisher {
	return &RabbitMQPublisher{ch: ch, exchange: exchange}
}

// PublishOrderEvent implements services.OrderEventPublisher with persistent delivery.
func (p *RabbitMQPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, attrs, err := encode(event)
	if err != nil {
		return err
	}
	headers := make(amqp.Table, len(attrs))
	for key, value := range attrs {
		headers[key] = value
	}
	messageID := event.ID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, event.Type, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: orderKey(event),
		Timestamp:     event.OccurredAt.UTC(),
		Type:          event.Type,
		Headers:       headers,
		Body:          data,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publisher: publish %s: %w", event.Type, err)
	}
	return nil
}

// Ping reports whether the underlying connection is still open.
func (p *RabbitMQPublisher) Ping(context.Context) error {
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("rabbitmq publisher: connection closed")
	}
	return nil
}

// Close closes the channel and the connection when this publisher opened it.
func (p *RabbitMQPublisher) Close() error {
	err := p.ch.Close()
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
