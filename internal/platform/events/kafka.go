package events

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hanko-field/orders/internal/platform/observability"
	"github.com/hanko-field/orders/internal/services"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes order events to a Kafka topic keyed by order so one order's events stay
// on one partition.
type KafkaPublisher struct {
	writer  messageWriter
	brokers []string
}

// NewKafkaPublisher builds a hash-balanced writer that waits for the leader ack.
func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		ErrorLogger:  observability.NewPrintfAdapterAt(logger, zapcore.WarnLevel),
	}
	return &KafkaPublisher{writer: writer, brokers: brokers}, nil
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *KafkaPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, attrs, err := encode(event)
	if err != nil {
		return err
	}
	headers := make([]kafka.Header, 0, len(attrs))
	for key, value := range attrs {
		headers = append(headers, kafka.Header{Key: key, Value: []byte(value)})
	}
	msg := kafka.Message{
		Key:     []byte(orderKey(event)),
		Value:   data,
		Headers: headers,
		Time:    event.OccurredAt.UTC(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publisher: write %s: %w", event.Type, err)
	}
	return nil
}

// Ping dials the first reachable broker.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	var dialer net.Dialer
	var lastErr error
	for _, broker := range p.brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn.Close()
		}
		lastErr = err
	}
	return fmt.Errorf("kafka publisher: no broker reachable: %w", lastErr)
}

// Close flushes buffered messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
