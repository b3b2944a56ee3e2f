// Package events publishes order lifecycle events to the configured broker.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hanko-field/orders/internal/services"
)

// Publisher is an order event sink that owns broker resources.
type Publisher interface {
	services.OrderEventPublisher
	Close() error
}

// encode renders the JSON body plus the routing attributes shared by every broker.
func encode(event services.OrderEvent) ([]byte, map[string]string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, nil, fmt.Errorf("events: marshal %s: %w", event.Type, err)
	}
	attrs := map[string]string{
		"eventId":     event.ID,
		"eventType":   event.Type,
		"orderId":     strconv.FormatInt(event.OrderID, 10),
		"orderNumber": event.OrderNumber,
		"status":      event.CurrentStatus,
		"occurredAt":  event.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	for key, value := range attrs {
		if value == "" {
			delete(attrs, key)
		}
	}
	return data, attrs, nil
}

// orderKey keeps every event of one order on the same partition or ordering key.
func orderKey(event services.OrderEvent) string {
	return "order-" + strconv.FormatInt(event.OrderID, 10)
}

// LogPublisher writes events to the structured log. It is the default for local runs.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher returns a LogPublisher using logger, or a no-op logger when nil.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// PublishOrderEvent implements services.OrderEventPublisher.
func (p *LogPublisher) PublishOrderEvent(_ context.Context, event services.OrderEvent) error {
	p.logger.Info("order event",
		zap.String("event_id", event.ID),
		zap.String("event_type", event.Type),
		zap.Int64("order_id", event.OrderID),
		zap.String("order_number", event.OrderNumber),
		zap.String("previous_status", event.PreviousStatus),
		zap.String("current_status", event.CurrentStatus),
		zap.Int64("total_amount", event.TotalAmount),
		zap.Any("metadata", event.Metadata),
	)
	return nil
}

// Close implements Publisher.
func (p *LogPublisher) Close() error { return nil }
