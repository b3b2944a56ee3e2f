package events

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/hanko-field/orders/internal/services"
)

// PubSubPublisher publishes order events to a Pub/Sub topic with per-order ordering keys.
type PubSubPublisher struct {
	topic       *pubsub.Topic
	closeClient func() error
}

// NewPubSubPublisher wraps an existing topic. Message ordering is enabled on the topic.
func NewPubSubPublisher(topic *pubsub.Topic) (*PubSubPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub publisher: topic is required")
	}
	topic.EnableMessageOrdering = true
	return &PubSubPublisher{topic: topic}, nil
}

// DialPubSub opens a client for projectID and publishes to topicID, which must already exist.
func DialPubSub(ctx context.Context, projectID, topicID string) (*PubSubPublisher, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher: new client: %w", err)
	}
	publisher, err := NewPubSubPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	publisher.closeClient = client.Close
	return publisher, nil
}

// PublishOrderEvent implements services.OrderEventPublisher and waits for the server ack.
func (p *PubSubPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	data, attrs, err := encode(event)
	if err != nil {
		return err
	}
	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:        data,
		Attributes:  attrs,
		OrderingKey: orderKey(event),
	})
	if _, err := result.Get(ctx); err != nil {
		// A failed publish pauses the ordering key until resumed.
		p.topic.ResumePublish(orderKey(event))
		return fmt.Errorf("pubsub publisher: publish %s: %w", event.Type, err)
	}
	return nil
}

// Ping checks that the topic exists.
func (p *PubSubPublisher) Ping(ctx context.Context) error {
	ok, err := p.topic.Exists(ctx)
	if err != nil {
		return fmt.Errorf("pubsub publisher: topic exists: %w", err)
	}
	if !ok {
		return fmt.Errorf("pubsub publisher: topic %s not found", p.topic.ID())
	}
	return nil
}

// Close flushes pending messages and closes the client when this publisher opened it.
func (p *PubSubPublisher) Close() error {
	p.topic.Stop()
	if p.closeClient != nil {
		return p.closeClient()
	}
	return nil
}
