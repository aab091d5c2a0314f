package messaging

import (
	"context"
)

// Broker defines the interface for message brokers.
type Broker interface {
	// Publish sends a message to the events exchange with the given routing key.
	Publish(ctx context.Context, routingKey, messageID string, body []byte) error
	// PublishToDLQ sends a message directly to the dead letter exchange,
	// tagging it with the reason it was moved.
	PublishToDLQ(ctx context.Context, routingKey, messageID string, body []byte, reason string) error
	// Consume binds to a durable queue and returns a delivery stream.
	// The stream closes when ctx is cancelled or the connection drops.
	Consume(ctx context.Context, queue string, prefetch int) (<-chan Delivery, error)
	// Healthy reports whether the broker connection is usable.
	Healthy() bool
	Close() error
}

// Delivery is a single message handed to a consumer. It must be settled
// exactly once via Ack or Nack.
type Delivery interface {
	Body() []byte
	MessageID() string
	RoutingKey() string
	Redelivered() bool
	// DeathCount is the number of times the broker has dead-lettered or
	// requeued this message, used to bound redelivery attempts.
	DeathCount() int64
	Ack() error
	Nack(requeue bool) error
}
