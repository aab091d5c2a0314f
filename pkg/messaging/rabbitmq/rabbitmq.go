package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/messaging"
)

const (
	// EventsExchange is the topic exchange carrying order events.
	EventsExchange = "orders.events"
	// DLXExchange receives messages that exhausted retries or were rejected.
	DLXExchange = "orders.events.dlx"

	deathReasonHeader = "x-death-reason"
)

// QueueName returns the durable queue bound to a routing key.
func QueueName(routingKey string) string {
	return routingKey + ".q"
}

// DLQName returns the dead letter queue for a routing key.
func DLQName(routingKey string) string {
	return routingKey + ".dlq"
}

// Config holds RabbitMQ connection settings.
type Config struct {
	URL          string
	DialAttempts int
	DialBackoff  time.Duration
}

// Broker is an AMQP 0-9-1 implementation of messaging.Broker.
type Broker struct {
	conn *amqp.Connection
	// publish channels are not safe for concurrent use
	mu      sync.Mutex
	channel *amqp.Channel
	logger  *logger.Logger
}

// NewBroker dials RabbitMQ, retrying because the broker may still be
// starting when the services boot.
func NewBroker(cfg Config, log *logger.Logger) (*Broker, error) {
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = 10
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = 2 * time.Second
	}

	var conn *amqp.Connection
	var err error
	for i := 0; i < cfg.DialAttempts; i++ {
		conn, err = amqp.Dial(cfg.URL)
		if err == nil {
			break
		}
		log.Warn("broker dial failed, retrying", "attempt", i+1, "backoff", cfg.DialBackoff.String())
		time.Sleep(cfg.DialBackoff)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	return &Broker{conn: conn, channel: ch, logger: log}, nil
}

// DeclareTopology declares the exchanges, queues and bindings for the given
// routing keys. Declarations are idempotent; both services call this at boot.
func (b *Broker) DeclareTopology(routingKeys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, exchange := range []string{EventsExchange, DLXExchange} {
		if err := b.channel.ExchangeDeclare(
			exchange, // name
			"topic",  // kind
			true,     // durable
			false,    // auto-delete
			false,    // internal
			false,    // no-wait
			nil,      // arguments
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
		}
	}

	for _, key := range routingKeys {
		dlq := DLQName(key)

		if _, err := b.channel.QueueDeclare(
			QueueName(key),
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			amqp.Table{
				"x-dead-letter-exchange":    DLXExchange,
				"x-dead-letter-routing-key": dlq,
			},
		); err != nil {
			return fmt.Errorf("failed to declare queue for %s: %w", key, err)
		}
		if err := b.channel.QueueBind(QueueName(key), key, EventsExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue for %s: %w", key, err)
		}

		if _, err := b.channel.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare DLQ for %s: %w", key, err)
		}
		if err := b.channel.QueueBind(dlq, dlq, DLXExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind DLQ for %s: %w", key, err)
		}
	}

	return nil
}

func (b *Broker) Publish(ctx context.Context, routingKey, messageID string, body []byte) error {
	return b.publish(ctx, EventsExchange, routingKey, messageID, body, nil)
}

func (b *Broker) PublishToDLQ(ctx context.Context, routingKey, messageID string, body []byte, reason string) error {
	headers := amqp.Table{deathReasonHeader: reason}
	return b.publish(ctx, DLXExchange, DLQName(routingKey), messageID, body, headers)
}

func (b *Broker) publish(ctx context.Context, exchange, routingKey, messageID string, body []byte, headers amqp.Table) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.channel.PublishWithContext(ctx,
		exchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			MessageId:    messageID,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      headers,
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("failed to publish message %s: %w", messageID, err)
	}
	return nil
}

func (b *Broker) Consume(ctx context.Context, queue string, prefetch int) (<-chan messaging.Delivery, error) {
	// Dedicated channel per consumer: Qos and delivery flow must not
	// interfere with the publish channel.
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consume channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	tag := fmt.Sprintf("%s-%s", queue, uuid.NewString())
	deliveries, err := ch.Consume(
		queue,
		tag,
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	out := make(chan messaging.Delivery)
	go func() {
		defer close(out)
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case out <- &delivery{d: d}:
				case <-ctx.Done():
					// Unsettled delivery is requeued when the channel closes.
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *Broker) Healthy() bool {
	return b.conn != nil && !b.conn.IsClosed()
}

func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

// delivery adapts amqp.Delivery to messaging.Delivery.
type delivery struct {
	d amqp.Delivery
}

func (m *delivery) Body() []byte       { return m.d.Body }
func (m *delivery) MessageID() string  { return m.d.MessageId }
func (m *delivery) RoutingKey() string { return m.d.RoutingKey }
func (m *delivery) Redelivered() bool  { return m.d.Redelivered }
func (m *delivery) Ack() error         { return m.d.Ack(false) }
func (m *delivery) Nack(rq bool) error { return m.d.Nack(false, rq) }

// DeathCount sums the per-queue counts from the x-death header.
func (m *delivery) DeathCount() int64 {
	deaths, ok := m.d.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	var total int64
	for _, entry := range deaths {
		table, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if count, ok := table["count"].(int64); ok {
			total += count
		}
	}
	return total
}
