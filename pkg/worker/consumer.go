package worker

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/orderlab/orderflow/pkg/errors"
	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/messaging"
	"github.com/orderlab/orderflow/pkg/metrics"
)

// EventHandler processes one decoded message body. Returning a
// Validation error marks the message as poison (rejected without
// requeue); any other error requeues it for redelivery.
type EventHandler interface {
	Handle(ctx context.Context, body []byte) error
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ctx context.Context, body []byte) error

func (f EventHandlerFunc) Handle(ctx context.Context, body []byte) error {
	return f(ctx, body)
}

// ConsumerConfig holds pipeline settings for one queue.
type ConsumerConfig struct {
	Queue            string
	Prefetch         int
	MaxRetries       int
	OperationTimeout time.Duration
	DrainTimeout     time.Duration
}

// Consumer binds one handler to one durable queue. Up to Prefetch
// messages are in flight concurrently; per-order correctness comes from
// the inbox and version gate inside the handler's unit of work, not from
// delivery order.
type Consumer struct {
	broker  messaging.Broker
	handler EventHandler
	config  ConsumerConfig
	logger  *logger.Logger
	metrics *metrics.Metrics

	// attempts counts requeue cycles per message id; nack-with-requeue
	// does not grow the broker's x-death header, so the bound is kept
	// here and backed by DeathCount across restarts.
	mu       sync.Mutex
	attempts map[string]int64
}

func NewConsumer(
	broker messaging.Broker,
	handler EventHandler,
	config ConsumerConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *Consumer {
	if config.Queue == "" {
		panic("Queue must be set")
	}
	if config.Prefetch <= 0 {
		panic("Prefetch must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.OperationTimeout <= 0 {
		panic("OperationTimeout must be greater than 0")
	}
	if config.DrainTimeout <= 0 {
		panic("DrainTimeout must be greater than 0")
	}

	return &Consumer{
		broker:   broker,
		handler:  handler,
		config:   config,
		logger:   log.WithFields(map[string]interface{}{"queue": config.Queue}),
		metrics:  m,
		attempts: make(map[string]int64),
	}
}

// Start consumes until ctx is cancelled, then drains in-flight handlers
// for up to DrainTimeout.
func (c *Consumer) Start(ctx context.Context) error {
	deliveries, err := c.broker.Consume(ctx, c.config.Queue, c.config.Prefetch)
	if err != nil {
		return err
	}

	c.logger.Info("starting consumer")

	var wg sync.WaitGroup
	for d := range deliveries {
		wg.Add(1)
		go func(d messaging.Delivery) {
			defer wg.Done()
			c.Process(d)
		}(d)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("consumer drained")
	case <-time.After(c.config.DrainTimeout):
		// Unsettled deliveries are requeued when the channel closes.
		c.logger.Warn("consumer drain timed out")
	}
	return nil
}

// Process settles one delivery. The handler runs on a detached context
// so an in-flight unit of work can commit during shutdown drain.
func (c *Consumer) Process(d messaging.Delivery) {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.OperationTimeout)
	defer cancel()

	err := c.handler.Handle(ctx, d.Body())
	if err == nil {
		c.forget(d.MessageID())
		if err := d.Ack(); err != nil {
			c.logger.Error(err, "failed to ack message", "message_id", d.MessageID())
			return
		}
		c.metrics.MessagesConsumed.WithLabelValues(c.config.Queue, "ack").Inc()
		return
	}

	if apperrors.IsValidation(err) {
		// Poison: reject without requeue; the queue's DLX binding routes
		// it to the DLQ.
		c.logger.Warn("rejecting poison message",
			"message_id", d.MessageID(),
			"error", err.Error())
		c.forget(d.MessageID())
		c.reject(d, "poison")
		return
	}

	if c.bump(d) >= int64(c.config.MaxRetries) {
		c.logger.Error(err, "retries exhausted, rejecting message",
			"message_id", d.MessageID())
		c.forget(d.MessageID())
		c.reject(d, "retries_exhausted")
		return
	}

	c.logger.Warn("requeueing message after handler failure",
		"message_id", d.MessageID(),
		"error", err.Error())
	if err := d.Nack(true); err != nil {
		c.logger.Error(err, "failed to nack message", "message_id", d.MessageID())
		return
	}
	c.metrics.MessagesConsumed.WithLabelValues(c.config.Queue, "requeue").Inc()
}

func (c *Consumer) reject(d messaging.Delivery, reason string) {
	if err := d.Nack(false); err != nil {
		c.logger.Error(err, "failed to reject message", "message_id", d.MessageID())
		return
	}
	c.metrics.MessagesRejected.WithLabelValues(c.config.Queue, reason).Inc()
}

func (c *Consumer) bump(d messaging.Delivery) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts[d.MessageID()]++
	return c.attempts[d.MessageID()] + d.DeathCount()
}

func (c *Consumer) forget(messageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attempts, messageID)
}
