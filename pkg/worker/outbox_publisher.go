package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/orderlab/orderflow/internal/repository"
	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/messaging"
	"github.com/orderlab/orderflow/pkg/metrics"
)

// OutboxPublisherConfig holds pump settings.
type OutboxPublisherConfig struct {
	BatchSize        int
	PollInterval     time.Duration
	MaxRetries       int
	OperationTimeout time.Duration
}

// OutboxPublisher is the background pump draining the outbox into the
// broker. Rows are published in id order and marked published only after
// the broker accepts them, so a crash between the two duplicates the
// event instead of losing it; the consumer-side inbox absorbs the
// duplicate. One pump per database replica.
type OutboxPublisher struct {
	store   repository.OutboxStore
	broker  messaging.Broker
	config  OutboxPublisherConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewOutboxPublisher(
	store repository.OutboxStore,
	broker messaging.Broker,
	config OutboxPublisherConfig,
	log *logger.Logger,
	m *metrics.Metrics,
) *OutboxPublisher {
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.MaxRetries <= 0 {
		panic("MaxRetries must be greater than 0")
	}
	if config.OperationTimeout <= 0 {
		panic("OperationTimeout must be greater than 0")
	}

	return &OutboxPublisher{
		store:   store,
		broker:  broker,
		config:  config,
		logger:  log,
		metrics: m,
	}
}

// Start runs the pump until ctx is cancelled. The current batch finishes
// its publish-then-mark cycle before the pump exits.
func (p *OutboxPublisher) Start(ctx context.Context) {
	p.logger.Info("starting outbox publisher")

	for {
		published, err := p.PublishBatch(ctx)
		if err != nil {
			// Transient failures are retried on the next cycle.
			p.logger.Error(err, "failed to publish outbox batch")
		}

		if published > 0 && ctx.Err() == nil {
			continue
		}

		select {
		case <-ctx.Done():
			p.logger.Info("shutting down outbox publisher")
			return
		case <-time.After(p.config.PollInterval):
		}
	}
}

// PublishBatch drains one batch and reports how many rows it published.
func (p *OutboxPublisher) PublishBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.PublishingLatency)
	defer timer.ObserveDuration()

	fetchCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	events, err := p.store.GetUnpublished(fetchCtx, p.config.BatchSize)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unpublished events: %w", err)
	}

	published := 0
	for _, event := range events {
		if err := p.publishEvent(ctx, event.ID, event.EventType, event.Payload); err != nil {
			p.logger.Error(err, "failed to publish event",
				"outbox_id", event.ID,
				"event_type", event.EventType)
			continue
		}
		published++
	}
	return published, nil
}

func (p *OutboxPublisher) publishEvent(ctx context.Context, id int64, eventType string, payload []byte) error {
	messageID := fmt.Sprintf("outbox-%d", id)

	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	err := p.broker.Publish(opCtx, eventType, messageID, payload)
	cancel()

	if err != nil {
		p.metrics.EventsFailed.Inc()
		p.recordFailure(ctx, id, eventType, messageID, payload, err)
		return err
	}

	markCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()
	if err := p.store.MarkPublished(markCtx, id); err != nil {
		// The row stays unpublished and will be re-sent next cycle; the
		// consumer inbox deduplicates the repeat.
		return fmt.Errorf("failed to mark event %d published: %w", id, err)
	}

	p.metrics.EventsPublished.Inc()
	return nil
}

func (p *OutboxPublisher) recordFailure(ctx context.Context, id int64, eventType, messageID string, payload []byte, cause error) {
	opCtx, cancel := context.WithTimeout(ctx, p.config.OperationTimeout)
	defer cancel()

	moved, err := p.store.RecordFailure(opCtx, id, p.config.MaxRetries)
	if err != nil {
		p.logger.Error(err, "failed to record publish failure", "outbox_id", id)
		return
	}
	if !moved {
		return
	}

	p.metrics.EventsMovedToDLQ.Inc()
	p.logger.Warn("event moved to DLQ",
		"outbox_id", id,
		"event_type", eventType,
		"reason", cause.Error())

	if err := p.broker.PublishToDLQ(opCtx, eventType, messageID, payload, cause.Error()); err != nil {
		// The row is already stamped dlq_at; the DLQ copy is best effort.
		p.logger.Error(err, "failed to publish event to DLQ", "outbox_id", id)
	}
}
