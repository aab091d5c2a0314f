package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Outbox publisher metrics
	EventsPublished   prometheus.Counter
	EventsFailed      prometheus.Counter
	EventsMovedToDLQ  prometheus.Counter
	PublishingLatency prometheus.Histogram

	// Use case metrics
	OrdersCreated   prometheus.Counter
	OrdersProcessed prometheus.Counter

	// Consumer metrics
	MessagesConsumed *prometheus.CounterVec
	MessagesRejected *prometheus.CounterVec
}

// New creates and registers all application metrics on the given registerer.
// Each process owns a private registry so tests can construct Metrics freely.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events successfully published",
		}),
		EventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "events_failed_total",
			Help: "Total number of events that failed to publish",
		}),
		EventsMovedToDLQ: factory.NewCounter(prometheus.CounterOpts{
			Name: "events_moved_to_dlq_total",
			Help: "Total number of events moved to the dead letter queue",
		}),
		PublishingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "outbox_processing_duration_seconds",
			Help:    "Time spent publishing outbox batches",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OrdersCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Total number of orders created",
		}),
		OrdersProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "orders_processed_total",
			Help: "Total number of orders processed",
		}),
		MessagesConsumed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_consumed_total",
			Help: "Total number of messages consumed per queue",
		}, []string{"queue", "outcome"}),
		MessagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "messages_rejected_total",
			Help: "Total number of messages rejected without requeue",
		}, []string{"queue", "reason"}),
	}
}
