package worker

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/orderlab/orderflow/pkg/errors"
	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/messaging"
	"github.com/orderlab/orderflow/pkg/metrics"
)

type fakeDelivery struct {
	body       []byte
	messageID  string
	deathCount int64

	acked    bool
	nacked   bool
	requeued bool
}

func (d *fakeDelivery) Body() []byte       { return d.body }
func (d *fakeDelivery) MessageID() string  { return d.messageID }
func (d *fakeDelivery) RoutingKey() string { return "" }
func (d *fakeDelivery) Redelivered() bool  { return false }
func (d *fakeDelivery) DeathCount() int64  { return d.deathCount }

func (d *fakeDelivery) Ack() error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	d.nacked = true
	d.requeued = requeue
	return nil
}

func testConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Queue:            "order.created.q",
		Prefetch:         10,
		MaxRetries:       3,
		OperationTimeout: time.Second,
		DrainTimeout:     time.Second,
	}
}

func newTestConsumer(broker messaging.Broker, handler EventHandler, cfg ConsumerConfig) *Consumer {
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewConsumer(broker, handler, cfg, log, metrics.New(prometheus.NewRegistry()))
}

func TestProcessAcksOnSuccess(t *testing.T) {
	consumer := newTestConsumer(&fakeBroker{}, EventHandlerFunc(func(context.Context, []byte) error {
		return nil
	}), testConsumerConfig())

	d := &fakeDelivery{messageID: "m-1", body: []byte(`{}`)}
	consumer.Process(d)

	assert.True(t, d.acked)
	assert.False(t, d.nacked)
}

func TestProcessRejectsPoison(t *testing.T) {
	consumer := newTestConsumer(&fakeBroker{}, EventHandlerFunc(func(context.Context, []byte) error {
		return apperrors.Validation("malformed event", nil)
	}), testConsumerConfig())

	d := &fakeDelivery{messageID: "m-1", body: []byte(`not json`)}
	consumer.Process(d)

	// No requeue: the queue's dead letter binding takes it.
	assert.False(t, d.acked)
	assert.True(t, d.nacked)
	assert.False(t, d.requeued)
}

func TestProcessRequeuesTransientFailure(t *testing.T) {
	consumer := newTestConsumer(&fakeBroker{}, EventHandlerFunc(func(context.Context, []byte) error {
		return errors.New("db unavailable")
	}), testConsumerConfig())

	d := &fakeDelivery{messageID: "m-1", body: []byte(`{}`)}
	consumer.Process(d)

	assert.True(t, d.nacked)
	assert.True(t, d.requeued)
}

func TestProcessBoundsRedeliveries(t *testing.T) {
	cfg := testConsumerConfig()
	cfg.MaxRetries = 2
	consumer := newTestConsumer(&fakeBroker{}, EventHandlerFunc(func(context.Context, []byte) error {
		return errors.New("db unavailable")
	}), cfg)

	first := &fakeDelivery{messageID: "m-1", body: []byte(`{}`)}
	consumer.Process(first)
	require.True(t, first.requeued)

	second := &fakeDelivery{messageID: "m-1", body: []byte(`{}`)}
	consumer.Process(second)
	assert.True(t, second.nacked)
	assert.False(t, second.requeued, "retries exhausted must reject without requeue")
}

func TestProcessCountsBrokerDeaths(t *testing.T) {
	consumer := newTestConsumer(&fakeBroker{}, EventHandlerFunc(func(context.Context, []byte) error {
		return errors.New("db unavailable")
	}), testConsumerConfig())

	// Deaths recorded by the broker from earlier incarnations count
	// against the bound.
	d := &fakeDelivery{messageID: "m-1", body: []byte(`{}`), deathCount: 5}
	consumer.Process(d)

	assert.True(t, d.nacked)
	assert.False(t, d.requeued)
}

func TestProcessSuccessResetsAttempts(t *testing.T) {
	var fail bool
	consumer := newTestConsumer(&fakeBroker{}, EventHandlerFunc(func(context.Context, []byte) error {
		if fail {
			return errors.New("db unavailable")
		}
		return nil
	}), testConsumerConfig())

	fail = true
	consumer.Process(&fakeDelivery{messageID: "m-1", body: []byte(`{}`)})

	fail = false
	consumer.Process(&fakeDelivery{messageID: "m-1", body: []byte(`{}`)})

	// A fresh message reusing the id starts from a clean slate.
	fail = true
	d := &fakeDelivery{messageID: "m-1", body: []byte(`{}`)}
	consumer.Process(d)
	assert.True(t, d.requeued)
}

func TestConsumerStartDrains(t *testing.T) {
	deliveries := make(chan messaging.Delivery, 1)
	d := &fakeDelivery{messageID: "m-1", body: []byte(`{}`)}
	deliveries <- d
	close(deliveries)

	consumer := newTestConsumer(&fakeBroker{deliveries: deliveries}, EventHandlerFunc(func(context.Context, []byte) error {
		return nil
	}), testConsumerConfig())

	err := consumer.Start(context.Background())
	require.NoError(t, err)
	assert.True(t, d.acked)
}
