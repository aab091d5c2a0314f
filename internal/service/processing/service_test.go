package processing

import (
	"context"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderlab/orderflow/internal/model"
	"github.com/orderlab/orderflow/internal/repository"
	apperrors "github.com/orderlab/orderflow/pkg/errors"
	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/metrics"
)

type stubPolicy struct {
	result model.ProcessingResult
	reason string
	calls  int
}

func (p *stubPolicy) Evaluate(string, []model.ItemLine) (model.ProcessingResult, string) {
	p.calls++
	return p.result, p.reason
}

type fakeStateStore struct {
	states map[string]model.ProcessingState
}

func (s *fakeStateStore) Get(_ context.Context, orderID string) (*model.ProcessingState, error) {
	st, ok := s.states[orderID]
	if !ok {
		return nil, nil
	}
	cp := st
	return &cp, nil
}

func (s *fakeStateStore) Upsert(_ context.Context, state *model.ProcessingState) error {
	s.states[state.OrderID] = *state
	return nil
}

type outboxRecord struct {
	eventType string
	payload   interface{}
}

type fakeOutbox struct {
	events []outboxRecord
}

func (o *fakeOutbox) Put(_ context.Context, eventType string, payload interface{}) error {
	o.events = append(o.events, outboxRecord{eventType: eventType, payload: payload})
	return nil
}

type fakeInbox struct {
	keys     map[string]bool
	external map[string]bool

	conflictNextAdd bool
}

func (i *fakeInbox) Exists(_ context.Context, eventKey string) (bool, error) {
	return i.keys[eventKey] || i.external[eventKey], nil
}

func (i *fakeInbox) Add(_ context.Context, eventKey string) error {
	if i.conflictNextAdd {
		i.conflictNextAdd = false
		i.external[eventKey] = true
		return apperrors.Conflict("duplicate event key", nil)
	}
	if i.keys[eventKey] || i.external[eventKey] {
		return apperrors.Conflict("duplicate event key", nil)
	}
	i.keys[eventKey] = true
	return nil
}

type fakeProcessingTx struct {
	states *fakeStateStore
	outbox *fakeOutbox
	inbox  *fakeInbox
}

func (t *fakeProcessingTx) States() repository.ProcessingStateRepository { return t.states }
func (t *fakeProcessingTx) Outbox() repository.OutboxWriter              { return t.outbox }
func (t *fakeProcessingTx) Inbox() repository.InboxStore                 { return t.inbox }

type fakeProcessingUoW struct {
	tx      *fakeProcessingTx
	commits int
}

func newFakeProcessingUoW() *fakeProcessingUoW {
	return &fakeProcessingUoW{
		tx: &fakeProcessingTx{
			states: &fakeStateStore{states: make(map[string]model.ProcessingState)},
			outbox: &fakeOutbox{},
			inbox:  &fakeInbox{keys: make(map[string]bool), external: make(map[string]bool)},
		},
	}
}

func (u *fakeProcessingUoW) WithinTx(_ context.Context, fn func(tx repository.ProcessingTx) error) error {
	states := make(map[string]model.ProcessingState, len(u.tx.states.states))
	for k, v := range u.tx.states.states {
		states[k] = v
	}
	keys := make(map[string]bool, len(u.tx.inbox.keys))
	for k := range u.tx.inbox.keys {
		keys[k] = true
	}
	outboxLen := len(u.tx.outbox.events)

	if err := fn(u.tx); err != nil {
		u.tx.states.states = states
		u.tx.inbox.keys = keys
		u.tx.outbox.events = u.tx.outbox.events[:outboxLen]
		return err
	}
	u.commits++
	return nil
}

func newTestService(policy Policy) (*Service, *fakeProcessingUoW) {
	uow := newFakeProcessingUoW()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	m := metrics.New(prometheus.NewRegistry())
	return NewService(uow, policy, log, m), uow
}

func createdEvent(version int) model.OrderCreatedEvent {
	return model.OrderCreatedEvent{
		OrderID:    "ord-1",
		CustomerID: "c-1",
		Items:      []model.ItemLine{{SKU: "laptop", Quantity: 1, Price: 10}},
		Amount:     10,
		Version:    version,
	}
}

func TestHandleOrderCreatedSuccess(t *testing.T) {
	policy := &stubPolicy{result: model.ProcessingResultSuccess}
	svc, uow := newTestService(policy)

	err := svc.HandleOrderCreated(context.Background(), createdEvent(0))
	require.NoError(t, err)
	assert.Equal(t, 1, policy.calls)

	state := uow.tx.states.states["ord-1"]
	assert.Equal(t, model.ProcessingStatusSuccess, state.Status)
	assert.Equal(t, 1, state.AttemptCount)
	assert.Empty(t, state.LastError)

	require.Len(t, uow.tx.outbox.events, 1)
	rec := uow.tx.outbox.events[0]
	assert.Equal(t, model.EventTypeOrderProcessed, rec.eventType)
	out, ok := rec.payload.(model.OrderProcessedEvent)
	require.True(t, ok)
	assert.Equal(t, "ord-1", out.OrderID)
	assert.Equal(t, string(model.ProcessingResultSuccess), out.Status)
	assert.Equal(t, 1, out.Version)
	assert.Nil(t, out.FailReason)

	assert.True(t, uow.tx.inbox.keys["order.created:ord-1:0"])
}

func TestHandleOrderCreatedFailure(t *testing.T) {
	policy := &stubPolicy{result: model.ProcessingResultFailed, reason: "embargo:teapot"}
	svc, uow := newTestService(policy)

	err := svc.HandleOrderCreated(context.Background(), createdEvent(0))
	require.NoError(t, err)

	state := uow.tx.states.states["ord-1"]
	assert.Equal(t, model.ProcessingStatusFailed, state.Status)
	assert.Equal(t, "embargo:teapot", state.LastError)

	require.Len(t, uow.tx.outbox.events, 1)
	out := uow.tx.outbox.events[0].payload.(model.OrderProcessedEvent)
	require.NotNil(t, out.FailReason)
	assert.Equal(t, "embargo:teapot", *out.FailReason)
}

func TestHandleOrderCreatedDuplicate(t *testing.T) {
	policy := &stubPolicy{result: model.ProcessingResultSuccess}
	svc, uow := newTestService(policy)

	require.NoError(t, svc.HandleOrderCreated(context.Background(), createdEvent(0)))
	require.NoError(t, svc.HandleOrderCreated(context.Background(), createdEvent(0)))

	// The redelivery is absorbed by the inbox: one attempt, one emission.
	assert.Equal(t, 1, policy.calls)
	assert.Equal(t, 1, uow.tx.states.states["ord-1"].AttemptCount)
	assert.Len(t, uow.tx.outbox.events, 1)
}

func TestHandleOrderCreatedStaleVersion(t *testing.T) {
	policy := &stubPolicy{result: model.ProcessingResultSuccess}
	svc, uow := newTestService(policy)

	state := model.NewProcessingState("ord-1")
	state.Version = 5
	uow.tx.states.states["ord-1"] = *state

	err := svc.HandleOrderCreated(context.Background(), createdEvent(1))
	require.NoError(t, err)

	assert.Equal(t, 0, policy.calls)
	assert.Empty(t, uow.tx.outbox.events)
	assert.Equal(t, 0, uow.tx.states.states["ord-1"].AttemptCount)
	assert.True(t, uow.tx.inbox.keys["order.created:ord-1:1"])
}

func TestHandleOrderCreatedMissingOrderID(t *testing.T) {
	svc, _ := newTestService(&stubPolicy{result: model.ProcessingResultSuccess})

	err := svc.HandleOrderCreated(context.Background(), model.OrderCreatedEvent{})
	assert.True(t, apperrors.IsValidation(err))
}

func TestHandleOrderCreatedConflictRetries(t *testing.T) {
	policy := &stubPolicy{result: model.ProcessingResultSuccess}
	svc, uow := newTestService(policy)
	uow.tx.inbox.conflictNextAdd = true

	err := svc.HandleOrderCreated(context.Background(), createdEvent(0))
	require.NoError(t, err)

	// The concurrent consumer committed first; this run rolled back and
	// the re-run observed the inbox entry.
	assert.Empty(t, uow.tx.outbox.events)
	assert.Empty(t, uow.tx.states.states)
}
