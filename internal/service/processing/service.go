package processing

import (
	"context"

	"github.com/orderlab/orderflow/internal/model"
	"github.com/orderlab/orderflow/internal/repository"
	apperrors "github.com/orderlab/orderflow/pkg/errors"
	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/metrics"
)

type ProcessingServicer interface {
	// HandleOrderCreated runs the processing policy against a consumed
	// order.created event and emits order.processed, deduplicated through
	// the inbox.
	HandleOrderCreated(ctx context.Context, evt model.OrderCreatedEvent) error
}

type Service struct {
	uow     repository.ProcessingUnitOfWork
	policy  Policy
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(uow repository.ProcessingUnitOfWork, policy Policy, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		uow:     uow,
		policy:  policy,
		logger:  log,
		metrics: m,
	}
}

func (s *Service) HandleOrderCreated(ctx context.Context, evt model.OrderCreatedEvent) error {
	if evt.OrderID == "" {
		return apperrors.Validation("order.created event without order_id", nil)
	}

	eventKey := model.EventKey(model.EventTypeOrderCreated, evt.OrderID, evt.Version)

	handle := func() (bool, error) {
		var processed bool
		err := s.uow.WithinTx(ctx, func(tx repository.ProcessingTx) error {
			exists, err := tx.Inbox().Exists(ctx, eventKey)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}

			state, err := tx.States().Get(ctx, evt.OrderID)
			if err != nil {
				return err
			}
			if state != nil && evt.Version < state.Version {
				// Stale event; record the key so it is never revisited.
				return tx.Inbox().Add(ctx, eventKey)
			}
			if state == nil {
				state = model.NewProcessingState(evt.OrderID)
			}

			result, reason := s.policy.Evaluate(evt.OrderID, evt.Items)
			state.RecordAttempt(result, reason, evt.Version)
			if err := tx.States().Upsert(ctx, state); err != nil {
				return err
			}

			out := model.OrderProcessedEvent{
				OrderID: evt.OrderID,
				Status:  string(result),
				Version: evt.Version + 1,
			}
			if reason != "" {
				out.FailReason = &reason
			}
			if err := tx.Outbox().Put(ctx, model.EventTypeOrderProcessed, out); err != nil {
				return err
			}
			if err := tx.Inbox().Add(ctx, eventKey); err != nil {
				return err
			}

			processed = true
			return nil
		})
		return processed, err
	}

	processed, err := handle()
	if apperrors.IsConflict(err) {
		// Lost the inbox race to a concurrent redelivery; the re-run
		// observes the entry and no-ops.
		processed, err = handle()
	}
	if err != nil {
		return err
	}

	if processed {
		s.metrics.OrdersProcessed.Inc()
		s.logger.Info("order processed",
			"order_id", evt.OrderID,
			"version", evt.Version)
	} else {
		s.logger.Debug("order.created absorbed",
			"order_id", evt.OrderID,
			"version", evt.Version)
	}
	return nil
}
