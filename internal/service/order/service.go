package order

import (
	"context"

	"github.com/orderlab/orderflow/internal/model"
	"github.com/orderlab/orderflow/internal/repository"
	apperrors "github.com/orderlab/orderflow/pkg/errors"
	"github.com/orderlab/orderflow/pkg/logger"
	"github.com/orderlab/orderflow/pkg/metrics"
)

// CreateOrderCommand carries the input of the create-order use case.
type CreateOrderCommand struct {
	OrderID    string
	CustomerID string
	Items      []model.ItemLine
}

type OrderServicer interface {
	// CreateOrder creates the order, or returns the stored order when the
	// order_id is already known. created reports which of the two happened.
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (order *model.Order, created bool, err error)
	// ApplyProcessed applies an order.processed event with inbox
	// deduplication and version gating.
	ApplyProcessed(ctx context.Context, evt model.OrderProcessedEvent) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)
}

type Service struct {
	uow     repository.OrderUnitOfWork
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(uow repository.OrderUnitOfWork, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		uow:     uow,
		logger:  log,
		metrics: m,
	}
}

func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*model.Order, bool, error) {
	var (
		result  *model.Order
		created bool
	)

	err := s.uow.WithinTx(ctx, func(tx repository.OrderTx) error {
		existing, err := tx.Orders().Get(ctx, cmd.OrderID)
		if err != nil {
			return err
		}
		if existing != nil {
			result = existing
			return nil
		}

		order, err := model.NewOrder(cmd.OrderID, cmd.CustomerID, cmd.Items)
		if err != nil {
			return err
		}
		if err := tx.Orders().Upsert(ctx, order); err != nil {
			return err
		}

		event := model.OrderCreatedEvent{
			OrderID:    order.OrderID,
			CustomerID: order.CustomerID,
			Items:      order.Items,
			Amount:     order.TotalAmount,
			Version:    order.Version,
		}
		if err := tx.Outbox().Put(ctx, model.EventTypeOrderCreated, event); err != nil {
			return err
		}

		result = order
		created = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if created {
		s.metrics.OrdersCreated.Inc()
		s.logger.Info("order created",
			"order_id", result.OrderID,
			"customer_id", result.CustomerID,
			"amount", result.TotalAmount)
	}
	return result, created, nil
}

func (s *Service) ApplyProcessed(ctx context.Context, evt model.OrderProcessedEvent) error {
	result, err := processingResult(evt.Status)
	if err != nil {
		return err
	}

	var failReason string
	if evt.FailReason != nil {
		failReason = *evt.FailReason
	}
	if result == model.ProcessingResultFailed && failReason == "" {
		return apperrors.Validation("failed order.processed event without fail_reason", nil)
	}

	eventKey := model.EventKey(model.EventTypeOrderProcessed, evt.OrderID, evt.Version)

	apply := func() (bool, error) {
		var applied bool
		err := s.uow.WithinTx(ctx, func(tx repository.OrderTx) error {
			exists, err := tx.Inbox().Exists(ctx, eventKey)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}

			order, err := tx.Orders().Get(ctx, evt.OrderID)
			if err != nil {
				return err
			}
			if order != nil && order.ApplyProcessed(result, failReason, evt.Version) {
				if err := tx.Orders().Upsert(ctx, order); err != nil {
					return err
				}
				applied = true
			}
			// Unknown orders and stale versions still record the key so
			// the event is never reprocessed.
			return tx.Inbox().Add(ctx, eventKey)
		})
		return applied, err
	}

	applied, err := apply()
	if apperrors.IsConflict(err) {
		// A concurrent redelivery claimed the inbox key first; the re-run
		// observes the entry and no-ops.
		applied, err = apply()
	}
	if err != nil {
		return err
	}

	if applied {
		s.logger.Info("order.processed applied",
			"order_id", evt.OrderID,
			"status", evt.Status,
			"version", evt.Version)
	} else {
		s.logger.Debug("order.processed absorbed",
			"order_id", evt.OrderID,
			"version", evt.Version)
	}
	return nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var result *model.Order
	err := s.uow.WithinTx(ctx, func(tx repository.OrderTx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, apperrors.NotFound("order", nil)
	}
	return result, nil
}

func processingResult(status string) (model.ProcessingResult, error) {
	switch model.ProcessingResult(status) {
	case model.ProcessingResultSuccess:
		return model.ProcessingResultSuccess, nil
	case model.ProcessingResultFailed:
		return model.ProcessingResultFailed, nil
	default:
		return "", apperrors.Validation("unknown order.processed status: "+status, nil)
	}
}
