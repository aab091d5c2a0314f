package consumer

import (
	"context"
	"encoding/json"

	"github.com/orderlab/orderflow/internal/model"
	orderService "github.com/orderlab/orderflow/internal/service/order"
	apperrors "github.com/orderlab/orderflow/pkg/errors"
)

// OrderProcessedHandler feeds order.processed deliveries into the
// apply-processed use case. Order service side.
type OrderProcessedHandler struct {
	service orderService.OrderServicer
}

func NewOrderProcessedHandler(service orderService.OrderServicer) *OrderProcessedHandler {
	return &OrderProcessedHandler{service: service}
}

func (h *OrderProcessedHandler) Handle(ctx context.Context, body []byte) error {
	var evt model.OrderProcessedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return apperrors.Validation("malformed order.processed payload", err)
	}
	if evt.OrderID == "" {
		return apperrors.Validation("order.processed event without order_id", nil)
	}
	return h.service.ApplyProcessed(ctx, evt)
}
