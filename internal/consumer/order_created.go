package consumer

import (
	"context"
	"encoding/json"

	"github.com/orderlab/orderflow/internal/model"
	processingService "github.com/orderlab/orderflow/internal/service/processing"
	apperrors "github.com/orderlab/orderflow/pkg/errors"
)

// OrderCreatedHandler feeds order.created deliveries into the
// handle-order-created use case. Processor service side.
type OrderCreatedHandler struct {
	service processingService.ProcessingServicer
}

func NewOrderCreatedHandler(service processingService.ProcessingServicer) *OrderCreatedHandler {
	return &OrderCreatedHandler{service: service}
}

func (h *OrderCreatedHandler) Handle(ctx context.Context, body []byte) error {
	var evt model.OrderCreatedEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		return apperrors.Validation("malformed order.created payload", err)
	}
	return h.service.HandleOrderCreated(ctx, evt)
}
