package model

import (
	"fmt"

	apperrors "github.com/orderlab/orderflow/pkg/errors"
)

type OrderStatus string

const (
	OrderStatusPending OrderStatus = "pending"
	OrderStatusDone    OrderStatus = "done"
	OrderStatusFailed  OrderStatus = "failed"
)

// ItemLine is a single order line.
type ItemLine struct {
	SKU      string  `json:"sku" db:"sku"`
	Quantity int     `json:"quantity" db:"quantity"`
	Price    float64 `json:"price" db:"price"`
}

func (i ItemLine) Total() float64 {
	return float64(i.Quantity) * i.Price
}

// Order is the order aggregate. The version starts at 0 and increases
// strictly on every applied order.processed event.
type Order struct {
	OrderID     string      `db:"order_id"`
	CustomerID  string      `db:"customer_id"`
	Items       []ItemLine  `db:"-"`
	TotalAmount float64     `db:"amount"`
	Status      OrderStatus `db:"status"`
	FailReason  string      `db:"fail_reason"`
	Version     int         `db:"version"`
}

// NewOrder validates the input and builds an order at version 0.
func NewOrder(orderID, customerID string, items []ItemLine) (*Order, error) {
	if orderID == "" {
		return nil, apperrors.Validation("order_id must not be empty", nil)
	}
	if customerID == "" {
		return nil, apperrors.Validation("customer_id must not be empty", nil)
	}
	if len(items) == 0 {
		return nil, apperrors.Validation("order must contain at least one item", nil)
	}
	for _, item := range items {
		if item.SKU == "" {
			return nil, apperrors.Validation("item sku must not be empty", nil)
		}
		if item.Quantity < 1 {
			return nil, apperrors.Validation(fmt.Sprintf("item %s: quantity must be positive", item.SKU), nil)
		}
		if item.Price < 0 {
			return nil, apperrors.Validation(fmt.Sprintf("item %s: price must not be negative", item.SKU), nil)
		}
	}

	order := &Order{
		OrderID:    orderID,
		CustomerID: customerID,
		Items:      items,
		Status:     OrderStatusPending,
		Version:    0,
	}
	order.TotalAmount = sumItems(items)
	return order, nil
}

func sumItems(items []ItemLine) float64 {
	var total float64
	for _, item := range items {
		total += item.Total()
	}
	return total
}

// ApplyProcessed applies an order.processed result. The version gate makes
// the highest-versioned event win regardless of delivery order: a version
// at or below the current one leaves the order untouched.
func (o *Order) ApplyProcessed(result ProcessingResult, failReason string, version int) bool {
	if version <= o.Version {
		return false
	}

	switch result {
	case ProcessingResultSuccess:
		o.Status = OrderStatusDone
		o.FailReason = ""
	case ProcessingResultFailed:
		o.Status = OrderStatusFailed
		o.FailReason = failReason
	}
	o.Version = version
	return true
}
