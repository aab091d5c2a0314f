package model

import "fmt"

// Event routing keys. Queue and DLQ names derive from these.
const (
	EventTypeOrderCreated   = "order.created"
	EventTypeOrderProcessed = "order.processed"
)

// EventKey builds the inbox deduplication key for an event.
func EventKey(eventType, orderID string, version int) string {
	return fmt.Sprintf("%s:%s:%d", eventType, orderID, version)
}

// OrderCreatedEvent is the order.created wire envelope.
type OrderCreatedEvent struct {
	OrderID    string     `json:"order_id"`
	CustomerID string     `json:"customer_id"`
	Items      []ItemLine `json:"items"`
	Amount     float64    `json:"amount"`
	Version    int        `json:"version"`
}

// OrderProcessedEvent is the order.processed wire envelope.
type OrderProcessedEvent struct {
	OrderID    string  `json:"order_id"`
	Status     string  `json:"status"`
	FailReason *string `json:"fail_reason"`
	Version    int     `json:"version"`
}
