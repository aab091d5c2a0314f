package repository

import (
	"context"

	"github.com/orderlab/orderflow/internal/model"
)

// OrderRepository persists the order aggregate. Get returns (nil, nil)
// when the order does not exist.
type OrderRepository interface {
	Get(ctx context.Context, orderID string) (*model.Order, error)
	Upsert(ctx context.Context, order *model.Order) error
}

// ProcessingStateRepository persists the processor-side state, keyed by
// order_id. Get returns (nil, nil) when the state does not exist.
type ProcessingStateRepository interface {
	Get(ctx context.Context, orderID string) (*model.ProcessingState, error)
	Upsert(ctx context.Context, state *model.ProcessingState) error
}

// OutboxWriter appends outbound events inside the enclosing transaction.
type OutboxWriter interface {
	Put(ctx context.Context, eventType string, payload interface{}) error
}

// InboxStore records processed event keys. Add surfaces a Conflict error
// on duplicate insert.
type InboxStore interface {
	Exists(ctx context.Context, eventKey string) (bool, error)
	Add(ctx context.Context, eventKey string) error
}

// OrderTx exposes the stores bound to one order-service transaction.
type OrderTx interface {
	Orders() OrderRepository
	Outbox() OutboxWriter
	Inbox() InboxStore
}

// OrderUnitOfWork scopes a transaction over the order-service stores.
// The transaction commits iff fn returns nil; otherwise it rolls back.
// Outbox rows written inside fn become visible to the publisher only
// after the commit.
type OrderUnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx OrderTx) error) error
}

// ProcessingTx exposes the stores bound to one processor-service transaction.
type ProcessingTx interface {
	States() ProcessingStateRepository
	Outbox() OutboxWriter
	Inbox() InboxStore
}

// ProcessingUnitOfWork scopes a transaction over the processor-service stores.
type ProcessingUnitOfWork interface {
	WithinTx(ctx context.Context, fn func(tx ProcessingTx) error) error
}

// OutboxStore is the publisher pump's view of the outbox. Marking and
// failure recording each run in their own short transaction so no
// transaction is ever held across broker I/O.
type OutboxStore interface {
	// GetUnpublished returns up to limit rows that are neither published
	// nor dead-lettered, in insertion (id) order.
	GetUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	MarkPublished(ctx context.Context, id int64) error
	// RecordFailure increments retry_count and, once maxRetries is
	// reached, stamps dlq_at. It reports whether the row was moved to
	// the dead letter queue by this call.
	RecordFailure(ctx context.Context, id int64, maxRetries int) (bool, error)
}
