package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/orderlab/orderflow/internal/repository"
)

// orderTx binds the order-service stores to one transaction.
type orderTx struct {
	tx *sqlx.Tx
}

func (t *orderTx) Orders() repository.OrderRepository { return &orderStore{tx: t.tx} }
func (t *orderTx) Outbox() repository.OutboxWriter    { return &outboxWriter{tx: t.tx} }
func (t *orderTx) Inbox() repository.InboxStore       { return &inboxStore{tx: t.tx} }

// OrderUnitOfWork implements repository.OrderUnitOfWork on Postgres.
type OrderUnitOfWork struct {
	BaseRepository
}

func NewOrderUnitOfWork(base BaseRepository) repository.OrderUnitOfWork {
	return &OrderUnitOfWork{base}
}

func (u *OrderUnitOfWork) WithinTx(ctx context.Context, fn func(tx repository.OrderTx) error) error {
	return u.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&orderTx{tx: tx})
	})
}

// processingTx binds the processor-service stores to one transaction.
type processingTx struct {
	tx *sqlx.Tx
}

func (t *processingTx) States() repository.ProcessingStateRepository {
	return &processingStateStore{tx: t.tx}
}
func (t *processingTx) Outbox() repository.OutboxWriter { return &outboxWriter{tx: t.tx} }
func (t *processingTx) Inbox() repository.InboxStore    { return &inboxStore{tx: t.tx} }

// ProcessingUnitOfWork implements repository.ProcessingUnitOfWork on Postgres.
type ProcessingUnitOfWork struct {
	BaseRepository
}

func NewProcessingUnitOfWork(base BaseRepository) repository.ProcessingUnitOfWork {
	return &ProcessingUnitOfWork{base}
}

func (u *ProcessingUnitOfWork) WithinTx(ctx context.Context, fn func(tx repository.ProcessingTx) error) error {
	return u.WithTx(ctx, func(tx *sqlx.Tx) error {
		return fn(&processingTx{tx: tx})
	})
}
