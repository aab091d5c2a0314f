package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/orderlab/orderflow/internal/model"
	"github.com/orderlab/orderflow/internal/repository"
)

// outboxWriter appends rows inside the enclosing transaction.
type outboxWriter struct {
	tx *sqlx.Tx
}

func (w *outboxWriter) Put(ctx context.Context, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode outbox payload: %w", err)
	}

	query := `
		INSERT INTO outbox (event_type, payload, published_at, retry_count, dlq_at, created_at)
		VALUES ($1, $2, NULL, 0, NULL, NOW())
	`
	if _, err := w.tx.ExecContext(ctx, query, eventType, body); err != nil {
		return fmt.Errorf("failed to enqueue %s event: %w", eventType, err)
	}
	return nil
}

// OutboxRepository is the publisher pump's store. Reads and updates run
// outside any unit of work; marking published and recording failures are
// each their own transaction so a crash between broker ack and mark
// leaves the row unpublished (duplicates are absorbed by the consumer
// inbox).
type OutboxRepository struct {
	BaseRepository
}

func NewOutboxRepository(base BaseRepository) repository.OutboxStore {
	return &OutboxRepository{base}
}

func (r *OutboxRepository) GetUnpublished(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	query := `
		SELECT id, event_type, payload, published_at, retry_count, dlq_at, created_at
		FROM outbox
		WHERE published_at IS NULL AND dlq_at IS NULL
		ORDER BY id ASC
		LIMIT $1
	`

	var events []*model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, query, limit)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unpublished events: %w", err)
	}
	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox
		SET published_at = NOW()
		WHERE id = $1 AND published_at IS NULL
	`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark event %d published: %w", id, err)
	}
	return nil
}

func (r *OutboxRepository) RecordFailure(ctx context.Context, id int64, maxRetries int) (bool, error) {
	query := `
		UPDATE outbox
		SET retry_count = retry_count + 1,
			dlq_at = CASE WHEN retry_count + 1 >= $2 THEN NOW() ELSE dlq_at END
		WHERE id = $1 AND published_at IS NULL AND dlq_at IS NULL
		RETURNING dlq_at IS NOT NULL
	`

	var moved bool
	err := r.db.QueryRowxContext(ctx, query, id, maxRetries).Scan(&moved)
	if errors.Is(err, sql.ErrNoRows) {
		// Row already settled by a concurrent pump.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record failure for event %d: %w", id, err)
	}
	return moved, nil
}
