package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/orderlab/orderflow/internal/model"
)

// processingStateStore is bound to one transaction.
type processingStateStore struct {
	tx *sqlx.Tx
}

type processingStateRow struct {
	OrderID      string         `db:"order_id"`
	Version      int            `db:"version"`
	Status       string         `db:"status"`
	AttemptCount int            `db:"attempt_count"`
	LastError    sql.NullString `db:"last_error"`
}

func (s *processingStateStore) Get(ctx context.Context, orderID string) (*model.ProcessingState, error) {
	query := `
		SELECT order_id, version, status, attempt_count, last_error
		FROM processing_states
		WHERE order_id = $1
	`

	var row processingStateRow
	err := s.tx.GetContext(ctx, &row, query, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get processing state %s: %w", orderID, err)
	}

	return &model.ProcessingState{
		OrderID:      row.OrderID,
		Version:      row.Version,
		Status:       model.ProcessingStatus(row.Status),
		AttemptCount: row.AttemptCount,
		LastError:    row.LastError.String,
	}, nil
}

func (s *processingStateStore) Upsert(ctx context.Context, state *model.ProcessingState) error {
	query := `
		INSERT INTO processing_states (order_id, version, status, attempt_count, last_error)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_id) DO UPDATE
		SET version = EXCLUDED.version,
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			last_error = EXCLUDED.last_error
	`

	var lastError sql.NullString
	if state.LastError != "" {
		lastError = sql.NullString{String: state.LastError, Valid: true}
	}

	_, err := s.tx.ExecContext(ctx, query,
		state.OrderID,
		state.Version,
		string(state.Status),
		state.AttemptCount,
		lastError,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert processing state %s: %w", state.OrderID, err)
	}
	return nil
}
