package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/orderlab/orderflow/internal/model"
)

// orderStore is bound to one transaction.
type orderStore struct {
	tx *sqlx.Tx
}

type orderRow struct {
	OrderID    string          `db:"order_id"`
	CustomerID string          `db:"customer_id"`
	Items      json.RawMessage `db:"items"`
	Amount     float64         `db:"amount"`
	Status     string          `db:"status"`
	FailReason sql.NullString  `db:"fail_reason"`
	Version    int             `db:"version"`
}

func (s *orderStore) Get(ctx context.Context, orderID string) (*model.Order, error) {
	query := `
		SELECT order_id, customer_id, items, amount, status, fail_reason, version
		FROM orders
		WHERE order_id = $1
	`

	var row orderRow
	err := s.tx.GetContext(ctx, &row, query, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order %s: %w", orderID, err)
	}

	var items []model.ItemLine
	if err := json.Unmarshal(row.Items, &items); err != nil {
		return nil, fmt.Errorf("failed to decode items for order %s: %w", orderID, err)
	}

	return &model.Order{
		OrderID:     row.OrderID,
		CustomerID:  row.CustomerID,
		Items:       items,
		TotalAmount: row.Amount,
		Status:      model.OrderStatus(row.Status),
		FailReason:  row.FailReason.String,
		Version:     row.Version,
	}, nil
}

func (s *orderStore) Upsert(ctx context.Context, order *model.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to encode items: %w", err)
	}

	query := `
		INSERT INTO orders (order_id, customer_id, items, amount, status, fail_reason, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO UPDATE
		SET items = EXCLUDED.items,
			amount = EXCLUDED.amount,
			status = EXCLUDED.status,
			fail_reason = EXCLUDED.fail_reason,
			version = EXCLUDED.version
	`

	var failReason sql.NullString
	if order.FailReason != "" {
		failReason = sql.NullString{String: order.FailReason, Valid: true}
	}

	_, err = s.tx.ExecContext(ctx, query,
		order.OrderID,
		order.CustomerID,
		items,
		order.TotalAmount,
		string(order.Status),
		failReason,
		order.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert order %s: %w", order.OrderID, err)
	}
	return nil
}
