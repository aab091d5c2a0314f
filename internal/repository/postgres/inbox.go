package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	apperrors "github.com/orderlab/orderflow/pkg/errors"
)

const uniqueViolation = "23505"

// inboxStore is bound to one transaction. Presence of an event key means
// the effects of that event are durable.
type inboxStore struct {
	tx *sqlx.Tx
}

func (s *inboxStore) Exists(ctx context.Context, eventKey string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM processed_inbox WHERE event_key = $1)`
	if err := s.tx.GetContext(ctx, &exists, query, eventKey); err != nil {
		return false, fmt.Errorf("failed to check inbox key %s: %w", eventKey, err)
	}
	return exists, nil
}

func (s *inboxStore) Add(ctx context.Context, eventKey string) error {
	query := `INSERT INTO processed_inbox (event_key) VALUES ($1)`
	if _, err := s.tx.ExecContext(ctx, query, eventKey); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return apperrors.Conflict(fmt.Sprintf("inbox key %s already recorded", eventKey), err)
		}
		return fmt.Errorf("failed to add inbox key %s: %w", eventKey, err)
	}
	return nil
}
