package model

import (
	"encoding/json"
	"time"
)

// OutboxEvent is one durable outbound event row. Rows are written only
// inside a unit-of-work commit and consumed only by the publisher pump.
//
// A row with a non-nil PublishedAt is immutable and ignored by the
// publisher; a row with a non-nil DLQAt exhausted its retries.
type OutboxEvent struct {
	ID          int64           `db:"id"`
	EventType   string          `db:"event_type"`
	Payload     json.RawMessage `db:"payload"`
	PublishedAt *time.Time      `db:"published_at"`
	RetryCount  int             `db:"retry_count"`
	DLQAt       *time.Time      `db:"dlq_at"`
	CreatedAt   time.Time       `db:"created_at"`
}
