package model

type ProcessingStatus string

const (
	ProcessingStatusPending ProcessingStatus = "pending"
	ProcessingStatusSuccess ProcessingStatus = "success"
	ProcessingStatusFailed  ProcessingStatus = "failed"
)

// ProcessingResult is the outcome the processing policy produces for one
// attempt. It travels on the wire as the status of order.processed.
type ProcessingResult string

const (
	ProcessingResultSuccess ProcessingResult = "success"
	ProcessingResultFailed  ProcessingResult = "failed"
)

// ProcessingState tracks the processor side of a conversation, keyed by
// order_id. attempt_count increments on every processing attempt.
type ProcessingState struct {
	OrderID      string           `db:"order_id"`
	Version      int              `db:"version"`
	Status       ProcessingStatus `db:"status"`
	AttemptCount int              `db:"attempt_count"`
	LastError    string           `db:"last_error"`
}

// NewProcessingState creates the state on first reception of order.created
// for an unknown order.
func NewProcessingState(orderID string) *ProcessingState {
	return &ProcessingState{
		OrderID: orderID,
		Status:  ProcessingStatusPending,
	}
}

// RecordAttempt applies the outcome of one processing attempt.
func (s *ProcessingState) RecordAttempt(result ProcessingResult, reason string, version int) {
	s.AttemptCount++
	s.Version = version
	switch result {
	case ProcessingResultSuccess:
		s.Status = ProcessingStatusSuccess
		s.LastError = ""
	case ProcessingResultFailed:
		s.Status = ProcessingStatusFailed
		s.LastError = reason
	}
}
