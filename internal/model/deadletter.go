package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Dead-letter reasons.
const (
	DeadLetterReasonRetriesExhausted = "retries_exhausted"
	DeadLetterReasonCircuitOpen      = "circuit_open"
)

// AttemptError records one failed delivery attempt for diagnosis.
type AttemptError struct {
	Attempt    int       `json:"attempt"`
	Kind       string    `json:"kind"`
	Error      string    `json:"error"`
	OccurredAt time.Time `json:"occurred_at"`
}

// AttemptErrors is stored as a jsonb column.
type AttemptErrors []AttemptError

func (a AttemptErrors) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	return json.Marshal(a)
}

func (a *AttemptErrors) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported type for AttemptErrors: %T", src)
	}
}

// DeadLetterEntry holds a notification that exhausted its retry budget
// or was rejected by an open circuit, with the full payload and the
// per-attempt failure history.
type DeadLetterEntry struct {
	ID              uuid.UUID       `db:"id" json:"id"`
	UserID          uuid.UUID       `db:"user_id" json:"user_id"`
	Channel         Channel         `db:"channel" json:"channel"`
	Type            string          `db:"type" json:"type"`
	Recipient       string          `db:"recipient" json:"recipient"`
	CorrelationID   string          `db:"correlation_id" json:"correlation_id"`
	Payload         []byte          `db:"payload" json:"payload"`
	Reason          string          `db:"reason" json:"reason"`
	Attempts        int             `db:"attempts" json:"attempts"`
	FailureHistory  AttemptErrors   `db:"failure_history" json:"failure_history"`
	FirstFailedAt   time.Time       `db:"first_failed_at" json:"first_failed_at"`
	LastAttemptAt   time.Time       `db:"last_attempt_at" json:"last_attempt_at"`
	ReprocessedFrom *uuid.UUID      `db:"reprocessed_from" json:"reprocessed_from,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
}

// DecodePayload restores the original notification payload.
func (e *DeadLetterEntry) DecodePayload() (*NotificationPayload, error) {
	var p NotificationPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return nil, fmt.Errorf("failed to decode dead-letter payload: %w", err)
	}
	return &p, nil
}
