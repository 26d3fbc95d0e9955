package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Message status values.
const (
	StatusPending = "pending"
	StatusAcked   = "acked"
	StatusFailed  = "failed"
)

// MessageRecord is one outbound device message and its delivery outcome.
type MessageRecord struct {
	ID        string    `json:"id"`
	FlowID    string    `json:"flow_id,omitempty"`
	Payload   string    `json:"payload"` // JSON object stored as text
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
