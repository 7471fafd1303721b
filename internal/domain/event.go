package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("event not found")

// Status is the processing state of an event. The set is closed: rows only
// ever move PROCESSING -> COMPLETED and are never deleted during normal
// operation, so row existence plus status fully encodes processing history.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
)

// Event is one row of the consumer_processed_events table.
type Event struct {
	EventID   string    `json:"event_id"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Envelope is the wire form an upstream source delivers. The same ID may
// arrive any number of times (at-least-once); dedup happens at the claim
// layer, not here.
type Envelope struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}
