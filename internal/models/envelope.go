package models

import (
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an AlertEvent with delivery metadata for fan-out
type Envelope struct {
	ID    string     `json:"id"`
	Alert AlertEvent `json:"alert"`

	// Internal processing metadata
	EmittedAt    time.Time `json:"emitted_at"`
	Node         string    `json:"node"`
	BatchID      string    `json:"batch_id,omitempty"`
	BatchIndex   int       `json:"batch_index,omitempty"`
	PartitionKey string    `json:"partition_key"`
}

// NewEnvelope creates a new envelope wrapping an alert event
func NewEnvelope(alert AlertEvent, node string) *Envelope {
	return &Envelope{
		ID:           uuid.New().String(),
		Alert:        alert,
		EmittedAt:    time.Now().UTC(),
		Node:         node,
		PartitionKey: string(alert.Metric), // partition by metric for ordering
	}
}

// WithBatch sets batch metadata on the envelope
func (e *Envelope) WithBatch(batchID string, index int) *Envelope {
	e.BatchID = batchID
	e.BatchIndex = index
	return e
}
