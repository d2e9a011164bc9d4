package models

import (
	"errors"
	"time"
)

// Job statuses recorded by the relay.
const (
	JobQueued     = "queued"
	JobDispatched = "dispatched"
	JobFailed     = "failed"
)

// IngestEnvelope is the signed payload the gateway forwards to the relay.
// The HMAC signature covers the exact marshalled bytes of this structure.
type IngestEnvelope struct {
	IdempotencyKey string    `json:"idempotency_key"`
	Source         string    `json:"source"`
	Type           string    `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	Alert          Alert     `json:"alert"`
}

// Validate checks envelope field constraints.
func (e *IngestEnvelope) Validate() error {
	if e.IdempotencyKey == "" {
		return errors.New("envelope idempotency_key must not be empty")
	}
	if e.Source == "" {
		return errors.New("envelope source must not be empty")
	}
	if e.Timestamp.IsZero() {
		return errors.New("envelope timestamp must be set")
	}
	return e.Alert.Validate()
}

// JobRecord is one relay delivery job, unique on IdempotencyKey.
type JobRecord struct {
	ID             int64     `json:"id"`
	IdempotencyKey string    `json:"idempotency_key"`
	Source         string    `json:"source"`
	Type           string    `json:"type"`
	InstrumentID   string    `json:"instrument_id"`
	Level          string    `json:"level"`
	DeltaPct       float64   `json:"delta_pct"`
	TriggeredAt    time.Time `json:"triggered_at"`
	Ack            string    `json:"ack,omitempty"`
	Status         string    `json:"status"`
	Retries        int       `json:"retries"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}
