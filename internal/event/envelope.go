// Package event defines the canonical event envelope exchanged over the
// partitioned log, the typed payloads for the order saga, and the schema
// registry that decodes versioned payloads.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type is the tagged variant name of an event.
type Type string

const (
	TypeOrderCreated               Type = "order.created"
	TypeInventoryReserved          Type = "inventory.reserved"
	TypeInventoryReservationFailed Type = "inventory.reservation_failed"
	TypeInventoryReleased          Type = "inventory.released"
	TypePaymentAuthorized          Type = "payment.authorized"
	TypePaymentFailed              Type = "payment.failed"
	TypeOrderShipped               Type = "order.shipped"
)

// Topic names, one per event family.
const (
	TopicOrders    = "orders"
	TopicInventory = "inventory"
	TopicPayments  = "payments"
	TopicShipping  = "shipping"
)

// Topic returns the log topic the event type is published to.
func (t Type) Topic() string {
	switch t {
	case TypeOrderCreated:
		return TopicOrders
	case TypeInventoryReserved, TypeInventoryReservationFailed, TypeInventoryReleased:
		return TopicInventory
	case TypePaymentAuthorized, TypePaymentFailed:
		return TopicPayments
	case TypeOrderShipped:
		return TopicShipping
	}
	return ""
}

// Envelope is the immutable wire shape of every event. Payload stays raw
// until the schema registry decodes it against (EventType, SchemaVersion).
type Envelope struct {
	// EventID uniquely identifies this event and doubles as the default
	// deduplication key for consumers.
	EventID string `json:"event_id"`

	EventType     Type `json:"event_type"`
	SchemaVersion int  `json:"schema_version"`

	OccurredAt time.Time `json:"occurred_at"`

	// CorrelationID is constant across an entire saga instance's lifetime.
	CorrelationID string `json:"correlation_id"`

	// CausationID is the id of the event that triggered this one.
	// Empty for root events.
	CausationID string `json:"causation_id,omitempty"`

	// PartitionKey routes the event; all events of one order share a
	// partition and therefore arrive in publish order. Here it is the order id.
	PartitionKey string `json:"partition_key"`

	Payload json.RawMessage `json:"payload"`
}

// ErrInvalidEnvelope marks envelopes that fail structural validation. They
// are never retried.
var ErrInvalidEnvelope = errors.New("invalid envelope")

// New builds a root envelope: a fresh correlation id and no causation.
func New(t Type, partitionKey string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s payload: %w", t, err)
	}
	return &Envelope{
		EventID:       uuid.NewString(),
		EventType:     t,
		SchemaVersion: 1,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.NewString(),
		PartitionKey:  partitionKey,
		Payload:       raw,
	}, nil
}

// Follow builds an envelope caused by parent: it inherits the correlation id
// and partition key and records the parent's event id as causation.
func Follow(parent *Envelope, t Type, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("event: marshal %s payload: %w", t, err)
	}
	return &Envelope{
		EventID:       uuid.NewString(),
		EventType:     t,
		SchemaVersion: 1,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: parent.CorrelationID,
		CausationID:   parent.EventID,
		PartitionKey:  parent.PartitionKey,
		Payload:       raw,
	}, nil
}

// Validate checks the structural invariants every envelope must satisfy
// before it reaches a handler.
func (e *Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return fmt.Errorf("%w: missing event_id", ErrInvalidEnvelope)
	case e.EventType == "":
		return fmt.Errorf("%w: missing event_type", ErrInvalidEnvelope)
	case e.SchemaVersion <= 0:
		return fmt.Errorf("%w: missing schema_version", ErrInvalidEnvelope)
	case e.CorrelationID == "":
		return fmt.Errorf("%w: missing correlation_id", ErrInvalidEnvelope)
	case e.PartitionKey == "":
		return fmt.Errorf("%w: missing partition_key", ErrInvalidEnvelope)
	}
	return nil
}
