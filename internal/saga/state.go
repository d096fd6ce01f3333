// Package saga holds the order saga state machine: the status set, the
// explicit transition table, and the versioned state record every service
// reads and advances through optimistic concurrency.
//
// The machine is deliberately a pure function of (status, event type): a
// handler asks the table what the next status is, performs the side effect,
// records the outcome, and publishes. No handler mutates status fields ad hoc.
package saga

import (
	"errors"
	"slices"
	"time"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

// Status is the saga's lifecycle state for one order.
type Status string

const (
	StatusCreated                    Status = "CREATED"
	StatusInventoryReserving         Status = "INVENTORY_RESERVING"
	StatusInventoryReserved          Status = "INVENTORY_RESERVED"
	StatusInventoryReservationFailed Status = "INVENTORY_RESERVATION_FAILED"
	StatusPaymentAuthorizing         Status = "PAYMENT_AUTHORIZING"
	StatusPaymentAuthorized          Status = "PAYMENT_AUTHORIZED"
	StatusPaymentFailed              Status = "PAYMENT_FAILED"
	StatusShipping                   Status = "SHIPPING"
	StatusShipped                    Status = "SHIPPED"
	StatusInventoryReleasing         Status = "INVENTORY_RELEASING"
	StatusCancelled                  Status = "CANCELLED"
)

// Terminal reports whether the status ends the saga.
func (s Status) Terminal() bool {
	return s == StatusShipped || s == StatusCancelled
}

var (
	// ErrNotFound means no saga record exists for the order id.
	ErrNotFound = errors.New("saga not found")
	// ErrVersionConflict means another writer advanced the record between
	// our read and write. Re-read and retry.
	ErrVersionConflict = errors.New("saga version conflict")
	// ErrStaleEvent marks a duplicate or out-of-order artifact: the event
	// targets a state the saga has already moved past. Logged and
	// discarded, never applied.
	ErrStaleEvent = errors.New("stale or duplicate event")
	// ErrOutOfOrder means the event references progress not yet reflected
	// in the record; the transition is deferred with bounded backoff.
	ErrOutOfOrder = errors.New("event ahead of saga state")
)

// CompensationContext captures exactly what must be undone if the saga takes
// the compensating branch.
type CompensationContext struct {
	ReservationID string               `json:"reservation_id,omitempty"`
	ReservedItems []event.ReservedItem `json:"reserved_items,omitempty"`
	PaymentID     string               `json:"payment_id,omitempty"`
}

// State is the one record per order id, owned by whichever service's step is
// currently active and guarded by optimistic versioning.
type State struct {
	OrderID string `json:"order_id"`
	Status  Status `json:"status"`
	// Version increments on every transition; writes carry the version
	// they read and lose on mismatch.
	Version int64 `json:"version"`
	// History is the ordered list of applied event ids, for audit and as
	// an idempotency cross-check.
	History      []string            `json:"history"`
	Compensation CompensationContext `json:"compensation"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// NewState returns a freshly created saga record.
func NewState(orderID string) *State {
	now := time.Now().UTC()
	return &State{
		OrderID:   orderID,
		Status:    StatusCreated,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ApplyEvent advances the saga per the transition table and records the event
// id in the history. Returns ErrStaleEvent for duplicates and already-passed
// states, ErrOutOfOrder when the event is ahead of the record.
func (s *State) ApplyEvent(t event.Type, eventID string) error {
	if slices.Contains(s.History, eventID) {
		return ErrStaleEvent
	}

	next, err := Next(s.Status, t)
	if err != nil {
		return err
	}

	s.Status = next
	s.Version++
	s.History = append(s.History, eventID)
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// Complete records the outcome of the step the saga is currently working
// through (e.g. InventoryReserving → InventoryReserved). Only the performer
// of the step calls it, in the same handler invocation that began the step.
func (s *State) Complete(outcome Status) error {
	if !slices.Contains(outcomes[s.Status], outcome) {
		return ErrStaleEvent
	}
	s.Status = outcome
	s.Version++
	s.UpdatedAt = time.Now().UTC()
	return nil
}
