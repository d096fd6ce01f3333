package saga

import (
	"fmt"
	"slices"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

// transitions is the explicit (source status × event type → target status)
// table. Each entry is the step a consumer begins when it observes the event;
// the matching outcome statuses live in the outcomes table below.
var transitions = map[event.Type]struct {
	from Status
	to   Status
}{
	event.TypeOrderCreated:               {StatusCreated, StatusInventoryReserving},
	event.TypeInventoryReserved:          {StatusInventoryReserved, StatusPaymentAuthorizing},
	event.TypePaymentAuthorized:          {StatusPaymentAuthorized, StatusShipping},
	event.TypePaymentFailed:              {StatusPaymentFailed, StatusInventoryReleasing},
	event.TypeInventoryReservationFailed: {StatusInventoryReservationFailed, StatusCancelled},
}

// outcomes lists the statuses a working step may legally complete into.
var outcomes = map[Status][]Status{
	StatusInventoryReserving: {StatusInventoryReserved, StatusInventoryReservationFailed},
	StatusPaymentAuthorizing: {StatusPaymentAuthorized, StatusPaymentFailed},
	StatusShipping:           {StatusShipped},
	StatusInventoryReleasing: {StatusCancelled},
}

// rank orders statuses along saga progress so an event can be classified as
// stale (state already moved past it) versus ahead of the local record
// (deferred). Branch statuses share the rank of the forward status they
// replace.
var rank = map[Status]int{
	StatusCreated:                    0,
	StatusInventoryReserving:         1,
	StatusInventoryReserved:          2,
	StatusInventoryReservationFailed: 2,
	StatusPaymentAuthorizing:         3,
	StatusPaymentAuthorized:          4,
	StatusPaymentFailed:              4,
	StatusShipping:                   5,
	StatusInventoryReleasing:         5,
	StatusShipped:                    6,
	StatusCancelled:                  6,
}

// Next looks up the transition for (from, t).
//
// An event whose required source status the saga has already moved past is a
// replay artifact: ErrStaleEvent, discard. An event whose source status the
// saga has not reached yet references causation not reflected locally:
// ErrOutOfOrder, defer and retry.
func Next(from Status, t event.Type) (Status, error) {
	tr, ok := transitions[t]
	if !ok {
		// Events with no entry (inventory.released, order.shipped) are
		// observational for state purposes; applying them is a caller bug.
		return "", fmt.Errorf("%w: no transition consumes %s", ErrStaleEvent, t)
	}

	if from == tr.from {
		return tr.to, nil
	}
	if rank[from] < rank[tr.from] {
		return "", fmt.Errorf("%w: %s requires %s, saga still at %s", ErrOutOfOrder, t, tr.from, from)
	}
	return "", fmt.Errorf("%w: %s requires %s, saga already at %s", ErrStaleEvent, t, tr.from, from)
}

// InStep reports whether status s lies inside the step t begins: the working
// status itself or one of its legal outcomes. Distinguishes a resumable
// redelivery from a genuinely stale event.
func InStep(t event.Type, s Status) bool {
	tr, ok := transitions[t]
	if !ok {
		return false
	}
	return s == tr.to || slices.Contains(outcomes[tr.to], s)
}

// Consumes reports whether the transition table has an entry for t, i.e.
// whether observing t advances saga state (as opposed to read-model-only
// events).
func Consumes(t event.Type) bool {
	_, ok := transitions[t]
	return ok
}
