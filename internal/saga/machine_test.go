package saga

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/ecommerce-choreography/internal/event"
)

func TestForwardPathReachesShipped(t *testing.T) {
	s := NewState("order-1")

	require.NoError(t, s.ApplyEvent(event.TypeOrderCreated, "e1"))
	assert.Equal(t, StatusInventoryReserving, s.Status)
	require.NoError(t, s.Complete(StatusInventoryReserved))

	require.NoError(t, s.ApplyEvent(event.TypeInventoryReserved, "e2"))
	assert.Equal(t, StatusPaymentAuthorizing, s.Status)
	require.NoError(t, s.Complete(StatusPaymentAuthorized))

	require.NoError(t, s.ApplyEvent(event.TypePaymentAuthorized, "e3"))
	assert.Equal(t, StatusShipping, s.Status)
	require.NoError(t, s.Complete(StatusShipped))

	assert.True(t, s.Status.Terminal())
	assert.Equal(t, []string{"e1", "e2", "e3"}, s.History)
	assert.EqualValues(t, 7, s.Version, "every transition bumps the version")
}

func TestCompensationPathReachesCancelled(t *testing.T) {
	s := NewState("order-1")

	require.NoError(t, s.ApplyEvent(event.TypeOrderCreated, "e1"))
	require.NoError(t, s.Complete(StatusInventoryReserved))
	require.NoError(t, s.ApplyEvent(event.TypeInventoryReserved, "e2"))
	require.NoError(t, s.Complete(StatusPaymentFailed))

	require.NoError(t, s.ApplyEvent(event.TypePaymentFailed, "e3"))
	assert.Equal(t, StatusInventoryReleasing, s.Status)
	require.NoError(t, s.Complete(StatusCancelled))

	assert.True(t, s.Status.Terminal())
}

func TestReservationFailureCancelsDirectly(t *testing.T) {
	s := NewState("order-1")

	require.NoError(t, s.ApplyEvent(event.TypeOrderCreated, "e1"))
	require.NoError(t, s.Complete(StatusInventoryReservationFailed))

	require.NoError(t, s.ApplyEvent(event.TypeInventoryReservationFailed, "e2"))
	assert.Equal(t, StatusCancelled, s.Status)
}

func TestDuplicateEventIDIsStale(t *testing.T) {
	s := NewState("order-1")
	require.NoError(t, s.ApplyEvent(event.TypeOrderCreated, "e1"))

	err := s.ApplyEvent(event.TypeOrderCreated, "e1")
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, StatusInventoryReserving, s.Status, "duplicate must not move the saga")
}

func TestEventAgainstPassedStateIsStale(t *testing.T) {
	s := NewState("order-1")
	require.NoError(t, s.ApplyEvent(event.TypeOrderCreated, "e1"))
	require.NoError(t, s.Complete(StatusInventoryReservationFailed))
	require.NoError(t, s.ApplyEvent(event.TypeInventoryReservationFailed, "e2"))

	// PaymentAuthorized arriving while the saga is already Cancelled.
	err := s.ApplyEvent(event.TypePaymentAuthorized, "e3")
	assert.ErrorIs(t, err, ErrStaleEvent)
	assert.Equal(t, StatusCancelled, s.Status)
}

func TestEventAheadOfStateIsDeferred(t *testing.T) {
	s := NewState("order-1")

	// InventoryReserved before the reservation step even began locally.
	err := s.ApplyEvent(event.TypeInventoryReserved, "e9")
	assert.ErrorIs(t, err, ErrOutOfOrder)
	assert.Equal(t, StatusCreated, s.Status)
}

func TestCompleteValidatesOutcome(t *testing.T) {
	s := NewState("order-1")
	require.NoError(t, s.ApplyEvent(event.TypeOrderCreated, "e1"))

	// Reserving cannot complete straight into Shipped.
	assert.ErrorIs(t, s.Complete(StatusShipped), ErrStaleEvent)
	assert.Equal(t, StatusInventoryReserving, s.Status)
}

func TestInStep(t *testing.T) {
	// order.created begins InventoryReserving; working status and both
	// outcomes are inside the step, later statuses are not.
	assert.True(t, InStep(event.TypeOrderCreated, StatusInventoryReserving))
	assert.True(t, InStep(event.TypeOrderCreated, StatusInventoryReserved))
	assert.True(t, InStep(event.TypeOrderCreated, StatusInventoryReservationFailed))
	assert.False(t, InStep(event.TypeOrderCreated, StatusPaymentAuthorizing))
	assert.False(t, InStep(event.TypeOrderCreated, StatusCreated))

	// Terminal working status with no outcomes.
	assert.True(t, InStep(event.TypeInventoryReservationFailed, StatusCancelled))

	// Read-model-only events begin no step.
	assert.False(t, InStep(event.TypeOrderShipped, StatusShipped))
}

func TestConsumes(t *testing.T) {
	assert.True(t, Consumes(event.TypeOrderCreated))
	assert.True(t, Consumes(event.TypePaymentFailed))
	assert.False(t, Consumes(event.TypeInventoryReleased))
	assert.False(t, Consumes(event.TypeOrderShipped))
}

// Applying a fixed order's events in delivery order always lands on the same
// terminal state, whatever wall-clock gaps occur in between.
func TestReplayDeterminism(t *testing.T) {
	run := func() Status {
		s := NewState("order-1")
		steps := []struct {
			t       event.Type
			id      string
			outcome Status
		}{
			{event.TypeOrderCreated, "e1", StatusInventoryReserved},
			{event.TypeInventoryReserved, "e2", StatusPaymentFailed},
			{event.TypePaymentFailed, "e3", StatusCancelled},
		}
		for _, step := range steps {
			require.NoError(t, s.ApplyEvent(step.t, step.id))
			require.NoError(t, s.Complete(step.outcome))
		}
		return s.Status
	}

	first := run()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
	assert.Equal(t, StatusCancelled, first)
}
