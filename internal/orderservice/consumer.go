package orderservice

import (
	"context"
	"errors"
	"fmt"

	"github.com/jcmexdev/ecommerce-choreography/internal/choreo"
	"github.com/jcmexdev/ecommerce-choreography/internal/event"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/docstore"
	"github.com/jcmexdev/ecommerce-choreography/internal/pkg/retry"
	"github.com/jcmexdev/ecommerce-choreography/internal/saga"
)

// EventHandler projects saga progress back onto the order read model and
// settles the saga record when a reservation rejection short-circuits the
// whole flow.
type EventHandler struct {
	svc  *Service
	exec *choreo.Executor
}

// NewEventHandler wires the order service's consumer side.
func NewEventHandler(svc *Service, exec *choreo.Executor) *EventHandler {
	return &EventHandler{svc: svc, exec: exec}
}

// Handle dispatches by decoded payload type.
//
// Only inventory.reservation_failed advances the saga record here (nothing
// was reserved, so no compensating work remains and the order service closes
// the saga). The other events are projections: payment.failed stashes the
// reason while inventory releases stock, inventory.released and
// order.shipped settle the client-visible status.
func (h *EventHandler) Handle(ctx context.Context, env *event.Envelope, payload any) (string, error) {
	switch p := payload.(type) {
	case *event.InventoryReservationFailed:
		return h.cancelRejected(ctx, env, p)

	case *event.PaymentFailed:
		return "reason recorded", h.project(ctx, p.OrderID, func(s *Service, ctx context.Context) error {
			return s.recordFailureReason(ctx, p.OrderID, p.Reason)
		})

	case *event.InventoryReleased:
		return "order cancelled", h.project(ctx, p.OrderID, func(s *Service, ctx context.Context) error {
			return s.markCancelled(ctx, p.OrderID, "payment failed")
		})

	case *event.OrderShipped:
		return "order shipped", h.project(ctx, p.OrderID, func(s *Service, ctx context.Context) error {
			return s.markShipped(ctx, p.OrderID, p.ShipmentID)
		})

	default:
		return "ignored", nil
	}
}

// cancelRejected closes the saga when stock was never reserved: the record
// moves straight to Cancelled and the order settles with the rejection
// reason. No follow-up event; nothing downstream is waiting.
func (h *EventHandler) cancelRejected(ctx context.Context, env *event.Envelope, p *event.InventoryReservationFailed) (string, error) {
	return h.exec.Run(ctx, env, func(ctx context.Context, st *saga.State) (choreo.Outcome, error) {
		if err := h.svc.markCancelled(ctx, p.OrderID, p.Reason); err != nil {
			return choreo.Outcome{}, classify(err)
		}
		return choreo.Outcome{Result: "order cancelled"}, nil
	})
}

// project applies a read model update, classifying store failures for the
// consumer loop.
func (h *EventHandler) project(ctx context.Context, orderID string, apply func(*Service, context.Context) error) error {
	return classify(apply(h.svc, ctx))
}

// classify maps read model errors onto the consumer taxonomy: a missing
// order document means the event outran the intake write (defer); anything
// else from the store is transient.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, docstore.ErrNotFound):
		return fmt.Errorf("%w: %v", saga.ErrOutOfOrder, err)
	case errors.Is(err, docstore.ErrConflict):
		return fmt.Errorf("%w: %v", saga.ErrVersionConflict, err)
	default:
		return retry.Transient(err)
	}
}
